// unique_id.go: namespace + tags identity for cache entries
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package vela

import (
	"fmt"
	"strconv"
	"strings"
)

// SurrogateKey is one tag of a UniqueID. Supported values are strings,
// integers, floats, bools and fmt.Stringer implementations. Nil is not a
// valid tag.
type SurrogateKey = any

const tagSeparator = "\x1f"

// UniqueID identifies a cache entry by namespace and an ordered list of
// tags. It is comparable and can be used directly as a map key.
//
// Tags are stored in a canonical, typed encoding: int(1) and int64(1) are
// different tags, and a fmt.Stringer tag is kept as its string form.
type UniqueID struct {
	namespace string
	tags      string
}

// NewUniqueID builds an id from namespace and tags.
func NewUniqueID(namespace string, tags ...SurrogateKey) (UniqueID, error) {
	parts := make([]string, len(tags))
	for i, tag := range tags {
		enc, ok := encodeTag(tag)
		if !ok {
			return UniqueID{}, NewErrInvalidTag(namespace, i, tag)
		}
		parts[i] = enc
	}
	return UniqueID{namespace: namespace, tags: strings.Join(parts, tagSeparator)}, nil
}

// MustUniqueID is like NewUniqueID but panics on an invalid tag. It is
// meant for keys declared at package level.
func MustUniqueID(namespace string, tags ...SurrogateKey) UniqueID {
	id, err := NewUniqueID(namespace, tags...)
	if err != nil {
		panic(err)
	}
	return id
}

// Namespace returns the id namespace.
func (id UniqueID) Namespace() string {
	return id.namespace
}

// IsZero reports whether id is the zero UniqueID.
func (id UniqueID) IsZero() bool {
	return id == UniqueID{}
}

// Tags returns the tags in order. Stringer tags come back as strings.
func (id UniqueID) Tags() []SurrogateKey {
	parts := id.parts()
	tags := make([]SurrogateKey, len(parts))
	for i, p := range parts {
		tags[i] = decodeTag(p)
	}
	return tags
}

// HasTag reports whether tag is one of the id's tags.
func (id UniqueID) HasTag(tag SurrogateKey) bool {
	enc, ok := encodeTag(tag)
	if !ok {
		return false
	}
	for _, p := range id.parts() {
		if p == enc {
			return true
		}
	}
	return false
}

// HasAnyTag reports whether at least one of tags belongs to the id.
func (id UniqueID) HasAnyTag(tags ...SurrogateKey) bool {
	for _, tag := range tags {
		if id.HasTag(tag) {
			return true
		}
	}
	return false
}

// String returns a readable form such as todos["user",42].
func (id UniqueID) String() string {
	var b strings.Builder
	b.WriteString(id.namespace)
	b.WriteByte('[')
	for i, p := range id.parts() {
		if i > 0 {
			b.WriteByte(',')
		}
		_, value, _ := strings.Cut(p, ":")
		b.WriteString(value)
	}
	b.WriteByte(']')
	return b.String()
}

// flightKey is an unambiguous string form used to deduplicate fetches.
func (id UniqueID) flightKey() string {
	return strconv.Quote(id.namespace) + tagSeparator + id.tags
}

func (id UniqueID) parts() []string {
	if id.tags == "" {
		return nil
	}
	return strings.Split(id.tags, tagSeparator)
}

// encodeTag returns "type:value". Strings are quoted, so the separator
// never appears inside an encoded tag.
func encodeTag(tag SurrogateKey) (string, bool) {
	switch v := tag.(type) {
	case nil:
		return "", false
	case string:
		return "string:" + strconv.Quote(v), true
	case int:
		return "int:" + strconv.Itoa(v), true
	case int8:
		return "int8:" + strconv.FormatInt(int64(v), 10), true
	case int16:
		return "int16:" + strconv.FormatInt(int64(v), 10), true
	case int32:
		return "int32:" + strconv.FormatInt(int64(v), 10), true
	case int64:
		return "int64:" + strconv.FormatInt(v, 10), true
	case uint:
		return "uint:" + strconv.FormatUint(uint64(v), 10), true
	case uint8:
		return "uint8:" + strconv.FormatUint(uint64(v), 10), true
	case uint16:
		return "uint16:" + strconv.FormatUint(uint64(v), 10), true
	case uint32:
		return "uint32:" + strconv.FormatUint(uint64(v), 10), true
	case uint64:
		return "uint64:" + strconv.FormatUint(v, 10), true
	case float32:
		return "float32:" + strconv.FormatFloat(float64(v), 'g', -1, 32), true
	case float64:
		return "float64:" + strconv.FormatFloat(v, 'g', -1, 64), true
	case bool:
		return "bool:" + strconv.FormatBool(v), true
	case fmt.Stringer:
		return "string:" + strconv.Quote(v.String()), true
	default:
		return "", false
	}
}

func decodeTag(enc string) SurrogateKey {
	typ, value, _ := strings.Cut(enc, ":")
	switch typ {
	case "string":
		s, _ := strconv.Unquote(value)
		return s
	case "int":
		n, _ := strconv.Atoi(value)
		return n
	case "int8":
		n, _ := strconv.ParseInt(value, 10, 8)
		return int8(n)
	case "int16":
		n, _ := strconv.ParseInt(value, 10, 16)
		return int16(n)
	case "int32":
		n, _ := strconv.ParseInt(value, 10, 32)
		return int32(n)
	case "int64":
		n, _ := strconv.ParseInt(value, 10, 64)
		return n
	case "uint":
		n, _ := strconv.ParseUint(value, 10, 64)
		return uint(n)
	case "uint8":
		n, _ := strconv.ParseUint(value, 10, 8)
		return uint8(n)
	case "uint16":
		n, _ := strconv.ParseUint(value, 10, 16)
		return uint16(n)
	case "uint32":
		n, _ := strconv.ParseUint(value, 10, 32)
		return uint32(n)
	case "uint64":
		n, _ := strconv.ParseUint(value, 10, 64)
		return n
	case "float32":
		f, _ := strconv.ParseFloat(value, 32)
		return float32(f)
	case "float64":
		f, _ := strconv.ParseFloat(value, 64)
		return f
	case "bool":
		b, _ := strconv.ParseBool(value)
		return b
	default:
		return value
	}
}
