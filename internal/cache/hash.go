// Package cache implements the canonical content hasher and the tiered
// enrichment cache (hot in-memory or Redis, warm session store, cold blob
// store) with promotion on hit.
package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

// CanonicalJSON renders any JSON-like value in a deterministic byte form:
// object keys sorted, strings NFC-normalised with whitespace runs collapsed
// to single spaces, HTML escaping off, numbers kept in their literal form.
// Two values that differ only in key order or string whitespace produce the
// same bytes.
func CanonicalJSON(v any) ([]byte, error) {
	tree, err := toTree(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ContentHash returns the sha256 hex digest of the canonical form of v.
func ContentHash(v any) (string, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Hash8 returns the first eight hex characters of ContentHash, used in
// cache key suffixes.
func Hash8(v any) (string, error) {
	h, err := ContentHash(v)
	if err != nil {
		return "", err
	}
	return h[:8], nil
}

// toTree round-trips v through encoding/json so that structs, maps, and
// slices all normalise to the same tree shape. Numbers decode as
// json.Number to keep their literal form stable across round trips.
func toTree(v any) (any, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, eris.Wrap(err, "cache: canonical encode")
	}

	dec := json.NewDecoder(&buf)
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, eris.Wrap(err, "cache: canonical decode")
	}
	return tree, nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(t.String())
	case string:
		return writeCanonicalString(buf, t)
	case []any:
		buf.WriteByte('[')
		for i, el := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, el); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return eris.Errorf("cache: unsupported canonical type %T", v)
	}
	return nil
}

func writeCanonicalString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(canonicalString(s)); err != nil {
		return eris.Wrap(err, "cache: encode string")
	}
	// Encoder appends a newline; canonical form has none.
	buf.Truncate(buf.Len() - 1)
	return nil
}

// canonicalString NFC-normalises and collapses all whitespace runs to a
// single space, trimming the ends.
func canonicalString(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}
