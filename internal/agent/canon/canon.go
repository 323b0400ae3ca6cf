// Package canon produces a canonical JSON encoding: object keys sorted,
// numbers normalized, no insignificant whitespace, no HTML escaping. Two
// documents that differ only in key order or number spelling encode to the
// same bytes and so hash to the same value.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sort"
	"strconv"
	"strings"
)

// HashPrefix tags hashes with their algorithm.
const HashPrefix = "sha256:"

// Marshal returns the canonical encoding of v.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Canonicalize(raw)
}

// Canonicalize re-encodes a JSON document canonically.
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("canonicalize: trailing data after document")
	}
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns HashPrefix followed by the hex SHA-256 of the canonical
// encoding of raw.
func Hash(raw []byte) (string, error) {
	c, err := Canonicalize(raw)
	if err != nil {
		return "", err
	}
	return HashBytes(c), nil
}

// HashBytes hashes bytes that are already canonical.
func HashBytes(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return HashPrefix + hex.EncodeToString(sum[:])
}

// MarshalAndHash canonicalizes v and returns the bytes with their hash.
func MarshalAndHash(v any) ([]byte, string, error) {
	c, err := Marshal(v)
	if err != nil {
		return nil, "", err
	}
	return c, HashBytes(c), nil
}

func encode(buf *bytes.Buffer, v any) error {
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
		n, err := normalizeNumber(t)
		if err != nil {
			return err
		}
		buf.WriteString(n)
	case string:
		return encodeString(buf, t)
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, e); err != nil {
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
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encode(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonicalize: unexpected %T", v)
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encoder appends a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}

// maxExponent bounds the decimal exponent accepted in a number so that exact
// expansion stays small.
const maxExponent = 400

var (
	bigTwo  = big.NewInt(2)
	bigFive = big.NewInt(5)
)

// normalizeNumber spells a number by its exact value: integers as plain
// digits and everything else as the shortest exact decimal. 1, 1.0 and 1e0
// agree; distinct values never share a spelling.
func normalizeNumber(n json.Number) (string, error) {
	s := string(n)
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		exp, err := strconv.Atoi(strings.TrimPrefix(s[i+1:], "+"))
		if err != nil || exp > maxExponent || exp < -maxExponent {
			return "", fmt.Errorf("canonicalize: number %q out of range", n)
		}
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return "", fmt.Errorf("canonicalize: invalid number %q", n)
	}
	if r.IsInt() {
		return r.Num().String(), nil
	}
	// Decimal input has a denominator of the form 2^a * 5^b, which needs
	// max(a, b) fractional digits to print exactly.
	d := new(big.Int).Set(r.Denom())
	twos, fives := 0, 0
	mod := new(big.Int)
	for {
		q, m := new(big.Int).QuoRem(d, bigTwo, mod)
		if m.Sign() != 0 {
			break
		}
		d, twos = q, twos+1
	}
	for {
		q, m := new(big.Int).QuoRem(d, bigFive, mod)
		if m.Sign() != 0 {
			break
		}
		d, fives = q, fives+1
	}
	return r.FloatString(max(twos, fives)), nil
}
