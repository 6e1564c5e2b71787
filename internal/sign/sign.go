// Package sign implements the request signature scheme shared with existing
// provider clients: the canonicalized parameter string is SHA-1 hashed,
// zero-padded to 32 bytes, encrypted as two raw AES-256-CBC blocks, and
// base64 encoded. The byte layout is fixed by deployed clients and must not
// be replaced with a standard MAC.
package sign

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/org/licenseserver/internal/crypto"
)

// SignField is the parameter carrying the signature itself. It is always
// excluded from canonicalization.
const SignField = "sign"

// Params is a flat parameter map as parsed from a request body or query
// string. Nested objects arriving over the wire should be kept as
// json.RawMessage so the signature is computed over the client's own
// serialization rather than a re-marshaled one.
type Params map[string]any

// Canonicalize serializes params into a deterministic percent-encoded
// query-string form: the sign field is dropped, each key=value pair is
// encoded, and pairs are sorted lexicographically. The output is independent
// of the caller's field ordering.
func Canonicalize(params Params) string {
	pairs := make([]string, 0, len(params))
	for k, v := range params {
		if k == SignField {
			continue
		}
		pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(stringify(v)))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}

// Sign computes the signature over params with the provider's signing pair.
func Sign(params Params, iv, key []byte) (string, error) {
	digest := sha1.Sum([]byte(Canonicalize(params)))

	block := make([]byte, crypto.SignBlockLength)
	copy(block, digest[:])
	// remaining 12 bytes stay zero

	enc, err := crypto.EncryptSignBlock(block, iv, key)
	if err != nil {
		return "", fmt.Errorf("encrypting signature: %w", err)
	}
	return base64.StdEncoding.EncodeToString(enc), nil
}

// Verify recomputes the signature and compares it with the sign field.
// Returns false when the field is absent, malformed key material is supplied,
// or the values differ. The comparison is plain string equality.
func Verify(params Params, iv, key []byte) bool {
	provided, ok := params[SignField]
	if !ok {
		return false
	}
	sig, ok := provided.(string)
	if !ok || sig == "" {
		return false
	}
	expected, err := Sign(params, iv, key)
	if err != nil {
		return false
	}
	return sig == expected
}

// stringify renders one parameter value the way clients serialize it:
// scalars as plain text, nested structures as compact JSON.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.RawMessage:
		var buf bytes.Buffer
		if err := json.Compact(&buf, t); err != nil {
			return string(t)
		}
		return buf.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
