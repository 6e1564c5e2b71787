package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/org/licenseserver/internal/lserr"
	"github.com/org/licenseserver/internal/sign"
)

// parseParams extracts the flat parameter map a handler authenticates and
// acts on: the query string for GET, the JSON body otherwise. Nested body
// values are kept as raw JSON so signatures verify over the client's own
// serialization.
func parseParams(r *http.Request) (sign.Params, error) {
	if r.Method == http.MethodGet {
		params := sign.Params{}
		for k, vs := range r.URL.Query() {
			if len(vs) > 0 {
				params[k] = vs[0]
			}
		}
		return params, nil
	}

	var raw map[string]json.RawMessage
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %s", lserr.ErrInvalidArgument, "cannot parse body")
	}

	params := make(sign.Params, len(raw))
	for k, v := range raw {
		params[k] = decodeValue(v)
	}
	return params, nil
}

// decodeValue turns one raw JSON value into its canonical in-memory form:
// scalars are unwrapped, objects and arrays stay as the client's bytes.
func decodeValue(raw json.RawMessage) any {
	if len(raw) > 0 && (raw[0] == '{' || raw[0] == '[') {
		return raw
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return string(raw)
	}
	return v
}

// paramString renders one parameter as the string form validation expects.
// Absent values yield "".
func paramString(params sign.Params, key string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
