package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/org/licenseserver/internal/lserr"
	"github.com/org/licenseserver/internal/sign"
	"github.com/org/licenseserver/pkg/models"
)

// ProviderCreateHandler handles POST /providers[.json]. The caller must sign
// the request and hold the manage_providers flag.
func (s *Server) ProviderCreateHandler(w http.ResponseWriter, r *http.Request) {
	_, jsonFormat := splitFormat(r.URL.Path)

	params, err := parseParams(r)
	if err != nil {
		writeErr(w, jsonFormat, err)
		return
	}
	caller, err := s.authenticate(r.Context(), params)
	if err != nil {
		writeErr(w, jsonFormat, err)
		return
	}
	if err := requireSignature(params, caller); err != nil {
		writeErr(w, jsonFormat, err)
		return
	}
	if !caller.Flags.ManageProviders {
		writeErr(w, jsonFormat, lserr.ErrForbidden)
		return
	}

	view, err := s.providers.Create(r.Context(), paramString(params, "name"), flagsParam(params))
	if err != nil {
		writeErr(w, jsonFormat, err)
		return
	}
	writeBody(w, jsonFormat, http.StatusOK, view)
}

// ProviderDestroyHandler handles DELETE /providers/{name}[.json]. The name
// from the path is part of the signed parameter set.
func (s *Server) ProviderDestroyHandler(w http.ResponseWriter, r *http.Request) {
	name, jsonFormat := splitFormat(chi.URLParam(r, "name"))

	params, err := parseParams(r)
	if err != nil {
		writeErr(w, jsonFormat, err)
		return
	}
	params["name"] = name

	caller, err := s.authenticate(r.Context(), params)
	if err != nil {
		writeErr(w, jsonFormat, err)
		return
	}
	if err := requireSignature(params, caller); err != nil {
		writeErr(w, jsonFormat, err)
		return
	}
	if !caller.Flags.ManageProviders {
		writeErr(w, jsonFormat, lserr.ErrForbidden)
		return
	}

	view, err := s.providers.Destroy(r.Context(), name)
	if err != nil {
		writeErr(w, jsonFormat, err)
		return
	}
	writeBody(w, jsonFormat, http.StatusOK, view)
}

// flagsParam decodes the optional flags parameter. Unknown capability names
// are ignored at this boundary; only the closed named set survives.
func flagsParam(params sign.Params) models.Flags {
	v, ok := params["flags"]
	if !ok {
		return models.Flags{}
	}

	var m map[string]any
	switch t := v.(type) {
	case json.RawMessage:
		if err := json.Unmarshal(t, &m); err != nil {
			return models.Flags{}
		}
	case map[string]any:
		m = t
	default:
		return models.Flags{}
	}

	return models.Flags{
		CheckSign:       truthy(m["check_sign"]),
		CheckToken:      truthy(m["check_token"]),
		ManageProviders: truthy(m["manage_providers"]),
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case json.Number:
		return t.String() != "0"
	case string:
		return t == "1" || t == "true"
	default:
		return false
	}
}
