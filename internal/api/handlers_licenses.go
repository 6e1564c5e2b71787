package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/org/licenseserver/internal/lserr"
)

// LicenseCreateHandler handles POST /licenses[.json]. Issuance always
// requires a valid signature.
func (s *Server) LicenseCreateHandler(w http.ResponseWriter, r *http.Request) {
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

	view, err := s.vault.Create(r.Context(), caller.Name,
		paramString(params, "content_id"), paramString(params, "sequence_id"))
	if err != nil {
		writeErr(w, jsonFormat, err)
		return
	}
	writeBody(w, jsonFormat, http.StatusOK, view)
}

// LicenseGetHandler handles GET /licenses/{content_id}[.json]. A signature
// is demanded only from providers flagged check_sign; providers flagged
// check_token must additionally present a valid one-time token. Without the
// .json suffix the body is the bare hex license.
func (s *Server) LicenseGetHandler(w http.ResponseWriter, r *http.Request) {
	contentID, jsonFormat := splitFormat(chi.URLParam(r, "content_id"))

	params, err := parseParams(r)
	if err != nil {
		writeErr(w, jsonFormat, err)
		return
	}
	params["content_id"] = contentID

	caller, err := s.authenticate(r.Context(), params)
	if err != nil {
		writeErr(w, jsonFormat, err)
		return
	}
	if caller.Flags.CheckSign {
		if err := requireSignature(params, caller); err != nil {
			writeErr(w, jsonFormat, err)
			return
		}
	}
	if caller.Flags.CheckToken {
		tok := paramString(params, "token")
		if err := s.tokens.Verify(r.Context(), tok, caller.SignIV, caller.SignKey); err != nil {
			// A bad token on this route is a permission failure, not an
			// authentication failure: the wire contract is 403.
			if !errors.Is(err, lserr.ErrInternal) {
				err = fmt.Errorf("%w: Missing or invalid token", lserr.ErrForbidden)
			}
			writeErr(w, jsonFormat, err)
			return
		}
	}

	licenseHex, err := s.vault.Get(r.Context(), caller.Name, contentID,
		paramString(params, "sequence_id"))
	if err != nil {
		writeErr(w, jsonFormat, err)
		return
	}
	writeBody(w, jsonFormat, http.StatusOK, licenseHex)
}
