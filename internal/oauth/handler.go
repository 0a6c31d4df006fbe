package oauth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/madkernel/server/internal/httplimit"
)

// MaxPostLen bounds the token endpoint's POST body.
const MaxPostLen = 64 * 1024

// Handler serves the OAuth token endpoint: one POST handler dispatching on
// grant_type, compared case-insensitively, against parameters looked up
// case-sensitively by name.
type Handler struct {
	Tokens *TokenService
	Codes  *CodeStore
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(errorBody{Error: kind})
}

// writeGrantError maps err onto a wire error kind. Anything that is not a
// GrantError (a store failure, a token-service failure) collapses to
// invalid_grant so internal error text never reaches the response body.
func writeGrantError(w http.ResponseWriter, err error) {
	var ge GrantError
	if errors.As(err, &ge) {
		writeError(w, string(ge))
		return
	}
	writeError(w, string(ErrInvalidGrant))
}

func writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, string(ErrInvalidRequest))
		return
	}

	body, ok := httplimit.ReadAllWithLimit(r.Body, r.ContentLength, MaxPostLen)
	if !ok {
		writeError(w, string(ErrInvalidRequest))
		return
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		writeError(w, string(ErrInvalidRequest))
		return
	}

	grantType := strings.ToLower(form.Get("grant_type"))

	ctx := r.Context()

	switch grantType {
	case strings.ToLower(GrantTypeAuthorizationCode):
		code := form.Get("code")
		clientID := form.Get("client_id")
		redirectURI := form.Get("redirect_uri")
		if code == "" || clientID == "" || redirectURI == "" {
			writeError(w, string(ErrInvalidRequest))
			return
		}
		resp, err := h.Codes.RedeemAuthorizationCode(ctx, h.Tokens, code, clientID, redirectURI)
		if err != nil {
			writeGrantError(w, err)
			return
		}
		writeResponse(w, resp)

	case strings.ToLower(GrantTypeDeviceCode):
		deviceCode := form.Get("device_code")
		clientID := form.Get("client_id")
		if deviceCode == "" || clientID == "" {
			writeError(w, string(ErrInvalidClient))
			return
		}
		resp, err := h.Codes.RedeemDeviceCode(ctx, h.Tokens, deviceCode, clientID)
		if err != nil {
			writeGrantError(w, err)
			return
		}
		writeResponse(w, resp)

	case GrantTypeRefreshToken:
		refreshToken := form.Get("refresh_token")
		if refreshToken == "" {
			writeError(w, string(ErrInvalidRequest))
			return
		}
		resp, err := h.Tokens.Refresh(ctx, refreshToken)
		if err != nil {
			writeError(w, string(ErrInvalidGrant))
			return
		}
		writeResponse(w, resp)

	default:
		writeError(w, string(ErrInvalidGrant))
	}
}
