package oauth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/madkernel/server/internal/oauth"
)

type testErrorBody struct {
	Error string `json:"error"`
}

func newHandlerFixture(t *testing.T) (*oauth.Handler, *oauth.CodeStore) {
	t.Helper()
	cs, ts := newCodeFixture(t)
	return &oauth.Handler{Tokens: ts, Codes: cs}, cs
}

func postForm(t *testing.T, h *oauth.Handler, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body testErrorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

// A device code still awaiting approval yields 400 with
// {"error": "authorization_pending"} on the wire.
func TestHandlerDeviceCodePending(t *testing.T) {
	h, cs := newHandlerFixture(t)
	if err := cs.Put(context.Background(), "dev1", oauth.Code{ClientID: "client-a", AccountID: 1, Status: oauth.Pending}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	w := postForm(t, h, url.Values{
		"grant_type":  {oauth.GrantTypeDeviceCode},
		"device_code": {"dev1"},
		"client_id":   {"client-a"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if kind := decodeErrorBody(t, w); kind != "authorization_pending" {
		t.Errorf("expected authorization_pending, got %q", kind)
	}
}

func TestHandlerAuthorizationCodeHappyPath(t *testing.T) {
	h, cs := newHandlerFixture(t)
	if err := cs.Put(context.Background(), "abc", oauth.Code{ClientID: "client-a", Params: "https://cb", AccountID: 1, Status: oauth.Authorized}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	w := postForm(t, h, url.Values{
		"grant_type":   {oauth.GrantTypeAuthorizationCode},
		"code":         {"abc"},
		"client_id":    {"client-a"},
		"redirect_uri": {"https://cb"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp oauth.Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.AccessToken == "" || resp.TokenType != "bearer" || resp.RefreshToken == nil {
		t.Errorf("incomplete response: %+v", resp)
	}
}

func TestHandlerRefreshFlow(t *testing.T) {
	h, _ := newHandlerFixture(t)
	refreshTok, _, err := h.Tokens.IssueCustom(context.Background(), 1, oauth.GrantRefreshToken, "client-a", 24*time.Hour)
	if err != nil {
		t.Fatalf("IssueCustom: %v", err)
	}

	w := postForm(t, h, url.Values{
		"grant_type":    {oauth.GrantTypeRefreshToken},
		"refresh_token": {refreshTok},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp oauth.Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Errorf("expected a fresh access token, got %+v", resp)
	}
}

func TestHandlerGrantTypeIsCaseInsensitive(t *testing.T) {
	h, cs := newHandlerFixture(t)
	if err := cs.Put(context.Background(), "abc", oauth.Code{ClientID: "client-a", Params: "https://cb", AccountID: 1, Status: oauth.Authorized}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	w := postForm(t, h, url.Values{
		"grant_type":   {"Authorization_Code"},
		"code":         {"abc"},
		"client_id":    {"client-a"},
		"redirect_uri": {"https://cb"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for mixed-case grant_type, got %d", w.Code)
	}
}

func TestHandlerUnknownGrantTypeIsInvalidGrant(t *testing.T) {
	h, _ := newHandlerFixture(t)
	w := postForm(t, h, url.Values{"grant_type": {"password"}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if kind := decodeErrorBody(t, w); kind != "invalid_grant" {
		t.Errorf("expected invalid_grant, got %q", kind)
	}
}

func TestHandlerMissingDeviceParamsIsInvalidClient(t *testing.T) {
	h, _ := newHandlerFixture(t)
	w := postForm(t, h, url.Values{"grant_type": {oauth.GrantTypeDeviceCode}})
	if kind := decodeErrorBody(t, w); kind != "invalid_client" {
		t.Errorf("expected invalid_client, got %q", kind)
	}
}

func TestHandlerMissingAuthorizationParamsIsInvalidRequest(t *testing.T) {
	h, _ := newHandlerFixture(t)
	w := postForm(t, h, url.Values{"grant_type": {oauth.GrantTypeAuthorizationCode}, "code": {"abc"}})
	if kind := decodeErrorBody(t, w); kind != "invalid_request" {
		t.Errorf("expected invalid_request, got %q", kind)
	}
}

func TestHandlerRejectsOversizeBody(t *testing.T) {
	h, _ := newHandlerFixture(t)
	big := strings.Repeat("a", oauth.MaxPostLen+1)
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader("grant_type="+big))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversize body, got %d", w.Code)
	}
	if kind := decodeErrorBody(t, w); kind != "invalid_request" {
		t.Errorf("expected invalid_request, got %q", kind)
	}
}

func TestHandlerRejectsNonPost(t *testing.T) {
	h, _ := newHandlerFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/oauth/token", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for GET, got %d", w.Code)
	}
}
