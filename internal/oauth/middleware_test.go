package oauth_test

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/MrWong99/castforge/internal/oauth"
)

// protectedEcho records the RequestContext the middleware injected.
func protectedEcho(got *oauth.RequestContext) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc, ok := oauth.FromContext(r.Context())
		if !ok {
			http.Error(w, "no request context", http.StatusInternalServerError)
			return
		}
		*got = rc
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	t.Parallel()

	srv := oauth.New(oauth.Options{Issuer: "https://cf.example.com"})
	var rc oauth.RequestContext
	ts := httptest.NewServer(srv.RequireAuth(protectedEcho(&rc)))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if got := resp.Header.Get("WWW-Authenticate"); got == "" || got[:6] != "Bearer" {
		t.Errorf("WWW-Authenticate = %q, want Bearer challenge", got)
	}
}

func TestRequireAuthAcceptsAPIKey(t *testing.T) {
	t.Parallel()

	srv := oauth.New(oauth.Options{APIKeys: []string{"sk-castforge-test"}})
	var rc oauth.RequestContext
	ts := httptest.NewServer(srv.RequireAuth(protectedEcho(&rc)))
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	req.Header.Set("Authorization", "Bearer sk-castforge-test")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if rc.ClientID != "api-key" {
		t.Errorf("client id = %q, want api-key", rc.ClientID)
	}
	if !rc.HasScope(oauth.ScopeAdmin) || !rc.HasScope(oauth.ScopeWrite) {
		t.Errorf("api key should carry the full scope set, got %v", rc.Scopes)
	}
	if rc.RequestID == "" {
		t.Error("request id missing")
	}
}

func TestRequireAuthLocalBypass(t *testing.T) {
	t.Parallel()

	srv := oauth.New(oauth.Options{LocalBypass: true})
	var rc oauth.RequestContext
	ts := httptest.NewServer(srv.RequireAuth(protectedEcho(&rc)))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204 without credentials in local mode", resp.StatusCode)
	}
	if rc.ClientID != "local" || !rc.HasScope(oauth.ScopeAdmin) {
		t.Errorf("local bypass context = %+v", rc)
	}
}

func TestRequireAuthAcceptsIssuedToken(t *testing.T) {
	t.Parallel()

	srv := oauth.New(oauth.Options{Issuer: "https://cf.example.com"})
	mux := http.NewServeMux()
	srv.Routes(mux)
	authTS := httptest.NewServer(mux)
	defer authTS.Close()

	// Walk the full flow to get a real token scoped to mcp.read only.
	reg := registerClient(t, authTS, redirectURI)
	clientID := reg["client_id"].(string)
	verifier := "middleware-verifier-0123456789-0123456789"
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])
	code := approveAndGetCode(t, authTS, clientID, challenge, "mcp.read")
	resp, err := http.PostForm(authTS.URL+"/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {clientID},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {verifier},
	})
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	defer resp.Body.Close()
	var tok map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		t.Fatalf("decode token: %v", err)
	}

	var rc oauth.RequestContext
	protected := httptest.NewServer(srv.RequireAuth(protectedEcho(&rc)))
	defer protected.Close()

	req, _ := http.NewRequest(http.MethodGet, protected.URL, nil)
	req.Header.Set("Authorization", "Bearer "+tok["access_token"].(string))
	got, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer got.Body.Close()
	if got.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", got.StatusCode)
	}
	if rc.ClientID != clientID {
		t.Errorf("client id = %q, want %q", rc.ClientID, clientID)
	}
	if !rc.HasScope(oauth.ScopeRead) || rc.HasScope(oauth.ScopeWrite) {
		t.Errorf("scopes = %v, want read only", rc.Scopes)
	}
}

func TestRequireAuthRejectsGarbageToken(t *testing.T) {
	t.Parallel()

	srv := oauth.New(oauth.Options{APIKeys: []string{"sk-real"}})
	var rc oauth.RequestContext
	ts := httptest.NewServer(srv.RequireAuth(protectedEcho(&rc)))
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	req.Header.Set("Authorization", "Bearer sk-wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}
