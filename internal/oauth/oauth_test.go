package oauth_test

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/MrWong99/castforge/internal/oauth"
)

const redirectURI = "https://client.example.com/callback"

func newTestServer(t *testing.T, opts oauth.Options) (*oauth.Server, *httptest.Server) {
	t.Helper()
	if opts.Issuer == "" {
		opts.Issuer = "https://castforge.example.com"
	}
	srv := oauth.New(opts)
	mux := http.NewServeMux()
	srv.Routes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, ts
}

func registerClient(t *testing.T, ts *httptest.Server, redirectURIs ...string) map[string]any {
	t.Helper()
	body, _ := json.Marshal(map[string]any{
		"client_name":   "test client",
		"redirect_uris": redirectURIs,
	})
	resp, err := http.Post(ts.URL+"/oauth/register", "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", resp.StatusCode)
	}
	var reg map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
		t.Fatalf("decode registration: %v", err)
	}
	return reg
}

// approveAndGetCode walks the consent form and returns the issued code.
func approveAndGetCode(t *testing.T, ts *httptest.Server, clientID, challenge, scope string) string {
	t.Helper()
	form := url.Values{
		"client_id":             {clientID},
		"redirect_uri":          {redirectURI},
		"response_type":         {"code"},
		"scope":                 {scope},
		"state":                 {"xyz"},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
		"decision":              {"approve"},
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.PostForm(ts.URL+"/oauth/authorize", form)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("authorize status = %d, want 302", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	if got := loc.Query().Get("state"); got != "xyz" {
		t.Fatalf("state = %q, want xyz", got)
	}
	code := loc.Query().Get("code")
	if code == "" {
		t.Fatalf("redirect %q carries no code", loc)
	}
	return code
}

func pkcePair() (verifier, challenge string) {
	verifier = "test-verifier-0123456789-0123456789-0123456789"
	sum := sha256.Sum256([]byte(verifier))
	return verifier, base64.RawURLEncoding.EncodeToString(sum[:])
}

func exchangeCode(t *testing.T, ts *httptest.Server, clientID, code, verifier string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.PostForm(ts.URL+"/oauth/token", url.Values{
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
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	return resp, body
}

func TestDiscoveryDocument(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, oauth.Options{Issuer: "https://cf.example.com"})
	resp, err := http.Get(ts.URL + "/.well-known/oauth-authorization-server")
	if err != nil {
		t.Fatalf("get discovery: %v", err)
	}
	defer resp.Body.Close()

	var doc struct {
		Issuer            string   `json:"issuer"`
		AuthEndpoint      string   `json:"authorization_endpoint"`
		TokenEndpoint     string   `json:"token_endpoint"`
		Scopes            []string `json:"scopes_supported"`
		ChallengeMethods  []string `json:"code_challenge_methods_supported"`
		GrantTypes        []string `json:"grant_types_supported"`
		RegistrationPoint string   `json:"registration_endpoint"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode discovery: %v", err)
	}
	if doc.Issuer != "https://cf.example.com" {
		t.Errorf("issuer = %q", doc.Issuer)
	}
	if doc.AuthEndpoint != "https://cf.example.com/oauth/authorize" {
		t.Errorf("authorization_endpoint = %q", doc.AuthEndpoint)
	}
	if len(doc.ChallengeMethods) != 1 || doc.ChallengeMethods[0] != "S256" {
		t.Errorf("code_challenge_methods_supported = %v, want [S256]", doc.ChallengeMethods)
	}
	if len(doc.GrantTypes) != 1 || doc.GrantTypes[0] != "authorization_code" {
		t.Errorf("grant_types_supported = %v, want [authorization_code]", doc.GrantTypes)
	}
	if len(doc.Scopes) != 3 {
		t.Errorf("scopes_supported = %v, want the 3 scopes", doc.Scopes)
	}
}

func TestRegistrationIssuesExpiringSecret(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, oauth.Options{})
	reg := registerClient(t, ts, redirectURI)

	if reg["client_id"] == "" || reg["client_secret"] == "" {
		t.Fatalf("registration missing credentials: %v", reg)
	}
	issued, _ := reg["client_id_issued_at"].(float64)
	expires, _ := reg["client_secret_expires_at"].(float64)
	gotDays := (expires - issued) / 86400
	if gotDays != 30 {
		t.Errorf("secret lifetime = %v days, want 30", gotDays)
	}
}

func TestAuthorizationCodeFlow(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, oauth.Options{})
	reg := registerClient(t, ts, redirectURI)
	clientID := reg["client_id"].(string)
	verifier, challenge := pkcePair()

	code := approveAndGetCode(t, ts, clientID, challenge, "mcp.read mcp.write")
	resp, body := exchangeCode(t, ts, clientID, code, verifier)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token status = %d: %v", resp.StatusCode, body)
	}
	if body["token_type"] != "Bearer" {
		t.Errorf("token_type = %v", body["token_type"])
	}
	if body["expires_in"].(float64) != 3600 {
		t.Errorf("expires_in = %v, want 3600", body["expires_in"])
	}
	if body["scope"] != "mcp.read mcp.write" {
		t.Errorf("scope = %v", body["scope"])
	}

	// Introspection sees the token as active with the granted scopes.
	intro, err := http.PostForm(ts.URL+"/oauth/introspect", url.Values{
		"token": {body["access_token"].(string)},
	})
	if err != nil {
		t.Fatalf("introspect: %v", err)
	}
	defer intro.Body.Close()
	var active map[string]any
	if err := json.NewDecoder(intro.Body).Decode(&active); err != nil {
		t.Fatalf("decode introspection: %v", err)
	}
	if active["active"] != true || active["scope"] != "mcp.read mcp.write" {
		t.Errorf("introspection = %v", active)
	}
}

func TestAuthorizationCodeIsSingleUse(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, oauth.Options{})
	reg := registerClient(t, ts, redirectURI)
	clientID := reg["client_id"].(string)
	verifier, challenge := pkcePair()

	code := approveAndGetCode(t, ts, clientID, challenge, "mcp.read")
	if resp, _ := exchangeCode(t, ts, clientID, code, verifier); resp.StatusCode != http.StatusOK {
		t.Fatalf("first exchange status = %d, want 200", resp.StatusCode)
	}
	resp, body := exchangeCode(t, ts, clientID, code, verifier)
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "invalid_grant" {
		t.Errorf("second exchange = %d %v, want invalid_grant", resp.StatusCode, body)
	}
}

func TestTokenRejectsWrongVerifier(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, oauth.Options{})
	reg := registerClient(t, ts, redirectURI)
	clientID := reg["client_id"].(string)
	_, challenge := pkcePair()

	code := approveAndGetCode(t, ts, clientID, challenge, "mcp.read")
	resp, body := exchangeCode(t, ts, clientID, code, "not-the-verifier-not-the-verifier-nope")
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "invalid_grant" {
		t.Errorf("exchange = %d %v, want invalid_grant", resp.StatusCode, body)
	}
}

func TestAuthorizeRejectsUnregisteredRedirect(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, oauth.Options{})
	reg := registerClient(t, ts, redirectURI)
	clientID := reg["client_id"].(string)
	_, challenge := pkcePair()

	resp, err := http.Get(ts.URL + "/oauth/authorize?" + url.Values{
		"client_id":             {clientID},
		"redirect_uri":          {"https://evil.example.com/steal"},
		"response_type":         {"code"},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}.Encode())
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 (never redirect to an unregistered URI)", resp.StatusCode)
	}
}

func TestAuthorizeRequiresPKCE(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, oauth.Options{})
	reg := registerClient(t, ts, redirectURI)
	clientID := reg["client_id"].(string)

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(ts.URL + "/oauth/authorize?" + url.Values{
		"client_id":     {clientID},
		"redirect_uri":  {redirectURI},
		"response_type": {"code"},
	}.Encode())
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want redirect with error", resp.StatusCode)
	}
	loc, _ := url.Parse(resp.Header.Get("Location"))
	if got := loc.Query().Get("error"); got != "invalid_request" {
		t.Errorf("error = %q, want invalid_request", got)
	}
}

func TestConsentPageListsScopes(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, oauth.Options{})
	reg := registerClient(t, ts, redirectURI)
	clientID := reg["client_id"].(string)
	_, challenge := pkcePair()

	resp, err := http.Get(ts.URL + "/oauth/authorize?" + url.Values{
		"client_id":             {clientID},
		"redirect_uri":          {redirectURI},
		"response_type":         {"code"},
		"scope":                 {"mcp.read"},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}.Encode())
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	defer resp.Body.Close()
	page, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(page), "mcp.read") || !strings.Contains(string(page), "test client") {
		t.Errorf("consent page missing client name or scope:\n%s", page)
	}
}

func TestLoopbackRedirectPortMismatch(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		trust bool
		want  int
	}{
		{name: "trusted", trust: true, want: http.StatusFound},
		{name: "untrusted", trust: false, want: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, ts := newTestServer(t, oauth.Options{TrustLoopbackRedirects: tc.trust})
			reg := registerClient(t, ts, "http://localhost:43121/callback")
			clientID := reg["client_id"].(string)
			_, challenge := pkcePair()

			form := url.Values{
				"client_id":             {clientID},
				"redirect_uri":          {"http://localhost:51877/callback"},
				"response_type":         {"code"},
				"code_challenge":        {challenge},
				"code_challenge_method": {"S256"},
				"decision":              {"approve"},
			}
			client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			}}
			resp, err := client.PostForm(ts.URL+"/oauth/authorize", form)
			if err != nil {
				t.Fatalf("authorize: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestTokenRejectsUnsupportedGrant(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, oauth.Options{})
	resp, err := http.PostForm(ts.URL+"/oauth/token", url.Values{
		"grant_type": {"client_credentials"},
	})
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "unsupported_grant_type" {
		t.Errorf("response = %d %v", resp.StatusCode, body)
	}
}

func TestIntrospectUnknownTokenInactive(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, oauth.Options{})
	resp, err := http.PostForm(ts.URL+"/oauth/introspect", url.Values{"token": {"nope"}})
	if err != nil {
		t.Fatalf("introspect: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["active"] != false {
		t.Errorf("active = %v, want false", body["active"])
	}
}
