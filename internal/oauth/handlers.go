package oauth

import (
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Routes registers the authorization server endpoints on mux. All of them
// are public; the bearer middleware never guards them.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /.well-known/oauth-authorization-server", s.handleDiscovery)
	mux.HandleFunc("GET /oauth/authorize", s.handleAuthorizeForm)
	mux.HandleFunc("POST /oauth/authorize", s.handleAuthorizeDecision)
	mux.HandleFunc("POST /oauth/token", s.handleToken)
	mux.HandleFunc("POST /oauth/register", s.handleRegister)
	mux.HandleFunc("POST /oauth/introspect", s.handleIntrospect)
}

// handleDiscovery serves the authorization server metadata document
// (RFC 8414).
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	doc := map[string]any{
		"issuer":                                s.issuer,
		"authorization_endpoint":                s.issuer + "/oauth/authorize",
		"token_endpoint":                        s.issuer + "/oauth/token",
		"registration_endpoint":                 s.issuer + "/oauth/register",
		"introspection_endpoint":                s.issuer + "/oauth/introspect",
		"scopes_supported":                      AllScopes,
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code"},
		"code_challenge_methods_supported":      []string{"S256"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_post", "none"},
	}
	writeJSON(w, http.StatusOK, doc)
}

// authorizeParams are the query/form fields of an authorization request.
type authorizeParams struct {
	clientID            string
	redirectURI         string
	responseType        string
	scope               string
	state               string
	codeChallenge       string
	codeChallengeMethod string
}

func readAuthorizeParams(r *http.Request) authorizeParams {
	get := r.URL.Query().Get
	if r.Method == http.MethodPost {
		get = r.PostFormValue
	}
	return authorizeParams{
		clientID:            get("client_id"),
		redirectURI:         get("redirect_uri"),
		responseType:        get("response_type"),
		scope:               get("scope"),
		state:               get("state"),
		codeChallenge:       get("code_challenge"),
		codeChallengeMethod: get("code_challenge_method"),
	}
}

// validateAuthorize checks an authorization request up to the consent step.
// Errors that cannot safely redirect (bad client, bad redirect URI) are
// returned as pageErr; everything else redirects back to the client.
func (s *Server) validateAuthorize(p authorizeParams) (c *Client, pageErr, redirectErr string) {
	if p.clientID == "" {
		return nil, "client_id is required", ""
	}
	c = s.lookupClient(p.clientID)
	if c == nil {
		return nil, fmt.Sprintf("unknown client %q", p.clientID), ""
	}
	if p.redirectURI == "" || !s.redirectAllowed(c, p.redirectURI) {
		return nil, "redirect_uri does not match the client registration", ""
	}
	if p.responseType != "code" {
		return c, "", "unsupported_response_type"
	}
	if p.codeChallenge == "" || p.codeChallengeMethod != "S256" {
		return c, "", "invalid_request"
	}
	if !scopeSubset(splitScope(p.scope), c.Scopes) {
		return c, "", "invalid_scope"
	}
	return c, "", ""
}

var consentTemplate = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html>
<head><title>Castforge — Authorize</title></head>
<body>
<h1>Authorize {{.ClientName}}</h1>
<p>{{.ClientName}} is requesting access with scopes: <code>{{.Scope}}</code></p>
<form method="post" action="/oauth/authorize">
<input type="hidden" name="client_id" value="{{.ClientID}}">
<input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
<input type="hidden" name="response_type" value="code">
<input type="hidden" name="scope" value="{{.Scope}}">
<input type="hidden" name="state" value="{{.State}}">
<input type="hidden" name="code_challenge" value="{{.CodeChallenge}}">
<input type="hidden" name="code_challenge_method" value="S256">
<button type="submit" name="decision" value="approve">Approve</button>
<button type="submit" name="decision" value="deny">Deny</button>
</form>
</body>
</html>
`))

// handleAuthorizeForm validates the authorization request and renders the
// consent page.
func (s *Server) handleAuthorizeForm(w http.ResponseWriter, r *http.Request) {
	p := readAuthorizeParams(r)
	c, pageErr, redirectErr := s.validateAuthorize(p)
	if pageErr != "" {
		http.Error(w, pageErr, http.StatusBadRequest)
		return
	}
	if redirectErr != "" {
		redirectWithError(w, r, p, redirectErr)
		return
	}

	scope := p.scope
	if scope == "" {
		scope = strings.Join(c.Scopes, " ")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := consentTemplate.Execute(w, map[string]string{
		"ClientName":    c.Name,
		"ClientID":      p.clientID,
		"RedirectURI":   p.redirectURI,
		"Scope":         scope,
		"State":         p.state,
		"CodeChallenge": p.codeChallenge,
	})
	if err != nil {
		slog.Error("consent page render failed", "error", err)
	}
}

// handleAuthorizeDecision processes the consent form and redirects back to
// the client with a code or an error.
func (s *Server) handleAuthorizeDecision(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form", http.StatusBadRequest)
		return
	}
	p := readAuthorizeParams(r)
	_, pageErr, redirectErr := s.validateAuthorize(p)
	if pageErr != "" {
		http.Error(w, pageErr, http.StatusBadRequest)
		return
	}
	if redirectErr != "" {
		redirectWithError(w, r, p, redirectErr)
		return
	}
	if r.PostFormValue("decision") != "approve" {
		redirectWithError(w, r, p, "access_denied")
		return
	}

	code := s.issueCode(p.clientID, p.redirectURI, p.scope, p.codeChallenge)

	target, err := url.Parse(p.redirectURI)
	if err != nil {
		http.Error(w, "redirect_uri is not a valid URL", http.StatusBadRequest)
		return
	}
	q := target.Query()
	q.Set("code", code)
	if p.state != "" {
		q.Set("state", p.state)
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func redirectWithError(w http.ResponseWriter, r *http.Request, p authorizeParams, code string) {
	target, err := url.Parse(p.redirectURI)
	if err != nil {
		http.Error(w, code, http.StatusBadRequest)
		return
	}
	q := target.Query()
	q.Set("error", code)
	if p.state != "" {
		q.Set("state", p.state)
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// handleToken exchanges an authorization code for a bearer access token.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	if grant := r.PostFormValue("grant_type"); grant != "authorization_code" {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type",
			fmt.Sprintf("grant_type %q is not supported; use authorization_code", grant))
		return
	}

	clientID := r.PostFormValue("client_id")
	c := s.lookupClient(clientID)
	if c == nil {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "unknown client")
		return
	}
	// Confidential clients authenticate with their secret; public clients
	// rely on PKCE alone.
	if secret := r.PostFormValue("client_secret"); secret != "" && secret != c.Secret {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "client secret mismatch")
		return
	}

	access, t, err := s.redeemCode(
		r.PostFormValue("code"),
		clientID,
		r.PostFormValue("redirect_uri"),
		r.PostFormValue("code_verifier"),
	)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   int(tokenTTL.Seconds()),
		"scope":        strings.Join(t.scopes, " "),
	})
}

// registerRequest is the dynamic client registration payload (RFC 7591).
type registerRequest struct {
	ClientName   string   `json:"client_name"`
	RedirectURIs []string `json:"redirect_uris"`
	Scope        string   `json:"scope"`
}

// handleRegister performs dynamic client registration.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client_metadata", "malformed JSON body")
		return
	}
	c, err := s.RegisterClient(req.ClientName, req.RedirectURIs, splitScope(req.Scope))
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client_metadata", err.Error())
		return
	}

	slog.Info("oauth client registered", "client_id", c.ID, "name", c.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"client_id":                c.ID,
		"client_secret":            c.Secret,
		"client_id_issued_at":      c.IssuedAt.Unix(),
		"client_secret_expires_at": c.SecretExpiresAt.Unix(),
		"client_name":              c.Name,
		"redirect_uris":            c.RedirectURIs,
		"scope":                    strings.Join(c.Scopes, " "),
		"grant_types":                []string{"authorization_code"},
		"token_endpoint_auth_method": "client_secret_post",
	})
}

// handleIntrospect reports whether a token is active (RFC 7662).
func (s *Server) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	bearer := r.PostFormValue("token")
	clientID, scopes, ok := s.lookupToken(bearer)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":     true,
		"client_id":  clientID,
		"scope":      strings.Join(scopes, " "),
		"token_type": "Bearer",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}

// writeOAuthError writes the standard OAuth error body.
func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}
