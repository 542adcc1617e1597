// Package oauth embeds a minimal OAuth 2.1 authorization server in front of
// the MCP control surface.
//
// It supports the authorization_code grant with mandatory PKCE (S256 only),
// dynamic client registration, and token introspection. All state (clients,
// codes, tokens) lives in memory under a mutex; expired entries are swept
// lazily on mutation. Static API keys from the environment bypass the flow
// and grant the full scope set, as does the local development profile.
package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Scopes understood by the control surface. Admin implies the other two.
const (
	ScopeRead  = "mcp.read"
	ScopeWrite = "mcp.write"
	ScopeAdmin = "admin"
)

// AllScopes is the full scope set, granted to API-key callers and local runs.
var AllScopes = []string{ScopeRead, ScopeWrite, ScopeAdmin}

const (
	codeTTL       = 10 * time.Minute
	tokenTTL      = time.Hour
	secretTTL     = 30 * 24 * time.Hour
	sweepInterval = time.Minute
)

// Client is a registered OAuth client.
type Client struct {
	ID              string
	Secret          string
	Name            string
	RedirectURIs    []string
	Scopes          []string
	IssuedAt        time.Time
	SecretExpiresAt time.Time
}

// authCode is a pending single-use authorization code.
type authCode struct {
	clientID      string
	redirectURI   string
	scope         string
	codeChallenge string
	expiresAt     time.Time
	used          bool
}

// token is an issued bearer access token.
type token struct {
	clientID  string
	scopes    []string
	expiresAt time.Time
}

// Options configures a [Server].
type Options struct {
	// Issuer is the externally visible base URL of this service. Endpoint
	// URLs in the discovery document are derived from it.
	Issuer string

	// APIKeys are static bearer keys that authenticate with the full scope
	// set, skipping the authorization flow entirely.
	APIKeys []string

	// TrustLoopbackRedirects permits redirect URIs on loopback hosts whose
	// port differs from the registered URI.
	TrustLoopbackRedirects bool

	// LocalBypass disables authentication entirely: every request carries
	// the full scope set. Only for the local development profile.
	LocalBypass bool
}

// Server is the embedded authorization server. Safe for concurrent use.
type Server struct {
	issuer        string
	apiKeys       map[string]struct{}
	trustLoopback bool
	localBypass   bool
	now           func() time.Time

	mu        sync.Mutex
	clients   map[string]*Client
	codes     map[string]*authCode
	tokens    map[string]*token
	lastSweep time.Time
}

// New creates a [Server].
func New(opts Options) *Server {
	keys := make(map[string]struct{}, len(opts.APIKeys))
	for _, k := range opts.APIKeys {
		if k != "" {
			keys[k] = struct{}{}
		}
	}
	return &Server{
		issuer:        strings.TrimRight(opts.Issuer, "/"),
		apiKeys:       keys,
		trustLoopback: opts.TrustLoopbackRedirects,
		localBypass:   opts.LocalBypass,
		now:           time.Now,
		clients:       make(map[string]*Client),
		codes:         make(map[string]*authCode),
		tokens:        make(map[string]*token),
	}
}

// RegisterClient creates a new client registration and returns it.
func (s *Server) RegisterClient(name string, redirectURIs []string, scopes []string) (*Client, error) {
	if len(redirectURIs) == 0 {
		return nil, fmt.Errorf("oauth: register client: at least one redirect_uri is required")
	}
	for _, u := range redirectURIs {
		parsed, err := url.Parse(u)
		if err != nil || !parsed.IsAbs() {
			return nil, fmt.Errorf("oauth: register client: redirect_uri %q is not an absolute URL", u)
		}
	}
	if len(scopes) == 0 {
		scopes = AllScopes
	}
	for _, scope := range scopes {
		if !validScope(scope) {
			return nil, fmt.Errorf("oauth: register client: unknown scope %q", scope)
		}
	}

	now := s.now().UTC()
	c := &Client{
		ID:              "cf-" + randomToken(16),
		Secret:          randomToken(32),
		Name:            name,
		RedirectURIs:    append([]string(nil), redirectURIs...),
		Scopes:          append([]string(nil), scopes...),
		IssuedAt:        now,
		SecretExpiresAt: now.Add(secretTTL),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.clients[c.ID] = c
	return c, nil
}

// lookupClient returns the registered client, or nil.
func (s *Server) lookupClient(id string) *Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients[id]
}

// issueCode mints a single-use authorization code bound to the client,
// redirect URI, scope and PKCE challenge.
func (s *Server) issueCode(clientID, redirectURI, scope, codeChallenge string) string {
	code := randomToken(24)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.codes[code] = &authCode{
		clientID:      clientID,
		redirectURI:   redirectURI,
		scope:         scope,
		codeChallenge: codeChallenge,
		expiresAt:     s.now().Add(codeTTL),
	}
	return code
}

// redeemCode exchanges an authorization code for a bearer token, verifying
// the PKCE code verifier. Codes are single-use; a second redemption fails
// even within the TTL.
func (s *Server) redeemCode(code, clientID, redirectURI, verifier string) (string, *token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	c, ok := s.codes[code]
	if !ok || c.used || s.now().After(c.expiresAt) {
		return "", nil, fmt.Errorf("oauth: authorization code is invalid or expired")
	}
	if c.clientID != clientID {
		return "", nil, fmt.Errorf("oauth: authorization code was issued to a different client")
	}
	if c.redirectURI != redirectURI {
		return "", nil, fmt.Errorf("oauth: redirect_uri does not match the authorization request")
	}
	if !verifyPKCE(c.codeChallenge, verifier) {
		return "", nil, fmt.Errorf("oauth: code_verifier does not match the code_challenge")
	}
	c.used = true

	access := randomToken(32)
	t := &token{
		clientID:  clientID,
		scopes:    splitScope(c.scope),
		expiresAt: s.now().Add(tokenTTL),
	}
	s.tokens[access] = t
	return access, t, nil
}

// lookupToken resolves a bearer token. API keys resolve to the full scope
// set. Returns the owning client id, granted scopes, and whether the token
// is valid.
func (s *Server) lookupToken(bearer string) (clientID string, scopes []string, ok bool) {
	if _, isKey := s.apiKeys[bearer]; isKey {
		return "api-key", AllScopes, true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, found := s.tokens[bearer]
	if !found || s.now().After(t.expiresAt) {
		return "", nil, false
	}
	return t.clientID, t.scopes, true
}

// sweepLocked drops expired codes and tokens. Must be called with mu held;
// runs at most once per sweep interval.
func (s *Server) sweepLocked() {
	now := s.now()
	if now.Sub(s.lastSweep) < sweepInterval {
		return
	}
	s.lastSweep = now
	for code, c := range s.codes {
		if c.used || now.After(c.expiresAt) {
			delete(s.codes, code)
		}
	}
	for access, t := range s.tokens {
		if now.After(t.expiresAt) {
			delete(s.tokens, access)
		}
	}
}

// redirectAllowed reports whether the requested redirect URI is acceptable
// for the client: exact match against a registered URI, or, when loopback
// trust is enabled, a registered loopback URI differing only in port.
func (s *Server) redirectAllowed(c *Client, requested string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == requested {
			return true
		}
	}
	if !s.trustLoopback {
		return false
	}

	req, err := url.Parse(requested)
	if err != nil || !isLoopbackHost(req.Hostname()) {
		return false
	}
	for _, registered := range c.RedirectURIs {
		reg, err := url.Parse(registered)
		if err != nil || !isLoopbackHost(reg.Hostname()) {
			continue
		}
		if reg.Scheme == req.Scheme && reg.Hostname() == req.Hostname() && reg.Path == req.Path {
			return true
		}
	}
	return false
}

func isLoopbackHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// verifyPKCE checks challenge == BASE64URL(SHA256(verifier)) in constant
// time. Only the S256 method is supported.
func verifyPKCE(challenge, verifier string) bool {
	if challenge == "" || verifier == "" {
		return false
	}
	sum := sha256.Sum256([]byte(verifier))
	derived := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(derived), []byte(challenge)) == 1
}

// validScope reports whether scope is one of the understood scopes.
func validScope(scope string) bool {
	switch scope {
	case ScopeRead, ScopeWrite, ScopeAdmin:
		return true
	}
	return false
}

// splitScope parses a space-delimited scope string.
func splitScope(s string) []string {
	return strings.Fields(s)
}

// scopeSubset reports whether every requested scope is in granted.
func scopeSubset(requested, granted []string) bool {
	for _, r := range requested {
		found := false
		for _, g := range granted {
			if r == g {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// randomToken returns n random bytes hex encoded.
func randomToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(fmt.Sprintf("oauth: read random: %v", err))
	}
	return hex.EncodeToString(buf)
}
