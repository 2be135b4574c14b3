package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wiifm74/equilibria/internal/config"
)

// Supported signing algorithms.
const (
	AlgHS256 = "HS256"
	AlgRS256 = "RS256"
)

// JWKS key management defaults.
const (
	DefaultJWKSRefreshInterval = 5 * time.Minute
	DefaultJWKSCacheTimeout    = 10 * time.Minute
)

// VerifierConfig holds configuration for JWT verification.
type VerifierConfig struct {
	Algorithm string

	// HS256
	SecretKey string

	// RS256: a static key, a JWKS endpoint, or both.
	PublicKeyPEM string
	JWKSURL      string

	// Optional registered-claim checks, enforced when non-empty.
	Issuer   string
	Audience string

	JWKSRefreshInterval time.Duration
	JWKSCacheTimeout    time.Duration
}

// JWK represents a JSON Web Key.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSet represents a JSON Web Key Set.
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// jwksCacheEntry is a cached JWKS key with its fetch time.
type jwksCacheEntry struct {
	key       *rsa.PublicKey
	timestamp time.Time
}

// Verifier validates bearer tokens and extracts gateway claims.
type Verifier struct {
	config     VerifierConfig
	publicKey  *rsa.PublicKey
	jwksCache  map[string]*jwksCacheEntry
	jwksMutex  sync.RWMutex
	lastFetch  time.Time
	httpClient *http.Client
}

// FromConfig builds a verifier from the gateway auth section. It returns
// (nil, nil) when auth is disabled.
func FromConfig(cfg config.AuthConfig) (*Verifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	vc := VerifierConfig{
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
	}
	if cfg.HS256Secret != "" {
		vc.Algorithm = AlgHS256
		vc.SecretKey = cfg.HS256Secret
	} else {
		vc.Algorithm = AlgRS256
		vc.JWKSURL = cfg.JWKSURL
	}

	return NewVerifier(vc)
}

// NewVerifier creates a new JWT verifier.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.JWKSRefreshInterval == 0 {
		cfg.JWKSRefreshInterval = DefaultJWKSRefreshInterval
	}
	if cfg.JWKSCacheTimeout == 0 {
		cfg.JWKSCacheTimeout = DefaultJWKSCacheTimeout
	}

	v := &Verifier{
		config:    cfg,
		jwksCache: make(map[string]*jwksCacheEntry),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	switch cfg.Algorithm {
	case AlgRS256:
		if cfg.PublicKeyPEM == "" && cfg.JWKSURL == "" {
			return nil, fmt.Errorf("RS256 requires a public key or a JWKS URL")
		}
		if cfg.PublicKeyPEM != "" {
			if err := v.loadPublicKeyFromPEM(cfg.PublicKeyPEM); err != nil {
				return nil, fmt.Errorf("failed to load public key from PEM: %w", err)
			}
		}
		if cfg.JWKSURL != "" {
			if err := v.fetchJWKS(); err != nil {
				return nil, fmt.Errorf("failed to fetch initial JWKS: %w", err)
			}
		}
	case AlgHS256:
		if cfg.SecretKey == "" {
			return nil, fmt.Errorf("HS256 requires secret key")
		}
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", cfg.Algorithm)
	}

	return v, nil
}

// VerifyToken verifies a JWT token and returns the claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("token cannot be empty")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{v.config.Algorithm}),
	}
	if v.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.config.Issuer))
	}
	if v.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.config.Audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &jwt.MapClaims{}, v.keyFor, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	return v.claimsFromMap(claims)
}

// keyFor selects the verification key for one token.
func (v *Verifier) keyFor(token *jwt.Token) (interface{}, error) {
	if v.config.Algorithm == AlgHS256 {
		return []byte(v.config.SecretKey), nil
	}

	if kid, ok := token.Header["kid"].(string); ok {
		key, err := v.getKeyFromJWKS(kid)
		if err != nil {
			return nil, fmt.Errorf("failed to get key from JWKS: %w", err)
		}
		return key, nil
	}

	// No kid, use the static public key.
	if v.publicKey == nil {
		return nil, fmt.Errorf("no public key available")
	}
	return v.publicKey, nil
}

// claimsFromMap extracts and validates the gateway claims.
func (v *Verifier) claimsFromMap(claims *jwt.MapClaims) (*Claims, error) {
	sub, ok := (*claims)["sub"].(string)
	if !ok {
		return nil, fmt.Errorf("missing or invalid 'sub' claim")
	}

	roles, err := extractStringSlice(claims, "roles")
	if err != nil {
		return nil, fmt.Errorf("missing or invalid 'roles' claim: %w", err)
	}

	scopes, err := extractStringSlice(claims, "scopes")
	if err != nil {
		return nil, fmt.Errorf("missing or invalid 'scopes' claim: %w", err)
	}

	if !validRoles(roles) {
		return nil, fmt.Errorf("invalid roles: %v", roles)
	}
	if !validScopes(scopes) {
		return nil, fmt.Errorf("invalid scopes: %v", scopes)
	}

	return &Claims{
		Subject: sub,
		Roles:   roles,
		Scopes:  scopes,
	}, nil
}

// extractStringSlice extracts a string slice claim.
func extractStringSlice(claims *jwt.MapClaims, key string) ([]string, error) {
	value, ok := (*claims)[key]
	if !ok {
		return nil, fmt.Errorf("missing claim: %s", key)
	}

	switch val := value.(type) {
	case []string:
		return val, nil
	case []interface{}:
		result := make([]string, len(val))
		for i, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("invalid %s claim: not a string", key)
			}
			result[i] = str
		}
		return result, nil
	default:
		return nil, fmt.Errorf("invalid %s claim: not a string array", key)
	}
}

// validRoles checks that every role is known and at least one is present.
func validRoles(roles []string) bool {
	known := map[string]bool{
		RoleViewer:   true,
		RoleOperator: true,
	}

	for _, role := range roles {
		if !known[role] {
			return false
		}
	}
	return len(roles) > 0
}

// validScopes checks that every scope is known and at least one is present.
func validScopes(scopes []string) bool {
	known := map[string]bool{
		ScopeRead:      true,
		ScopeControl:   true,
		ScopeTelemetry: true,
	}

	for _, scope := range scopes {
		if !known[scope] {
			return false
		}
	}
	return len(scopes) > 0
}

// loadPublicKeyFromPEM loads a public key from PEM format.
func (v *Verifier) loadPublicKeyFromPEM(pemData string) error {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return fmt.Errorf("failed to decode PEM block")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("not an RSA public key")
	}

	v.publicKey = rsaPub
	return nil
}

// fetchJWKS fetches the JSON Web Key Set from the configured URL.
func (v *Verifier) fetchJWKS() error {
	if v.config.JWKSURL == "" {
		return fmt.Errorf("JWKS URL not configured")
	}

	resp, err := v.httpClient.Get(v.config.JWKSURL)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read JWKS response: %w", err)
	}

	var jwks JWKSet
	if err := json.Unmarshal(body, &jwks); err != nil {
		return fmt.Errorf("failed to parse JWKS: %w", err)
	}

	v.jwksMutex.Lock()
	defer v.jwksMutex.Unlock()

	now := time.Now()
	for _, key := range jwks.Keys {
		if key.Kty != "RSA" || key.Use != "sig" || key.Alg != AlgRS256 {
			continue
		}
		pubKey, err := jwkToRSAPublicKey(key)
		if err != nil {
			continue // skip malformed keys, others may still work
		}
		v.jwksCache[key.Kid] = &jwksCacheEntry{
			key:       pubKey,
			timestamp: now,
		}
	}

	v.lastFetch = time.Now()
	return nil
}

// getKeyFromJWKS gets a public key from the JWKS cache, refreshing the set
// when the entry is missing or stale.
func (v *Verifier) getKeyFromJWKS(kid string) (*rsa.PublicKey, error) {
	v.jwksMutex.RLock()
	entry, exists := v.jwksCache[kid]
	lastFetch := v.lastFetch
	v.jwksMutex.RUnlock()

	if exists && time.Since(entry.timestamp) < v.config.JWKSCacheTimeout {
		return entry.key, nil
	}

	if time.Since(lastFetch) > v.config.JWKSRefreshInterval {
		if err := v.fetchJWKS(); err != nil {
			return nil, fmt.Errorf("failed to refresh JWKS: %w", err)
		}

		v.jwksMutex.RLock()
		entry, exists = v.jwksCache[kid]
		v.jwksMutex.RUnlock()

		if exists {
			return entry.key, nil
		}
	}

	if exists {
		// Stale but not refreshable yet; better than failing verification.
		return entry.key, nil
	}

	return nil, fmt.Errorf("key not found: %s", kid)
}

// jwkToRSAPublicKey converts a JWK to an RSA public key.
func jwkToRSAPublicKey(jwk JWK) (*rsa.PublicKey, error) {
	n, err := base64URLDecode(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}

	e, err := base64URLDecode(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var exp int
	for _, b := range e {
		exp = exp<<8 + int(b)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: exp,
	}, nil
}

// base64URLDecode decodes base64url data with or without padding stripped.
func base64URLDecode(data string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
}
