// Package auth verifies bearer credentials and turns them into a
// domain.Principal. It runs before any rate-limit or inference work.
package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"imagegateway/internal/domain"
)

// Claims is the token payload. Scopes may arrive as a space separated
// "scope" claim or as a "scopes" array.
type Claims struct {
	Scope  string   `json:"scope,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// AllScopes merges both scope representations.
func (c *Claims) AllScopes() []string {
	out := append([]string(nil), c.Scopes...)
	return append(out, strings.Fields(c.Scope)...)
}

type Options struct {
	// Secret enables HS256 tokens.
	Secret []byte
	// PublicKey enables RS256 tokens signed by a single key.
	PublicKey *rsa.PublicKey
	// JWKS enables RS256 tokens whose kid is looked up in a key set.
	JWKS *JWKS

	Issuer         string
	RequiredScopes []string
	Leeway         time.Duration
	Now            func() time.Time
}

type Authenticator struct {
	opts    Options
	methods []string
}

func New(opts Options) (*Authenticator, error) {
	var methods []string
	if len(opts.Secret) > 0 {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if opts.PublicKey != nil || opts.JWKS != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	if len(methods) == 0 {
		return nil, errors.New("auth: no verification key configured")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Authenticator{opts: opts, methods: methods}, nil
}

// Authenticate verifies an Authorization header value. Every failure wraps
// domain.ErrAuth.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (domain.Principal, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return domain.Principal{}, fmt.Errorf("%w: missing credential", domain.ErrAuth)
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return domain.Principal{}, fmt.Errorf("%w: malformed authorization header", domain.ErrAuth)
	}
	return a.Verify(ctx, token)
}

// Verify checks a raw token.
func (a *Authenticator) Verify(ctx context.Context, token string) (domain.Principal, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(a.methods),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.opts.Now),
		jwt.WithLeeway(a.opts.Leeway),
	}
	if a.opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.opts.Issuer))
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, a.keyFunc(ctx), parserOpts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return domain.Principal{}, fmt.Errorf("%w: token expired", domain.ErrAuth)
		case errors.Is(err, jwt.ErrTokenMalformed):
			return domain.Principal{}, fmt.Errorf("%w: malformed token", domain.ErrAuth)
		default:
			return domain.Principal{}, fmt.Errorf("%w: %v", domain.ErrAuth, err)
		}
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return domain.Principal{}, fmt.Errorf("%w: token has no subject", domain.ErrAuth)
	}
	p := domain.Principal{Subject: claims.Subject, Scopes: claims.AllScopes()}
	if claims.ExpiresAt != nil {
		p.Expiry = claims.ExpiresAt.Time
	}
	for _, req := range a.opts.RequiredScopes {
		if !p.HasScope(req) {
			return domain.Principal{}, fmt.Errorf("%w: missing scope %q", domain.ErrAuth, req)
		}
	}
	return p, nil
}

func (a *Authenticator) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (interface{}, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if len(a.opts.Secret) == 0 {
				return nil, errors.New("hmac tokens not accepted")
			}
			return a.opts.Secret, nil
		case *jwt.SigningMethodRSA:
			kid, _ := t.Header["kid"].(string)
			if a.opts.JWKS != nil && (kid != "" || a.opts.PublicKey == nil) {
				return a.opts.JWKS.Key(ctx, kid)
			}
			if a.opts.PublicKey != nil {
				return a.opts.PublicKey, nil
			}
			return nil, errors.New("rsa tokens not accepted")
		default:
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
	}
}

// LoadRSAPublicKey reads a PEM encoded RSA public key.
func LoadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("auth: read public key: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	return key, nil
}

// TokenRequest describes a token to mint with IssueHS256.
type TokenRequest struct {
	Subject string
	Scopes  []string
	Issuer  string
	TTL     time.Duration
	Now     time.Time
}

// IssueHS256 mints a signed token for local testing and operator tooling.
func IssueHS256(secret []byte, req TokenRequest) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("auth: secret is required")
	}
	if strings.TrimSpace(req.Subject) == "" {
		return "", errors.New("auth: subject is required")
	}
	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	if req.TTL <= 0 {
		req.TTL = time.Hour
	}
	claims := Claims{
		Scope: strings.Join(req.Scopes, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   req.Subject,
			Issuer:    req.Issuer,
			IssuedAt:  jwt.NewNumericDate(req.Now),
			ExpiresAt: jwt.NewNumericDate(req.Now.Add(req.TTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
