package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// minRefresh bounds how often an unknown kid may trigger a refetch.
const minRefresh = time.Minute

// JWKS caches RSA keys fetched from a JSON Web Key Set URL.
type JWKS struct {
	url        string
	ttl        time.Duration
	minRefresh time.Duration
	httpClient *http.Client
	now        func() time.Time

	mu          sync.RWMutex
	cache       map[string]*rsa.PublicKey
	fetched     time.Time
	lastAttempt time.Time
}

func NewJWKS(url string, client *http.Client) *JWKS {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWKS{
		url:        url,
		ttl:        time.Hour,
		minRefresh: minRefresh,
		httpClient: client,
		now:        time.Now,
		cache:      make(map[string]*rsa.PublicKey),
	}
}

// Key returns the key for kid. An unknown kid refetches the set at most once
// per minRefresh. An empty kid matches only a set with exactly one key.
func (j *JWKS) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if err := j.ensureKeys(ctx); err != nil {
		return nil, err
	}
	if key, ok := j.keyFor(kid); ok {
		return key, nil
	}
	if j.claimRefresh() {
		if err := j.fetch(ctx); err != nil {
			return nil, err
		}
		if key, ok := j.keyFor(kid); ok {
			return key, nil
		}
	}
	return nil, fmt.Errorf("unknown kid %q", kid)
}

func (j *JWKS) ensureKeys(ctx context.Context) error {
	j.mu.RLock()
	fresh := j.now().Sub(j.fetched) < j.ttl && len(j.cache) > 0
	j.mu.RUnlock()
	if fresh {
		return nil
	}
	j.mu.Lock()
	j.lastAttempt = j.now()
	j.mu.Unlock()
	return j.fetch(ctx)
}

// claimRefresh reports whether an unknown-kid refetch may run now and, if
// so, records the attempt.
func (j *JWKS) claimRefresh() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()
	if !j.lastAttempt.IsZero() && now.Sub(j.lastAttempt) < j.minRefresh {
		return false
	}
	j.lastAttempt = now
	return true
}

func (j *JWKS) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return err
	}
	resp, err := j.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}
	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey)
	for _, key := range set.Keys {
		if key.Kty != "RSA" {
			continue
		}
		pub, err := rsaKeyFromJWK(key)
		if err != nil {
			continue
		}
		keys[key.Kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("jwks: no usable keys")
	}
	j.mu.Lock()
	j.cache = keys
	j.fetched = j.now()
	j.mu.Unlock()
	return nil
}

func (j *JWKS) keyFor(kid string) (*rsa.PublicKey, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if kid == "" && len(j.cache) == 1 {
		for _, k := range j.cache {
			return k, true
		}
	}
	pk, ok := j.cache[kid]
	return pk, ok
}

func rsaKeyFromJWK(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}
	if e == 0 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}
