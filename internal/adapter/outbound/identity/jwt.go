// Package identity is the external identity-provider adapter of spec
// §6: a JWT validator whose result is cached against the token's own
// expiry. The core never mints tokens, only validates ones issued
// elsewhere.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// Claims is the subset of a validated token's claims the core cares
// about: the principal id and its team memberships, plus the
// provider's own expiry so the cache TTL can be bounded by it.
type Claims struct {
	PrincipalID string
	Memberships map[string]string // team id -> role name
	ExpiresAt   time.Time
}

// ErrTokenInvalid is returned for any signature, expiry, or claims-shape
// failure; the caller never learns which one, matching spec §7's "no
// field detail in production" propagation policy.
var ErrTokenInvalid = errors.New("identity: token invalid")

type cacheEntry struct {
	claims    Claims
	expiresAt time.Time
}

// Validator validates opaque bearer tokens against a configured signing
// key and caches the result, TTL-bounded by min(token expiry, the
// configured ceiling).
type Validator struct {
	secret       []byte
	defaultTTL   time.Duration
	now          func() time.Time
	group        singleflight.Group
	mu           sync.RWMutex
	cache        map[string]cacheEntry
}

// NewValidator constructs a Validator. defaultTTL is the configured
// ceiling spec §6 calls "configured_ttl"; the effective cache TTL for
// any one token is min(token_exp, defaultTTL).
func NewValidator(secret []byte, defaultTTL time.Duration) *Validator {
	return &Validator{
		secret:     secret,
		defaultTTL: defaultTTL,
		now:        time.Now,
		cache:      make(map[string]cacheEntry),
	}
}

// Validate implements spec §6's Validate(token) -> (principal_id,
// claims, expiry). Concurrent calls for the same uncached token are
// coalesced via singleflight so a burst of requests bearing one fresh
// token parses it exactly once.
func (v *Validator) Validate(ctx context.Context, token string) (Claims, error) {
	key := tokenCacheKey(token)

	if claims, ok := v.lookup(key); ok {
		return claims, nil
	}

	result, err, _ := v.group.Do(key, func() (any, error) {
		if claims, ok := v.lookup(key); ok {
			return claims, nil
		}
		claims, err := v.parse(token)
		if err != nil {
			return Claims{}, err
		}
		v.store(key, claims)
		return claims, nil
	})
	if err != nil {
		return Claims{}, err
	}
	return result.(Claims), nil
}

func (v *Validator) parse(token string) (Claims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("identity: unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil || !parsed.Valid {
		return Claims{}, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrTokenInvalid
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return Claims{}, ErrTokenInvalid
	}

	expUnix, err := claims.GetExpirationTime()
	if err != nil || expUnix == nil {
		return Claims{}, ErrTokenInvalid
	}

	memberships := map[string]string{}
	if raw, ok := claims["teams"].(map[string]any); ok {
		for teamID, role := range raw {
			if roleStr, ok := role.(string); ok {
				memberships[teamID] = roleStr
			}
		}
	}

	return Claims{
		PrincipalID: sub,
		Memberships: memberships,
		ExpiresAt:   expUnix.Time,
	}, nil
}

func (v *Validator) lookup(key string) (Claims, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	entry, ok := v.cache[key]
	if !ok || !v.now().Before(entry.expiresAt) {
		return Claims{}, false
	}
	return entry.claims, true
}

func (v *Validator) store(key string, claims Claims) {
	ttlCeiling := v.now().Add(v.defaultTTL)
	expiresAt := claims.ExpiresAt
	if expiresAt.After(ttlCeiling) {
		expiresAt = ttlCeiling
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache[key] = cacheEntry{claims: claims, expiresAt: expiresAt}
}

func tokenCacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
