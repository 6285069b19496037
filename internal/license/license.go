// Package license gates engine calls behind a signed, expiring license key.
package license

import (
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/logger"
)

// Feature is a bit set of licensed capabilities
type Feature uint8

const (
	// FeatureLattice allows option-bearing lattices (non-zero volatility)
	FeatureLattice Feature = 1 << iota
	// FeatureScenarios allows horizon scenarios
	FeatureScenarios
	// FeatureAfterTax allows after-tax valuation
	FeatureAfterTax

	// FeatureNone is the base license: zero-volatility valuation only
	FeatureNone Feature = 0
	FeatureAll          = FeatureLattice | FeatureScenarios | FeatureAfterTax
)

var featureNames = []struct {
	f    Feature
	name string
	code errors.Code
}{
	{FeatureLattice, "lattice", errors.CodePermissionLattice},
	{FeatureScenarios, "scenarios", errors.CodePermissionScenarios},
	{FeatureAfterTax, "after_tax", errors.CodePermissionAfterTax},
}

// Has reports whether every bit of o is set in f
func (f Feature) Has(o Feature) bool { return f&o == o }

// String returns the feature names joined by commas
func (f Feature) String() string {
	var names []string
	for _, fn := range featureNames {
		if f.Has(fn.f) {
			names = append(names, fn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// ParseFeatures accepts feature names, or "all"
func ParseFeatures(names []string) (Feature, error) {
	var f Feature
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" || n == "none" {
			continue
		}
		if n == "all" {
			f |= FeatureAll
			continue
		}
		found := false
		for _, fn := range featureNames {
			if fn.name == n {
				f |= fn.f
				found = true
				break
			}
		}
		if !found {
			return 0, errors.InvalidInputf(errors.CodeAuthorization, "unknown license feature %q", n)
		}
	}
	return f, nil
}

// Claims is the signed content of a license key
type Claims struct {
	Features Feature `json:"features"`
	jwt.RegisteredClaims
}

// Issue signs a key for user that expires at the end of expiry
func Issue(secret []byte, user string, expiry time.Time, features Feature) (string, error) {
	if len(secret) == 0 {
		return "", errors.InvalidInput(errors.CodeAuthorization, "license secret is empty")
	}
	if user == "" {
		return "", errors.InvalidInput(errors.CodeAuthorization, "license user is empty")
	}
	claims := Claims{
		Features: features,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Gate holds the authorization state checked by every engine call
type Gate struct {
	secret []byte
	now    func() time.Time
	log    *logger.Logger

	mu       sync.RWMutex
	user     string
	features Feature
	expires  time.Time
	ok       bool
}

// NewGate creates an unauthorized gate verifying keys signed with secret
func NewGate(secret []byte) *Gate {
	return &Gate{
		secret: secret,
		now:    time.Now,
		log:    logger.GetLogger("license.gate"),
	}
}

// WithClock replaces the gate's clock
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Authorize verifies key for user. A failed attempt leaves the gate closed.
func (g *Gate) Authorize(user, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ok = false

	var claims Claims
	_, err := jwt.ParseWithClaims(key, &claims,
		func(*jwt.Token) (interface{}, error) { return g.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithSubject(user),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	)
	switch {
	case err == nil:
	case stderrors.Is(err, jwt.ErrTokenExpired):
		g.log.Warnw("License key expired", "user", user)
		return errors.WithCode(err, errors.ClassInitialization, errors.CodeExpiredKey, "license key expired")
	default:
		g.log.Warnw("License key rejected", "user", user, "error", err)
		return errors.WithCode(err, errors.ClassInitialization, errors.CodeAuthorization, "license key rejected")
	}

	g.user, g.features, g.expires, g.ok = user, claims.Features, claims.ExpiresAt.Time, true
	g.log.Infow("License authorized", "user", user, "features", claims.Features.String(), "expires", g.expires.Format(time.DateOnly))
	return nil
}

// Check fails unless the gate is authorized, unexpired and covers f
func (g *Gate) Check(f Feature) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.ok {
		return errors.Initialization(errors.CodeUninitialized, "license not authorized")
	}
	if !g.now().Before(g.expires) {
		return errors.Initialization(errors.CodeExpiredKey, "license key expired")
	}
	for _, fn := range featureNames {
		if f.Has(fn.f) && !g.features.Has(fn.f) {
			return errors.Permission(fn.code, fmt.Sprintf("license does not cover %s", fn.name))
		}
	}
	return nil
}

// Features returns the licensed features
func (g *Gate) Features() Feature {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.features
}

// User returns the authorized user
func (g *Gate) User() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.user
}

// Expires returns the key's expiry
func (g *Gate) Expires() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.expires
}
