package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/bond-oas-engine/pkg/utils/errors"
)

var secret = []byte("test-secret")

func TestGateLifecycle(t *testing.T) {
	now := time.Now()
	g := NewGate(secret).WithClock(func() time.Time { return now })

	err := g.Check(FeatureNone)
	assert.True(t, errors.HasCode(err, errors.CodeUninitialized))
	assert.True(t, errors.HasClass(err, errors.ClassInitialization))

	key, err := Issue(secret, "alice", now.Add(24*time.Hour), FeatureLattice|FeatureAfterTax)
	require.NoError(t, err)
	require.NoError(t, g.Authorize("alice", key))
	assert.Equal(t, "alice", g.User())
	assert.Equal(t, FeatureLattice|FeatureAfterTax, g.Features())

	assert.NoError(t, g.Check(FeatureNone))
	assert.NoError(t, g.Check(FeatureLattice|FeatureAfterTax))
	err = g.Check(FeatureScenarios)
	assert.True(t, errors.HasCode(err, errors.CodePermissionScenarios))
	assert.True(t, errors.HasClass(err, errors.ClassPermission))

	now = now.Add(48 * time.Hour)
	assert.True(t, errors.HasCode(g.Check(FeatureNone), errors.CodeExpiredKey))
}

func TestAuthorizeRejects(t *testing.T) {
	good, err := Issue(secret, "alice", time.Now().Add(time.Hour), FeatureAll)
	require.NoError(t, err)
	forged, err := Issue([]byte("other"), "alice", time.Now().Add(time.Hour), FeatureAll)
	require.NoError(t, err)
	expired, err := Issue(secret, "alice", time.Now().Add(-time.Hour), FeatureAll)
	require.NoError(t, err)

	tests := []struct {
		name string
		user string
		key  string
		code errors.Code
	}{
		{"wrong user", "bob", good, errors.CodeAuthorization},
		{"wrong secret", "alice", forged, errors.CodeAuthorization},
		{"garbage", "alice", "not-a-key", errors.CodeAuthorization},
		{"expired", "alice", expired, errors.CodeExpiredKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(secret)
			err := g.Authorize(tt.user, tt.key)
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
			assert.True(t, errors.HasCode(g.Check(FeatureNone), errors.CodeUninitialized))
		})
	}
}

func TestFailedAuthorizeClosesGate(t *testing.T) {
	g := NewGate(secret)
	key, err := Issue(secret, "alice", time.Now().Add(time.Hour), FeatureAll)
	require.NoError(t, err)
	require.NoError(t, g.Authorize("alice", key))
	require.NoError(t, g.Check(FeatureAll))

	assert.Error(t, g.Authorize("alice", "bad"))
	assert.True(t, errors.HasCode(g.Check(FeatureNone), errors.CodeUninitialized))
}

func TestIssueValidation(t *testing.T) {
	_, err := Issue(nil, "alice", time.Now(), FeatureAll)
	assert.Error(t, err)
	_, err = Issue(secret, "", time.Now(), FeatureAll)
	assert.Error(t, err)
}

func TestParseFeatures(t *testing.T) {
	tests := []struct {
		in   []string
		want Feature
		ok   bool
	}{
		{[]string{"lattice"}, FeatureLattice, true},
		{[]string{"Lattice", " scenarios "}, FeatureLattice | FeatureScenarios, true},
		{[]string{"all"}, FeatureAll, true},
		{nil, FeatureNone, true},
		{[]string{"telepathy"}, 0, false},
	}
	for _, tt := range tests {
		got, err := ParseFeatures(tt.in)
		if !tt.ok {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	assert.Equal(t, "lattice,after_tax", (FeatureLattice | FeatureAfterTax).String())
	assert.Equal(t, "none", FeatureNone.String())
}
