package namespace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNames(t *testing.T) {
	ns := New("app", "v1")
	assert.Equal(t, "app-v1", ns.Static())
	assert.Equal(t, "app-v1-cdn", ns.External())
	assert.Equal(t, "app-v1-api", ns.API())
	assert.Equal(t, ns, New("app", "1"))
}

func TestVersionOf(t *testing.T) {
	ns := New("portfolio", "1.0.0")
	tests := []struct {
		name    string
		version string
		ok      bool
	}{
		{"portfolio-v1.0.0", "1.0.0", true},
		{"portfolio-v0.9.0-cdn", "0.9.0", true},
		{"portfolio-v2-api", "2", true},
		{"other-v1", "", false},
		{"portfolio-v", "", false},
		{"portfolio-vendor-v1", "", false},
		{"portfolio-vault", "", false},
		{"portfolio-v1-beta", "", false},
	}
	for _, tt := range tests {
		version, ok := ns.VersionOf(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		assert.Equal(t, tt.version, version, tt.name)
	}
}

func TestIsStale(t *testing.T) {
	ns := New("app", "v2")
	assert.True(t, ns.IsStale("app-v1"))
	assert.True(t, ns.IsStale("app-v1-cdn"))
	assert.False(t, ns.IsStale("app-v2"))
	assert.False(t, ns.IsStale("app-v2-cdn"))
	assert.False(t, ns.IsStale("app-v2-api"))
	assert.False(t, ns.IsStale("someone-else"))
	assert.False(t, ns.IsStale("app-vendor-v1"))
	assert.False(t, ns.IsStale("app-vendor-v1-cdn"))
}
