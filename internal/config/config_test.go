package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "5000", cfg.Port)
	assert.Equal(t, 0.75, cfg.SLAConfidenceThreshold)
	assert.Equal(t, 0.85, cfg.DuplicateThreshold)
	assert.Equal(t, 20, cfg.DuplicateMinChars)
	assert.Equal(t, 10, cfg.RoutingMinChars)
	assert.Equal(t, "General", cfg.DefaultDepartment)
	assert.Equal(t, 800*time.Millisecond, cfg.LiveRoutingDelay)
	assert.Equal(t, 2*time.Second, cfg.LiveDuplicateDelay)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DUPLICATE_RADIUS_KM", "0.5")
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.DuplicateRadiusKm)
	assert.Equal(t, "9090", cfg.Port)
}

func TestValidate(t *testing.T) {
	base := Config{
		DuplicateRadiusKm:      0.3,
		DuplicateThreshold:     0.85,
		SLAConfidenceThreshold: 0.75,
		RoutingMinConfidence:   0.6,
		EmbeddingDimensions:    8,
	}
	require.NoError(t, base.Validate())

	bad := base
	bad.SLAConfidenceThreshold = 1.5
	assert.Error(t, bad.Validate())

	bad = base
	bad.DuplicateRadiusKm = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.EmbeddingDimensions = 0
	assert.Error(t, bad.Validate())
}
