package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/your-org/facesync/internal/config"
	"github.com/your-org/facesync/internal/match"
)

func TestNewMatcher(t *testing.T) {
	assert.IsType(t, &match.Engine{}, NewMatcher(config.BiometricConfig{Matcher: "brute", Tolerance: 0.4, Dimension: 128}))
	assert.IsType(t, &match.HNSW{}, NewMatcher(config.BiometricConfig{Matcher: "hnsw", Tolerance: 0.4, Dimension: 128}))
}
