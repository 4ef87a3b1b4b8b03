package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calign/retime/internal/video"
)

// TestMemoryBudgetValidation tests the per-session budget against the
// global budget across the combinations operators actually configure.
func TestMemoryBudgetValidation(t *testing.T) {
	tests := []struct {
		name          string
		maxTotal      int64
		maxPerSession int64
		expectError   bool
		errorContains string
	}{
		{
			name:          "Valid: session budget equals total",
			maxTotal:      1 << 30,
			maxPerSession: 1 << 30,
			expectError:   false,
		},
		{
			name:          "Valid: session budget below total",
			maxTotal:      1 << 30,
			maxPerSession: 1 << 29,
			expectError:   false,
		},
		{
			name:          "Invalid: session budget above total",
			maxTotal:      1 << 29,
			maxPerSession: 1 << 30,
			expectError:   true,
			errorContains: "cannot exceed max_total",
		},
		{
			name:          "Invalid: zero total",
			maxTotal:      0,
			maxPerSession: 1 << 20,
			expectError:   true,
			errorContains: "max_total must be positive",
		},
		{
			name:          "Invalid: zero session budget",
			maxTotal:      1 << 30,
			maxPerSession: 0,
			expectError:   true,
			errorContains: "max_per_session must be positive",
		},
		{
			name:          "Invalid: negative total",
			maxTotal:      -1,
			maxPerSession: 1 << 20,
			expectError:   true,
			errorContains: "max_total must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := MemoryConfig{
				MaxTotal:      tt.maxTotal,
				MaxPerSession: tt.maxPerSession,
			}
			err := cfg.Validate()
			if tt.expectError {
				assert.Error(t, err)
				if tt.errorContains != "" && err != nil {
					assert.Contains(t, err.Error(), tt.errorContains)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestMemoryDefaultsHoldWorkingSet checks the shipped defaults against
// the conversion's frame working set: two held sources, one blend
// destination and a small emission queue for the largest supported
// frame shape.
func TestMemoryDefaultsHoldWorkingSet(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	format, ok := video.FormatByName("yuv444p12")
	require.True(t, ok)

	frame := int64(format.FrameSize(3840, 2160))
	workingSet := 8 * frame

	assert.LessOrEqual(t, workingSet, cfg.Memory.MaxPerSession,
		"default per-session budget must hold a UHD high-depth working set")
	assert.LessOrEqual(t, cfg.Memory.MaxPerSession, cfg.Memory.MaxTotal)
}
