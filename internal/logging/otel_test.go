package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDualCore(t *testing.T) {
	tests := []struct {
		name    string
		output  OutputConfig
		wantErr bool
	}{
		{"stderr only", OutputConfig{Stderr: true}, false},
		{"otel without provider falls back to stderr", OutputConfig{Stderr: true, OTEL: true}, false},
		{"otel only without provider", OutputConfig{OTEL: true}, true},
		{"no outputs", OutputConfig{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Output = tt.output

			core, err := newDualCore(cfg, nil)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "at least one output")
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, core)
		})
	}
}
