package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormstack/lightning/pkg/errdefs"
)

// TestCoerce verifies boundary type coercion per declared tag
func TestCoerce(t *testing.T) {
	schema := Schema{
		"dx":     TypeFloat,
		"count":  TypeInt,
		"active": TypeBool,
		"target": TypeEntityID,
	}

	tests := []struct {
		name     string
		payload  map[string]any
		want     map[string]float32
		wantKind errdefs.Kind
	}{
		{
			name:    "valid payload",
			payload: map[string]any{"dx": 1.5, "count": float64(3), "active": true, "target": float64(7)},
			want:    map[string]float32{"dx": 1.5, "count": 3, "active": 1, "target": 7},
		},
		{
			name:    "false bool",
			payload: map[string]any{"dx": 0.0, "count": float64(0), "active": false, "target": float64(1)},
			want:    map[string]float32{"dx": 0, "count": 0, "active": 0, "target": 1},
		},
		{
			name:     "fractional int",
			payload:  map[string]any{"dx": 1.0, "count": 2.5, "active": true, "target": float64(1)},
			wantKind: errdefs.KindTypeError,
		},
		{
			name:     "string where float expected",
			payload:  map[string]any{"dx": "fast", "count": float64(1), "active": true, "target": float64(1)},
			wantKind: errdefs.KindTypeError,
		},
		{
			name:     "numeric bool rejected",
			payload:  map[string]any{"dx": 1.0, "count": float64(1), "active": 1.0, "target": float64(1)},
			wantKind: errdefs.KindTypeError,
		},
		{
			name:     "missing parameter",
			payload:  map[string]any{"dx": 1.0, "count": float64(1), "active": true},
			wantKind: errdefs.KindTypeError,
		},
		{
			name:     "unknown parameter",
			payload:  map[string]any{"dx": 1.0, "count": float64(1), "active": true, "target": float64(1), "typo": 1.0},
			wantKind: errdefs.KindBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(schema, tt.payload)
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.True(t, errdefs.IsKind(err, tt.wantKind), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestCoerceFractionalEntityID verifies id tags reject non-integral values
func TestCoerceFractionalEntityID(t *testing.T) {
	_, err := Coerce(Schema{"target": TypeEntityID}, map[string]any{"target": 3.7})
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindTypeError))
	assert.Equal(t, "target", errdefs.Details(err)["field"])
}
