package pgutils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatVector(t *testing.T) {
	tests := []struct {
		name string
		v    []float32
		want string
	}{
		{"empty slice", []float32{}, "[]"},
		{"nil slice", nil, "[]"},
		{"single element", []float32{0.5}, "[0.5]"},
		{"three elements", []float32{0.1, 0.2, 0.3}, "[0.1,0.2,0.3]"},
		{"integer values", []float32{1, 2, 3}, "[1,2,3]"},
		{"negative values", []float32{-0.5, 0, 0.5}, "[-0.5,0,0.5]"},
		{"very small values", []float32{0.0001, 0.0002}, "[0.0001,0.0002]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatVector(tt.v); got != tt.want {
				t.Errorf("FormatVector() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatVectorLargeSlice(t *testing.T) {
	v := make([]float32, 768)
	for i := range v {
		v[i] = float32(i) * 0.001
	}

	result := FormatVector(v)

	assert.True(t, strings.HasPrefix(result, "["))
	assert.True(t, strings.HasSuffix(result, "]"))
	assert.Equal(t, 767, strings.Count(result, ","))
}

func TestParseVector(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []float32
		wantErr bool
	}{
		{"empty", "[]", []float32{}, false},
		{"values", "[0.1,-0.5,2]", []float32{0.1, -0.5, 2}, false},
		{"spaces", " [ 1 , 2 ] ", []float32{1, 2}, false},
		{"missing brackets", "1,2", nil, true},
		{"bad component", "[1,x]", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVector(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVectorValuerScanner(t *testing.T) {
	v := Vector{0.25, -1}
	val, err := v.Value()
	require.NoError(t, err)
	assert.Equal(t, "[0.25,-1]", val)

	empty, err := Vector(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, empty, "empty vector should store NULL")

	var scanned Vector
	require.NoError(t, scanned.Scan("[0.25,-1]"))
	assert.Equal(t, v, scanned)

	require.NoError(t, scanned.Scan([]byte("[3]")))
	assert.Equal(t, Vector{3}, scanned)

	require.NoError(t, scanned.Scan(nil))
	assert.Nil(t, scanned)

	assert.Error(t, scanned.Scan(42))
}
