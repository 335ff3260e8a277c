package main

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
)

// Catches missing providers and cycles without connecting to anything.
func TestAppGraph(t *testing.T) {
	require.NoError(t, fx.ValidateApp(app()))
}
