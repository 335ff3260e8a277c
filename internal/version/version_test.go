package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildInfoString(t *testing.T) {
	assert.Equal(t, "1.2.0 (abc123def456-dirty) go1.24.12",
		BuildInfo{Version: "1.2.0", GitCommit: "abc123def456", Modified: true, GoVersion: "go1.24.12"}.String())
	assert.Equal(t, "dev go1.24.12", BuildInfo{Version: "dev", GoVersion: "go1.24.12"}.String())
}

func TestInfoKeepsStampedValues(t *testing.T) {
	Version, GitCommit = "9.9.9", "feedbeef"
	t.Cleanup(func() { Version, GitCommit = "dev", "" })

	info := Info()
	assert.Equal(t, "9.9.9", info.Version)
	assert.Equal(t, "feedbeef", info.GitCommit)
	assert.NotEmpty(t, info.GoVersion)
}
