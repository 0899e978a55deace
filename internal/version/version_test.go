package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrent(t *testing.T) {
	require.NotPanics(t, func() { Current() })
	assert.Equal(t, Version, Current().String())
	assert.Equal(t, Version, String())
}

func TestCheckCompatibility(t *testing.T) {
	major := Current().Segments()[0]

	tests := []struct {
		name        string
		hostVersion string
		compatible  bool
		hostStr     string
	}{
		{
			name:        "same version",
			hostVersion: Version,
			compatible:  true,
			hostStr:     "v" + Version,
		},
		{
			name:        "same major with prerelease",
			hostVersion: "0.9.0-rc.1",
			compatible:  major == 0,
			hostStr:     "v0.9.0-rc.1",
		},
		{
			name:        "different major",
			hostVersion: "99.0.0",
			compatible:  false,
			hostStr:     "v99.0.0",
		},
		{
			name:        "unparseable",
			hostVersion: "dev",
			compatible:  false,
			hostStr:     "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckCompatibility(tt.hostVersion)

			assert.Equal(t, tt.compatible, result.Compatible)
			assert.Equal(t, tt.hostStr, result.HostVersion)
			assert.Equal(t, "v"+Version, result.ClientVersion)
			if !tt.compatible {
				assert.NotEmpty(t, result.Message)
			}
		})
	}
}
