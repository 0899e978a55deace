package version

import (
	"fmt"

	"github.com/hashicorp/go-version"
)

// Version is the semantic version of ptyhost, shared by the host and its
// clients.
const Version = "0.1.0"

// Parse parses a version string using hashicorp's go-version library
func Parse(v string) (*version.Version, error) {
	return version.NewVersion(v)
}

// Current returns the current version as a parsed version object
// Panics if Version constant is not a valid semantic version
func Current() *version.Version {
	v, err := Parse(Version)
	if err != nil {
		panic(fmt.Sprintf("invalid version constant %q: %v", Version, err))
	}
	return v
}

// String returns the current version as a string
func String() string {
	return Version
}

// CompatibilityResult contains the result of version compatibility checking
type CompatibilityResult struct {
	Compatible    bool
	ClientVersion string
	HostVersion   string
	Message       string
}

// CheckCompatibility checks whether a host reporting hostVersion speaks the
// same invoke API as this client. Major versions must match.
func CheckCompatibility(hostVersion string) *CompatibilityResult {
	clientVersion := Current()
	clientVersionStr := "v" + clientVersion.String()

	hv, err := Parse(hostVersion)
	if err != nil {
		return &CompatibilityResult{
			Compatible:    false,
			ClientVersion: clientVersionStr,
			HostVersion:   "unknown",
			Message:       fmt.Sprintf("Unable to determine host version from %q", hostVersion),
		}
	}

	hostVersionStr := "v" + hv.String()

	if clientVersion.Segments()[0] != hv.Segments()[0] {
		return &CompatibilityResult{
			Compatible:    false,
			ClientVersion: clientVersionStr,
			HostVersion:   hostVersionStr,
			Message:       fmt.Sprintf("Major version mismatch: client %s, host %s", clientVersionStr, hostVersionStr),
		}
	}

	return &CompatibilityResult{
		Compatible:    true,
		ClientVersion: clientVersionStr,
		HostVersion:   hostVersionStr,
	}
}
