package pgwire

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
)

// serverVersionRegexp matches the numeric prefix of a server_version value.
// PostgreSQL reports values like "14.2", "9.6.24", "17beta1", or
// "15.1 (Debian 15.1-1.pgdg110+1)".
var serverVersionRegexp = regexp.MustCompile(`^(\d+)(?:\.(\d+))?(?:\.(\d+))?`)

// ParseServerVersion parses the value of the server_version run-time
// parameter into a comparable version. Pre-release and distribution suffixes
// are ignored.
func ParseServerVersion(s string) (*semver.Version, error) {
	m := serverVersionRegexp.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("cannot parse server_version %q", s)
	}

	v := m[1]
	for _, part := range m[2:] {
		if part == "" {
			part = "0"
		}
		v += "." + part
	}

	return semver.NewVersion(v)
}

// ServerVersion returns the server's reported version. It is only available
// after the server has sent its initial ParameterStatus messages through
// this transport.
func (t *PipelineTransport) ServerVersion() (*semver.Version, error) {
	s := t.ParameterStatus("server_version")
	if s == "" {
		return nil, errors.New("server_version not reported yet")
	}
	return ParseServerVersion(s)
}
