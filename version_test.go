package pgwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerVersion(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "14.2", want: "14.2.0"},
		{input: "9.6.24", want: "9.6.24"},
		{input: "17beta1", want: "17.0.0"},
		{input: "15.1 (Debian 15.1-1.pgdg110+1)", want: "15.1.0"},
		{input: "10", want: "10.0.0"},
	}

	for _, tt := range tests {
		v, err := ParseServerVersion(tt.input)
		require.NoErrorf(t, err, "%q", tt.input)
		assert.Equalf(t, tt.want, v.String(), "%q", tt.input)
	}
}

func TestParseServerVersionInvalid(t *testing.T) {
	_, err := ParseServerVersion("EnterpriseDB special")
	require.Error(t, err)
}

func TestServerVersionComparable(t *testing.T) {
	a, err := ParseServerVersion("9.6.24")
	require.NoError(t, err)
	b, err := ParseServerVersion("14.2")
	require.NoError(t, err)

	assert.True(t, a.LessThan(b))
}
