package flagx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilterArgs_SeparateValue(t *testing.T) {
	got := FilterArgs([]string{"-a", ":8080", "-x", "ignored", "-d", "dsn"}, []string{"-a", "-d"})
	require.Equal(t, []string{"-a", ":8080", "-d", "dsn"}, got)
}

func TestFilterArgs_EqualsForm(t *testing.T) {
	got := FilterArgs([]string{"--config=conf.json", "--other=zzz"}, []string{"--config"})
	require.Equal(t, []string{"--config=conf.json"}, got)
}

func TestFilterArgs_FlagFollowedByFlag(t *testing.T) {
	// "-a" has no value here; the following "-d" must not be swallowed.
	got := FilterArgs([]string{"-a", "-d", "dsn"}, []string{"-a", "-d"})
	require.Equal(t, []string{"-a", "-d", "dsn"}, got)
}

func TestFilterArgs_Empty(t *testing.T) {
	got := FilterArgs(nil, []string{"-a"})
	require.NotNil(t, got)
	require.Empty(t, got)
}
