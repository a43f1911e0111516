package config

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

// TestResolveEnvironment reads every variable from the lookup.
func TestResolveEnvironment(t *testing.T) {
	t.Parallel()

	env, err := ResolveEnvironment(mapLookup(map[string]string{
		EnvTag:           " 0.4.1 ",
		EnvOSName:        "Linux",
		EnvChannel:       "STABLE",
		EnvPullRequest:   "42",
		EnvBranch:        "master",
		EnvBuildDir:      "/home/travis/build/super",
		EnvCoverageToken: "token",
		EnvFeatures:      "certificate",
		EnvJobID:         "4242",
		EnvRunID:         "run-1",
	}))
	require.NoError(t, err)

	require.Equal(t, "0.4.1", env.Tag)
	require.True(t, env.HasTag())
	require.True(t, env.IsLinux())
	require.Equal(t, "stable", env.Channel)
	require.True(t, env.PullRequest)
	require.Equal(t, "/home/travis/build/super", env.BuildDir)
	require.Equal(t, "certificate", env.Features)
	require.Equal(t, "4242", env.JobID)
	require.Equal(t, "run-1", env.RunID)
}

// TestResolveEnvironment_Fallbacks covers the OS and build dir fallbacks.
func TestResolveEnvironment_Fallbacks(t *testing.T) {
	t.Parallel()

	env, err := ResolveEnvironment(mapLookup(map[string]string{EnvPullRequest: "false"}))
	require.NoError(t, err)

	require.False(t, env.HasTag())
	require.False(t, env.PullRequest)
	require.Equal(t, runtime.GOOS, env.OSName)
	require.NotEmpty(t, env.BuildDir)
}
