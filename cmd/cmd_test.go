package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyrazorblade/edl/internal/config"
	"github.com/rustyrazorblade/edl/pkg/types"
)

func TestClusterTagsKeepOwnership(t *testing.T) {
	settings = &config.Settings{Tags: map[string]string{"team": "db", types.TagOwner: "someone-else"}}

	tags := clusterTags("demo")
	assert.Equal(t, map[string]string{
		"team":           "db",
		types.TagOwner:   types.OwnerValue,
		types.TagCluster: "demo",
	}, tags)

	assert.NotContains(t, clusterTags(""), types.TagCluster)
	assert.Len(t, settings.Tags, 2)
}

func TestInitConfigReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ssh_port: 2200\nstate_backend: ssm\n"), 0644))

	cfgFile, logLevel, logFormat = path, "debug", "json"
	t.Cleanup(func() { cfgFile, logLevel, logFormat = "", "info", "text" })

	require.NoError(t, initConfig(rootCmd, nil))
	assert.Equal(t, int32(2200), settings.SSHPort)
	assert.Equal(t, config.BackendSSM, settings.StateBackend)
}

func TestInitConfigRejectsBadLogFlags(t *testing.T) {
	t.Cleanup(func() { logLevel, logFormat = "info", "text" })

	logLevel, logFormat = "loud", "text"
	assert.Error(t, initConfig(rootCmd, nil))

	logLevel, logFormat = "info", "xml"
	assert.Error(t, initConfig(rootCmd, nil))
}

func TestDownRejectsConflictingTargets(t *testing.T) {
	t.Cleanup(func() { downVPC, downAll, downDeleteBucket = "", false, false })

	downVPC, downAll = "vpc-1", true
	err := runDown(downCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")

	downAll, downDeleteBucket = false, true
	err = runDown(downCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "current cluster")
}

func TestUpNeedsZonesAndCIDRs(t *testing.T) {
	settings = &config.Settings{SSHPort: 22}
	t.Cleanup(func() { upAZs, upSSHCIDRs = nil, nil })

	err := runUp(upCmd, []string{"demo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "availability zones")

	upAZs = []string{"us-west-2a"}
	err = runUp(upCmd, []string{"demo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SSH CIDRs")
}
