package cfg

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindFlagsAndUnmarshal(t *testing.T) {
	viper.Reset()
	fs := pflag.NewFlagSet("vnfsd", pflag.ContinueOnError)
	require.NoError(t, BindFlags(fs))

	require.NoError(t, fs.Parse([]string{
		"--server=nfs.example.internal:2049",
		"--export=/srv/data",
		"--nthreads=64",
	}))

	var c Config
	require.NoError(t, viper.Unmarshal(&c))
	assert.Equal(t, "nfs.example.internal:2049", c.Server)
	assert.Equal(t, "/srv/data", c.Export)
	assert.Equal(t, 64, c.NThreads)
}

func TestValidateRejectsRelativeExport(t *testing.T) {
	c := Config{Server: "s", Export: "srv/data", MountPoint: "/mnt", NThreads: 1}
	assert.Error(t, c.Validate())
}

func TestValidateRejectsMissingServer(t *testing.T) {
	c := Config{Export: "/srv/data", MountPoint: "/mnt", NThreads: 1}
	assert.Error(t, c.Validate())
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	c := Config{Server: "s", Export: "/srv/data", MountPoint: "/mnt", NThreads: 1}
	assert.NoError(t, c.Validate())
}
