// Package cmd implements vnfsd's command-line surface, following
// gcsfuse/cmd's cobra+viper shape: a persistent flag set bound once in
// init(), a config file optionally layered on top in initConfig, and a
// single RunE that validates and mounts.
package cmd

import (
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/virtio-nfs/vnfsd/cfg"
)

var (
	cfgFile      string
	bindErr      error
	unmarshalErr error

	// Config is the fully resolved configuration by the time RunE runs.
	Config cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "vnfsd --server host:port --export /path --mount-point /mnt",
	Short: "Mount an NFSv4 export locally via FUSE",
	Long: `vnfsd translates FUSE filesystem operations on a local mount point
into NFSv4 COMPOUND procedure calls against a remote NFSv4 server,
the same shape as the virtionfs C implementation it descends from.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		if err := Config.Validate(); err != nil {
			return err
		}
		return runMount(cmd.Context(), Config)
	},
}

// Execute runs the root command, exiting the process on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "path to an optional yaml config file")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			unmarshalErr = fmt.Errorf("cmd: reading config file: %w", err)
			return
		}
	}
	// Config's fields carry yaml tags (e.g. "mount-point"), which are also
	// the viper keys BindFlags binds; decode by them.
	unmarshalErr = viper.Unmarshal(&Config, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	})
}
