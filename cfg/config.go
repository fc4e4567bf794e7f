// Package cfg defines vnfsd's configuration surface and binds it to cobra
// flags via viper, the same BindFlags pattern the teacher (gcsfuse) uses
// for its own Config struct.
package cfg

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is vnfsd's full runtime configuration.
type Config struct {
	// Server is the NFSv4 server's host[:port] (nfs4.Dial uses port 2049 if
	// it is omitted).
	Server string `yaml:"server"`

	// Export is the absolute path of the NFS export to translate, e.g.
	// "/srv/data".
	Export string `yaml:"export"`

	// MountPoint is the local path the FUSE filesystem is mounted at.
	MountPoint string `yaml:"mount-point"`

	Debug DebugConfig `yaml:"debug"`

	Identity IdentityConfig `yaml:"identity"`

	// Timeout is not passed to the kernel as an attribute or entry
	// expiration (handlers leave both at zero) and does not enable caching
	// inside vnfsd itself; see spec Non-goals. A non-zero value unlocks the
	// writeback-cache FUSE capability at mount time.
	Timeout time.Duration `yaml:"timeout"`

	// NThreads sizes the continuation pool (C1): the maximum number of
	// outstanding NFSv4 COMPOUND calls vnfsd will pipeline at once.
	NThreads int `yaml:"nthreads"`

	Metrics MetricsConfig `yaml:"metrics"`

	// MountOptions are passed through verbatim to the FUSE mount.
	MountOptions []string `yaml:"mount-options"`
}

// DebugConfig sets the log severity and toggles verbose FUSE-level logging,
// mirroring gcsfuse's cfg.DebugConfig. It does not toggle the reqtrace spans,
// which follow reqtrace's own enable flag.
type DebugConfig struct {
	LogLevel string `yaml:"log-level"`
	Fuse     bool   `yaml:"fuse"`
}

// MetricsConfig controls the optional Prometheus exporter.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// IdentityConfig carries the uid/gid stamped on every RPC's AUTH_SYS
// credential (see nfs4.Dial). The process's own effective uid/gid switch is
// driven separately, per call, from each INIT request's own header -- see
// Facade.switchIdentity -- since that is the value spec.md's §6 actually
// names.
type IdentityConfig struct {
	UID uint32 `yaml:"uid"`
	GID uint32 `yaml:"gid"`
}

// BindFlags registers every Config field as a pflag on flagSet and binds it
// through viper, following gcsfuse/cfg.BindFlags's flag->viper-key->struct
// field pattern.
func BindFlags(flagSet *pflag.FlagSet) error {
	flagSet.String("server", "", "NFSv4 server address (host[:port])")
	flagSet.String("export", "", "absolute path of the NFS export to translate")
	flagSet.String("mount-point", "", "local path to mount the FUSE filesystem at")
	flagSet.Duration("timeout", 0, "non-zero enables the FUSE writeback cache; attributes are never cached")
	flagSet.Int("nthreads", 32, "maximum number of outstanding NFSv4 COMPOUND calls")
	flagSet.String("debug.log-level", "INFO", "log severity: TRACE, DEBUG, INFO, WARNING, ERROR")
	flagSet.Bool("debug.fuse", false, "enable verbose FUSE-level tracing")
	flagSet.String("metrics.address", "", "address to serve Prometheus metrics on; empty disables it")
	flagSet.StringSlice("mount-options", nil, "extra options passed through to the FUSE mount")
	flagSet.Uint32("identity.uid", 0, "uid stamped on every RPC's AUTH_SYS credential")
	flagSet.Uint32("identity.gid", 0, "gid stamped on every RPC's AUTH_SYS credential")

	for _, key := range []string{
		"server", "export", "mount-point", "timeout", "nthreads",
		"debug.log-level", "debug.fuse", "metrics.address", "mount-options",
		"identity.uid", "identity.gid",
	} {
		if err := viper.BindPFlag(key, flagSet.Lookup(key)); err != nil {
			return fmt.Errorf("cfg: binding flag %q: %w", key, err)
		}
	}
	return nil
}

// Validate checks the fields spec.md's "Environment" section requires to
// be correct before any mount is attempted.
func (c Config) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("cfg: server is required")
	}
	if c.Export == "" || c.Export[0] != '/' {
		return fmt.Errorf("cfg: export must start with '/'")
	}
	if c.MountPoint == "" {
		return fmt.Errorf("cfg: mount-point is required")
	}
	if c.NThreads <= 0 {
		return fmt.Errorf("cfg: nthreads must be positive")
	}
	return nil
}
