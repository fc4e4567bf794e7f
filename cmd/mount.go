package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/timeutil"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/virtio-nfs/vnfsd/cfg"
	"github.com/virtio-nfs/vnfsd/internal/logger"
	"github.com/virtio-nfs/vnfsd/internal/metrics"
	"github.com/virtio-nfs/vnfsd/internal/nfs4"
	"github.com/virtio-nfs/vnfsd/internal/vnfs"
)

// runMount dials the NFSv4 server, wires up logging and metrics, builds the
// Facade, and mounts it at config.MountPoint. It blocks until the mount is
// unmounted (normally by the kernel, at process shutdown or `fusermount -u`).
func runMount(ctx context.Context, config cfg.Config) error {
	logger.Init(os.Stderr, false, logger.ParseSeverity(config.Debug.LogLevel))

	metricsHandle, err := newMetricsHandle(ctx, config.Metrics)
	if err != nil {
		return fmt.Errorf("cmd: setting up metrics: %w", err)
	}

	client, err := nfs4.Dial(ctx, config.Server, config.Identity.UID, config.Identity.GID)
	if err != nil {
		return fmt.Errorf("cmd: dialing %q: %w", config.Server, err)
	}

	facade := vnfs.New(config, client, timeutil.RealClock(), metricsHandle)

	if err := os.MkdirAll(config.MountPoint, 0o755); err != nil {
		return fmt.Errorf("cmd: creating mount point %q: %w", config.MountPoint, err)
	}

	errorLogger := log.New(os.Stderr, "vnfsd: ", 0)
	mountConfig := &fuse.MountConfig{
		FSName:      "vnfsd",
		Subtype:     "nfs4",
		ReadOnly:    false,
		ErrorLogger: errorLogger,
		Options:     optionMap(config.MountOptions),
	}
	if config.Timeout > 0 {
		// A non-zero timeout enables the kernel's writeback cache. Attribute
		// and entry expirations stay at zero either way.
		mountConfig.DisableWritebackCaching = false
	} else {
		mountConfig.DisableWritebackCaching = true
	}
	if config.Debug.Fuse {
		mountConfig.DebugLogger = log.New(os.Stdout, "vnfsd: fuse: ", 0)
	}

	server := fuseutil.NewFileSystemServer(facade)
	mfs, err := fuse.Mount(config.MountPoint, server, mountConfig)
	if err != nil {
		return fmt.Errorf("cmd: mounting at %q: %w", config.MountPoint, err)
	}

	logger.Infof("mounted export %q from %q at %q; serving requests while bootstrap completes", config.Export, config.Server, config.MountPoint)
	go func() {
		if err := facade.Gate().Wait(ctx); err != nil {
			logger.Errorf("bootstrap never completed: %v", err)
			return
		}
		logger.Infof("bootstrap complete, data path is live")
	}()

	return mfs.Join(ctx)
}

// optionMap turns the "key=value" mount-options strings into the map
// fuse.MountConfig.Options expects; a bare "key" is treated as a
// valueless flag, matching the bazilfuse option convention the samples
// pass through.
func optionMap(opts []string) map[string]string {
	if len(opts) == 0 {
		return nil
	}
	m := make(map[string]string, len(opts))
	for _, opt := range opts {
		key, value := opt, ""
		for i := range opt {
			if opt[i] == '=' {
				key, value = opt[:i], opt[i+1:]
				break
			}
		}
		m[key] = value
	}
	return m
}

// newMetricsHandle builds the OTel instrument handle backing every
// handler's RecordSubmitted/RecordFailed/RecordLatency calls, exported over
// Prometheus when config.Address is set and left un-exported (but still
// live, for tests and future wiring) otherwise.
func newMetricsHandle(ctx context.Context, config cfg.MetricsConfig) (*metrics.Handle, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("cmd: building prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("vnfsd")

	if config.Address != "" {
		go serveMetrics(config.Address)
	}

	return metrics.NewOTelMetrics(ctx, meter)
}

// serveMetrics exposes the otel prometheus exporter's default registration
// over HTTP. It runs for the lifetime of the process; a listen failure is
// logged rather than fatal, since metrics are diagnostic, not load-bearing.
func serveMetrics(address string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(address, mux); err != nil {
		logger.Errorf("metrics server on %q exited: %v", address, err)
	}
}
