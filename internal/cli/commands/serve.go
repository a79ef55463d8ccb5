package commands

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ntvfs/internal/daemon"
	"ntvfs/internal/metrics"
	"ntvfs/internal/vfs"
)

var serveCmd = &cobra.Command{
	Use:   "serve [root]",
	Short: "Serve a directory over SMB",
	Long: `Serves a directory over SMB with NTFS semantics.

Unset flags fall back to ~/.ntvfs/settings.yaml.

Examples:
  ntvfs serve /srv/share
  ntvfs serve --share data --listen 0.0.0.0:445 /srv/share
  ntvfs serve --metrics-addr 127.0.0.1:9100 /srv/share
  ntvfs serve --caseless /srv/share`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

var serveShare string
var serveListen string
var serveMetricsAddr string
var serveWithNotifyd bool
var serveCaseless bool

func init() {
	serveCmd.Flags().StringVar(&serveShare, "share", "", "Share name")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "SMB listen address")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	serveCmd.Flags().BoolVar(&serveCaseless, "caseless", false, "Match file names case-insensitively")
	serveCmd.Flags().BoolVar(&serveWithNotifyd, "notifyd", true, "Start the notification daemon if it is not running")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	settings, err := daemon.LoadGlobalSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	applyServeFlags(settings, args)
	if settings.Root == "" {
		return fmt.Errorf("no root directory: pass one or set root in %s", daemon.GlobalSettingsPath())
	}
	root, err := filepath.Abs(settings.Root)
	if err != nil {
		return fmt.Errorf("failed to resolve root: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	fs, err := vfs.NewPosixFS(root,
		vfs.WithMetrics(m),
		vfs.WithLockRetry(settings.LockRetryInterval()),
		vfs.WithCaseInsensitive(settings.CaseInsensitive),
	)
	if err != nil {
		return err
	}
	defer fs.Shutdown()

	if serveWithNotifyd {
		if err := StartDaemonIfNeeded(true); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not start notification daemon: %v\n", err)
		}
	}

	if settings.MetricsAddr != "" {
		ms := daemon.NewMetricsServer(settings.MetricsAddr, reg)
		if err := ms.Start(); err != nil {
			return err
		}
		defer ms.Close()
		fmt.Printf("Metrics on http://%s/metrics\n", settings.MetricsAddr)
	}

	srv := daemon.NewSMBServer(fs, settings.ShareName)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(settings.ListenAddr) }()
	log.Infof("[Serve] %s as \\\\%s\\%s", root, settings.ListenAddr, settings.ShareName)
	fmt.Printf("Serving %s as share %q on %s\n", root, settings.ShareName, settings.ListenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Infof("[Serve] received signal %v, shutting down", sig)
		srv.Shutdown()
		return nil
	case err := <-errCh:
		return err
	}
}

// applyServeFlags overlays command-line values on settings
func applyServeFlags(settings *daemon.GlobalSettings, args []string) {
	if len(args) > 0 {
		settings.Root = args[0]
	}
	if serveShare != "" {
		settings.ShareName = serveShare
	}
	if serveListen != "" {
		settings.ListenAddr = serveListen
	}
	if serveMetricsAddr != "" {
		settings.MetricsAddr = serveMetricsAddr
	}
	if serveCaseless {
		settings.CaseInsensitive = true
	}
}
