package daemon

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	smb2 "github.com/macos-fuse-t/go-smb2/server"
	"github.com/macos-fuse-t/go-smb2/vfs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// SMBServer wraps the go-smb2 server
type SMBServer struct {
	server *smb2.Server
}

// NewSMBServer creates a new SMB server exporting fs as shareName
func NewSMBServer(fs vfs.VFSFileSystem, shareName string) *SMBServer {
	smbCfg := &smb2.ServerConfig{
		AllowGuest:  true,
		MaxIOReads:  4,
		MaxIOWrites: 4,
	}

	shares := map[string]vfs.VFSFileSystem{
		shareName: fs,
	}

	auth := &smb2.NTLMAuthenticator{
		NbDomain:   "WORKGROUP",
		NbName:     "NTVFS",
		DnsName:    "ntvfs.local",
		DnsDomain:  ".local",
		AllowGuest: true,
	}

	return &SMBServer{
		server: smb2.NewServer(smbCfg, auth, shares),
	}
}

// Serve starts the SMB server
func (s *SMBServer) Serve(addr string) error {
	return s.server.Serve(addr)
}

// Shutdown stops the SMB server
func (s *SMBServer) Shutdown() {
	s.server.Shutdown()
}

// MetricsServer serves /metrics for a registry
type MetricsServer struct {
	srv *http.Server
}

// NewMetricsServer exposes gatherer on addr under /metrics
func NewMetricsServer(addr string, gatherer prometheus.Gatherer) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &MetricsServer{srv: &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Start listens and serves in the background
func (m *MetricsServer) Start() error {
	ln, err := net.Listen("tcp", m.srv.Addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", m.srv.Addr, err)
	}
	go func() {
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("[Metrics] serve: %v", err)
		}
	}()
	return nil
}

// Close stops the server
func (m *MetricsServer) Close() error {
	return m.srv.Close()
}
