package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
)

func init() {
	// Default logging to discard until a level is configured
	log.SetOutput(io.Discard)
}

// Daemon is the notification service process: it owns the fsnotify
// watches and answers notify requests on the IPC socket.
type Daemon struct {
	ipcServer *Server
	service   *NotifyService
	logFile   *os.File
	stopCh    chan struct{}
	stopOnce  sync.Once
	lock      *flock.Flock

	// LogLevel sets the logging level: trace, debug, info, warn, off (default: off)
	LogLevel string

	settingsMu sync.Mutex
	settings   *GlobalSettings
}

// New creates a new daemon instance
func New() *Daemon {
	return &Daemon{stopCh: make(chan struct{})}
}

// Run starts the daemon and blocks until stopped
func (d *Daemon) Run() error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}

	settings, err := LoadGlobalSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	d.settings = settings
	if d.LogLevel == "" {
		d.LogLevel = settings.LogLevel
	}

	// Acquire exclusive lock
	d.lock = flock.New(LockPath())
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another daemon instance is already running")
	}
	defer d.lock.Unlock()

	if err := d.openLog(d.LogLevel); err != nil {
		return err
	}
	defer d.closeLog()

	if err := d.writePidFile(); err != nil {
		return err
	}
	defer d.removePidFile()

	log.Infof("[Daemon] started (PID %d)", os.Getpid())

	if err := d.startService(settings.CoalesceInterval()); err != nil {
		return err
	}
	d.service.SetIgnore(settings.NotifyIgnore)
	defer d.service.Close()

	log.Infof("[Daemon] starting IPC server at %s", SocketPath())
	d.ipcServer = NewServer(d.handleRequest)
	if err := d.ipcServer.Start(); err != nil {
		log.Errorf("[Daemon] IPC server failed to start: %v", err)
		return err
	}
	defer d.ipcServer.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Infof("[Daemon] received signal %v, shutting down", sig)
	case <-d.stopCh:
		log.Infof("[Daemon] stop requested, shutting down")
	}

	log.Infof("[Daemon] stopped")
	return nil
}

func (d *Daemon) startService(coalesce time.Duration) error {
	svc, err := NewNotifyService(coalesce)
	if err != nil {
		return err
	}
	d.service = svc
	return nil
}

// openLog sends logrus output to LogPath() when level enables logging
func (d *Daemon) openLog(level string) error {
	if !LoggingEnabled(level) {
		ConfigureLogging(level, io.Discard)
		return nil
	}
	// Truncate log file if it exceeds 50MB
	if err := d.truncateLogFile(50 * 1024 * 1024); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to truncate log file: %v\n", err)
	}
	logFile, err := os.OpenFile(LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	d.logFile = logFile
	ConfigureLogging(level, logFile)
	return nil
}

func (d *Daemon) closeLog() {
	if d.logFile != nil {
		log.SetOutput(io.Discard)
		d.logFile.Close()
		d.logFile = nil
	}
}

// handleRequest processes an IPC request
func (d *Daemon) handleRequest(ctx context.Context, req *Request, reply func(*Response) error) *Response {
	switch req.Type {
	case RequestNotify:
		return d.handleNotify(ctx, req, reply)
	case RequestNotifyCancel:
		return d.handleNotifyCancel(req)
	case RequestStatus:
		return d.handleStatus()
	case RequestStop:
		return d.handleStop()
	case RequestReloadConfig:
		return d.handleReloadConfig()
	default:
		return &Response{Success: false, Error: "unknown request type"}
	}
}

func (d *Daemon) handleNotify(ctx context.Context, req *Request, reply func(*Response) error) *Response {
	handle, results, err := d.service.Register(req.Path, req.Recursive, req.CompletionFilter)
	if err != nil {
		log.Debugf("[Daemon] notify %s id=%d: %v", req.RequestID, req.NotifyID, err)
		return &Response{Success: false, Error: err.Error()}
	}
	if err := reply(&Response{Success: true, Handle: handle, Pending: true}); err != nil {
		d.service.Drop(handle)
		return nil
	}

	select {
	case res := <-results:
		return &Response{
			Success:   true,
			Handle:    handle,
			Status:    res.Status,
			ResultLen: len(res.Buffer),
			Result:    res.Buffer,
		}
	case <-ctx.Done():
		d.service.Drop(handle)
		return nil
	}
}

func (d *Daemon) handleNotifyCancel(req *Request) *Response {
	if !d.service.Cancel(req.Handle) {
		return &Response{Success: true, Message: fmt.Sprintf("handle %d not outstanding", req.Handle)}
	}
	return &Response{Success: true}
}

func (d *Daemon) handleStatus() *Response {
	return &Response{
		Success: true,
		PID:     os.Getpid(),
		Watches: d.service.Count(),
	}
}

func (d *Daemon) handleStop() *Response {
	d.stopOnce.Do(func() { close(d.stopCh) })
	return &Response{Success: true, Message: "Daemon stopping"}
}

func (d *Daemon) handleReloadConfig() *Response {
	settings, err := LoadGlobalSettings()
	if err != nil {
		return &Response{Success: false, Error: fmt.Sprintf("failed to load settings: %v", err)}
	}

	d.settingsMu.Lock()
	d.settings = settings
	d.settingsMu.Unlock()

	d.closeLog()
	if err := d.openLog(settings.LogLevel); err != nil {
		return &Response{Success: false, Error: err.Error()}
	}
	d.LogLevel = settings.LogLevel
	d.service.SetCoalesce(settings.CoalesceInterval())
	d.service.SetIgnore(settings.NotifyIgnore)

	log.Infof("[Daemon] config reloaded (log_level=%q, notify_coalesce_ms=%d)", settings.LogLevel, settings.NotifyCoalesceMs)
	return &Response{Success: true, Message: "Config reloaded"}
}

func (d *Daemon) writePidFile() error {
	data := []byte(strconv.Itoa(os.Getpid()))
	return os.WriteFile(PidPath(), data, 0600)
}

func (d *Daemon) removePidFile() {
	os.Remove(PidPath())
}

// GetPID reads the daemon PID from file
func GetPID() (int, error) {
	data, err := os.ReadFile(PidPath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}

// truncateLogFile truncates the log file if it exceeds maxSize bytes.
// It keeps the last half of the file content to preserve recent logs.
func (d *Daemon) truncateLogFile(maxSize int64) error {
	logPath := LogPath()

	info, err := os.Stat(logPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() <= maxSize {
		return nil
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		return err
	}

	keepSize := len(data) / 2
	startIdx := len(data) - keepSize

	// Find the next newline to avoid cutting a line in the middle
	for i := startIdx; i < len(data); i++ {
		if data[i] == '\n' {
			startIdx = i + 1
			break
		}
	}

	truncatedData := data[startIdx:]
	header := []byte(fmt.Sprintf("--- Log truncated at %s (kept last %d bytes) ---\n",
		time.Now().Format(time.RFC3339), len(truncatedData)))

	return os.WriteFile(logPath, append(header, truncatedData...), 0600)
}
