package commands

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"ntvfs/internal/daemon"
	"ntvfs/internal/notify"
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Print change notifications for a directory",
	Long: `Subscribes to a directory through the notification daemon the same way
an SMB CHANGE_NOTIFY does and prints each completed batch.

Filters: file, dir, attributes, size, write, access, creation, ea,
security, stream-name, stream-size, stream-write, all.

Examples:
  ntvfs watch /srv/share
  ntvfs watch --recursive --filter file,dir /srv/share
  ntvfs watch --count 1 --wire /srv/share`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var watchRecursive bool
var watchFilter string
var watchCount int
var watchWire bool
var watchMaxOutput int

func init() {
	watchCmd.Flags().BoolVarP(&watchRecursive, "recursive", "r", false, "Watch the whole subtree")
	watchCmd.Flags().StringVar(&watchFilter, "filter", "file,dir", "Comma-separated completion filter")
	watchCmd.Flags().IntVarP(&watchCount, "count", "n", 0, "Stop after this many batches (0 = until interrupted)")
	watchCmd.Flags().BoolVar(&watchWire, "wire", false, "Also dump each batch as FILE_NOTIFY_INFORMATION")
	watchCmd.Flags().IntVar(&watchMaxOutput, "max-output", 4096, "Output buffer length used with --wire")
	rootCmd.AddCommand(watchCmd)
}

var filterNames = map[string]uint32{
	"file":         notify.FileNotifyChangeFileName,
	"dir":          notify.FileNotifyChangeDirName,
	"attributes":   notify.FileNotifyChangeAttributes,
	"size":         notify.FileNotifyChangeSize,
	"write":        notify.FileNotifyChangeLastWrite,
	"access":       notify.FileNotifyChangeLastAccess,
	"creation":     notify.FileNotifyChangeCreation,
	"ea":           notify.FileNotifyChangeEA,
	"security":     notify.FileNotifyChangeSecurity,
	"stream-name":  notify.FileNotifyChangeStreamName,
	"stream-size":  notify.FileNotifyChangeStreamSize,
	"stream-write": notify.FileNotifyChangeStreamWrite,
	"all":          notify.FileNotifyChangeAll,
}

// parseFilter turns "file,dir" into a completion filter mask
func parseFilter(s string) (uint32, error) {
	var mask uint32
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		bit, ok := filterNames[part]
		if !ok {
			return 0, fmt.Errorf("unknown filter %q", part)
		}
		mask |= bit
	}
	if mask == 0 {
		return 0, errors.New("empty filter")
	}
	return mask, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	filter, err := parseFilter(watchFilter)
	if err != nil {
		return err
	}
	dir, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	if err := StartDaemonIfNeeded(true); err != nil {
		return fmt.Errorf("notification daemon unavailable: %w", err)
	}

	mgr := notify.NewManager(daemon.NewChannel(""))
	const id = 1

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		// completes the outstanding wait as cancelled
		_ = mgr.Close(context.Background())
	}()

	for batch := 1; watchCount == 0 || batch <= watchCount; batch++ {
		res, err := mgr.Wait(ctx, id, dir, watchRecursive, filter)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if res.Status == notify.StatusCancelled || ctx.Err() != nil {
			return nil
		}
		if err := printBatch(res); err != nil {
			return err
		}
	}
	return nil
}

func printBatch(res *notify.NotifyResult) error {
	if res.Status == notify.StatusNotifyEnumDir {
		fmt.Println("overflow: too many changes, re-enumerate the directory")
		return nil
	}
	if res.Status != notify.StatusSuccess {
		fmt.Printf("status 0x%08x\n", res.Status)
		return nil
	}
	recs, err := notify.ParseChangeRecords(res.Buffer)
	if err != nil {
		return err
	}
	for _, r := range recs {
		fmt.Printf("%-15s %s\n", notify.ActionString(r.Action), r.Name)
	}
	if watchWire {
		buf, ok := notify.EncodeFileNotifyInformation(recs, watchMaxOutput)
		if !ok {
			fmt.Printf("wire: %d byte buffer too small, client would get STATUS_NOTIFY_ENUM_DIR\n", watchMaxOutput)
		} else {
			fmt.Print(hex.Dump(buf))
		}
	}
	return nil
}
