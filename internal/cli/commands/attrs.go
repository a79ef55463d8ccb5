package commands

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"ntvfs/internal/vfs"
	"ntvfs/internal/xattr"
)

var attrsCmd = &cobra.Command{
	Use:   "attrs <path>...",
	Short: "Show the Windows attributes of files",
	Long: `Shows creation time and DOS attributes as an SMB client would see them.
Entries without stored values show the derived defaults.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		md := xattr.NewMetadata(xattr.NewUnixStore())
		for _, p := range args {
			if err := showAttrs(cmd.OutOrStdout(), md, p); err != nil {
				return err
			}
		}
		return nil
	},
}

var attrsSetCmd = &cobra.Command{
	Use:   "set <path>",
	Short: "Store DOS attributes or creation time",
	Long: `Stores DOS attributes or creation time. Only the given flags change.

Examples:
  ntvfs attrs set --hidden=true notes.txt
  ntvfs attrs set --readonly=false --created 2024-01-02T15:04:05Z report.doc`,
	Args: cobra.ExactArgs(1),
	RunE: runAttrsSet,
}

var attrsCreated string

func init() {
	for _, name := range []string{"readonly", "hidden", "system", "archive"} {
		attrsSetCmd.Flags().Bool(name, false, "Set or clear the "+name+" attribute")
	}
	attrsSetCmd.Flags().StringVar(&attrsCreated, "created", "", "Creation time (RFC 3339)")
	attrsCmd.AddCommand(attrsSetCmd)
	rootCmd.AddCommand(attrsCmd)
}

var attrLetters = []struct {
	bit    uint32
	letter byte
	flag   string
}{
	{vfs.FileAttributeReadonly, 'R', "readonly"},
	{vfs.FileAttributeHidden, 'H', "hidden"},
	{vfs.FileAttributeSystem, 'S', "system"},
	{vfs.FileAttributeDirectory, 'D', ""},
	{vfs.FileAttributeArchive, 'A', "archive"},
	{vfs.FileAttributeNormal, 'N', ""},
}

// formatAttributes renders a mask as fixed-position letters, "RH-D--"
func formatAttributes(mask uint32) string {
	var b strings.Builder
	for _, a := range attrLetters {
		if mask&a.bit != 0 {
			b.WriteByte(a.letter)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

func entryAttrs(md *xattr.Metadata, path string) (vfs.DirEntryAttrs, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return vfs.DirEntryAttrs{}, fmt.Errorf("%s: %w", path, err)
	}
	return vfs.BuildDirEntryAttrs(md, filepath.Dir(path), filepath.Base(path), &st), nil
}

func showAttrs(w io.Writer, md *xattr.Metadata, path string) error {
	a, err := entryAttrs(md, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s  0x%08x  %s  %s\n", formatAttributes(a.FileAttributes), a.FileAttributes,
		a.CreationTime.UTC().Format(time.RFC3339), path)
	return nil
}

func runAttrsSet(cmd *cobra.Command, args []string) error {
	md := xattr.NewMetadata(xattr.NewUnixStore())
	path := args[0]

	a, err := entryAttrs(md, path)
	if err != nil {
		return err
	}
	mask := a.FileAttributes
	changed := false
	for _, l := range attrLetters {
		if l.flag == "" || !cmd.Flags().Changed(l.flag) {
			continue
		}
		on, _ := cmd.Flags().GetBool(l.flag)
		mask = applyAttr(mask, l.bit, on)
		changed = true
	}
	if changed {
		if err := md.SetFileAttributes(path, mask); err != nil {
			return err
		}
	}

	if attrsCreated != "" {
		t, err := time.Parse(time.RFC3339, attrsCreated)
		if err != nil {
			return fmt.Errorf("invalid --created: %w", err)
		}
		if err := md.SetCreationTime(path, vfs.TimeToFiletime(t)); err != nil {
			return err
		}
	}
	return showAttrs(cmd.OutOrStdout(), md, path)
}

// applyAttr sets or clears bit, keeping NORMAL only when nothing else is set
func applyAttr(mask, bit uint32, on bool) uint32 {
	if on {
		mask |= bit
	} else {
		mask &^= bit
	}
	mask &^= vfs.FileAttributeNormal
	if mask == 0 {
		mask = vfs.FileAttributeNormal
	}
	return mask
}
