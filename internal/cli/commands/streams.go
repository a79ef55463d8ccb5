package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"ntvfs/internal/xattr"
)

var streamsCmd = &cobra.Command{
	Use:   "streams",
	Short: "Inspect and edit alternate data streams",
	Long: `Alternate data streams are kept as user.stream.<name> extended
attributes. These commands work on the local tree without a server.`,
}

var streamsListCmd = &cobra.Command{
	Use:   "ls <path>",
	Short: "List the streams of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return listStreams(cmd.OutOrStdout(), xattr.NewUnixStore(), args[0])
	},
}

var streamsCatCmd = &cobra.Command{
	Use:   "cat <path> <stream>",
	Short: "Print a stream",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return catStream(cmd.OutOrStdout(), xattr.NewUnixStore(), args[0], args[1])
	},
}

var streamsWriteCmd = &cobra.Command{
	Use:   "write <path> <stream> [value]",
	Short: "Replace a stream with value, or stdin when value is omitted",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data []byte
		if len(args) == 3 {
			data = []byte(args[2])
		} else {
			var err error
			if data, err = io.ReadAll(cmd.InOrStdin()); err != nil {
				return err
			}
		}
		return writeStream(xattr.NewUnixStore(), args[0], args[1], data)
	},
}

var streamsRemoveCmd = &cobra.Command{
	Use:   "rm <path> <stream>",
	Short: "Delete a stream",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return xattr.RemoveStream(xattr.NewUnixStore(), args[0], args[1])
	},
}

func init() {
	streamsCmd.AddCommand(streamsListCmd)
	streamsCmd.AddCommand(streamsCatCmd)
	streamsCmd.AddCommand(streamsWriteCmd)
	streamsCmd.AddCommand(streamsRemoveCmd)
	rootCmd.AddCommand(streamsCmd)
}

func listStreams(w io.Writer, store xattr.Store, path string) error {
	if _, err := os.Lstat(path); err != nil {
		return err
	}
	names, err := xattr.ListStreams(store, path)
	if err != nil {
		return err
	}
	for _, name := range names {
		key, err := xattr.StreamXattrName(name)
		if err != nil {
			continue
		}
		value, err := store.Get(path, key)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%8d  %s:%s\n", len(value), name, xattr.StreamTypeData)
	}
	return nil
}

func catStream(w io.Writer, store xattr.Store, path, stream string) error {
	key, err := xattr.StreamXattrName(stream)
	if err != nil {
		return err
	}
	value, err := store.Get(path, key)
	if err != nil {
		return err
	}
	_, err = w.Write(value)
	return err
}

func writeStream(store xattr.Store, path, stream string, data []byte) error {
	key, err := xattr.StreamXattrName(stream)
	if err != nil {
		return err
	}
	return store.Set(path, key, data)
}
