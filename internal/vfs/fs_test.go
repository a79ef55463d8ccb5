package vfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/macos-fuse-t/go-smb2/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"ntvfs/internal/xattr"
)

// testPosixFS creates a PosixFS over a temp dir backed by an in-memory
// xattr store, so tests do not depend on the host filesystem's xattrs.
func testPosixFS(t *testing.T) (*PosixFS, *xattr.MemStore) {
	t.Helper()
	store := xattr.NewMemStore()
	fs, err := NewPosixFS(t.TempDir(), WithXattrStore(store))
	require.NoError(t, err)
	t.Cleanup(fs.Shutdown)
	return fs, store
}

func createFile(t *testing.T, fs *PosixFS, path string, data string) vfs.VfsHandle {
	t.Helper()
	h, err := fs.Open(path, os.O_RDWR|os.O_CREATE, 0644)
	require.NoError(t, err)
	if data != "" {
		n, err := fs.Write(h, []byte(data), 0, 0)
		require.NoError(t, err)
		require.Equal(t, len(data), n)
	}
	return h
}

func TestNewPosixFS(t *testing.T) {
	t.Parallel()

	t.Run("rejects missing root", func(t *testing.T) {
		t.Parallel()
		_, err := NewPosixFS(filepath.Join(t.TempDir(), "nope"))
		assert.Error(t, err)
	})

	t.Run("rejects file root", func(t *testing.T) {
		t.Parallel()
		f := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(f, nil, 0644))
		_, err := NewPosixFS(f)
		assert.ErrorIs(t, err, ENOTDIR)
	})

	t.Run("initializes correctly", func(t *testing.T) {
		t.Parallel()
		fs, _ := testPosixFS(t)
		assert.NotNil(t, fs.handles)
		assert.NotNil(t, fs.Locks())
		assert.NotNil(t, fs.Metadata())
		assert.True(t, filepath.IsAbs(fs.Root()))
	})
}

func TestOpenReadWrite(t *testing.T) {
	t.Parallel()

	t.Run("create write read", func(t *testing.T) {
		t.Parallel()
		fs, _ := testPosixFS(t)

		h := createFile(t, fs, "hello.txt", "hello world")
		defer fs.Close(h)

		buf := make([]byte, 5)
		n, err := fs.Read(h, buf, 6, 0)
		require.NoError(t, err)
		assert.Equal(t, "world", string(buf[:n]))

		// short read at EOF is not an error
		buf = make([]byte, 64)
		n, err = fs.Read(h, buf, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, 11, n)

		attrs, err := fs.GetAttr(h)
		require.NoError(t, err)
		size, ok := attrs.GetSizeBytes()
		assert.True(t, ok)
		assert.Equal(t, uint64(11), size)
		assert.Equal(t, vfs.FileTypeRegularFile, attrs.GetFileType())
	})

	t.Run("new file gets a creation time", func(t *testing.T) {
		t.Parallel()
		fs, _ := testPosixFS(t)
		before := time.Now().Add(-time.Second)

		h := createFile(t, fs, "stamped", "")
		defer fs.Close(h)

		ct, ok, err := fs.Metadata().CreationTime(filepath.Join(fs.Root(), "stamped"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, FiletimeToTime(ct).After(before))
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		fs, _ := testPosixFS(t)
		_, err := fs.Open("missing", os.O_RDONLY, 0)
		assert.Equal(t, ENOENT, err)
	})

	t.Run("escaping path", func(t *testing.T) {
		t.Parallel()
		fs, _ := testPosixFS(t)
		_, err := fs.Open("../outside", os.O_RDWR|os.O_CREATE, 0644)
		assert.Equal(t, EINVAL, err)
	})

	t.Run("directory via Open", func(t *testing.T) {
		t.Parallel()
		fs, _ := testPosixFS(t)
		_, err := fs.Mkdir("dir", 0755)
		require.NoError(t, err)
		_, err = fs.Open("dir", os.O_RDONLY, 0)
		assert.Equal(t, EISDIR, err)
	})

	t.Run("bad handle", func(t *testing.T) {
		t.Parallel()
		fs, _ := testPosixFS(t)
		_, err := fs.Read(42, make([]byte, 1), 0, 0)
		assert.Equal(t, EBADF, err)
		assert.Equal(t, EBADF, fs.Close(42))
	})

	t.Run("truncate", func(t *testing.T) {
		t.Parallel()
		fs, _ := testPosixFS(t)
		h := createFile(t, fs, "t", "0123456789")
		defer fs.Close(h)

		require.NoError(t, fs.Truncate(h, 4))
		attrs, err := fs.GetAttr(h)
		require.NoError(t, err)
		size, _ := attrs.GetSizeBytes()
		assert.Equal(t, uint64(4), size)
	})
}

func TestReadDir(t *testing.T) {
	t.Parallel()

	setup := func(t *testing.T) (*PosixFS, vfs.VfsHandle) {
		fs, _ := testPosixFS(t)
		_, err := fs.Mkdir("d", 0755)
		require.NoError(t, err)
		for _, name := range []string{"d/b", "d/a", "d/.hidden"} {
			require.NoError(t, fs.Close(createFile(t, fs, name, "x")))
		}
		h, err := fs.OpenDir("d")
		require.NoError(t, err)
		t.Cleanup(func() { fs.Close(h) })
		return fs, h
	}

	names := func(entries []vfs.DirInfo) []string {
		var out []string
		for _, e := range entries {
			out = append(out, e.Name)
		}
		return out
	}

	t.Run("lists everything then EOF", func(t *testing.T) {
		t.Parallel()
		fs, h := setup(t)

		entries, err := fs.ReadDir(h, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{".", "..", ".hidden", "a", "b"}, names(entries))

		_, err = fs.ReadDir(h, 0, 0)
		assert.Equal(t, io.EOF, err)
	})

	t.Run("paginates and restarts", func(t *testing.T) {
		t.Parallel()
		fs, h := setup(t)

		first, err := fs.ReadDir(h, 0, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{".", "..", ".hidden"}, names(first))

		rest, err := fs.ReadDir(h, 0, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, names(rest))

		_, err = fs.ReadDir(h, 0, 3)
		assert.Equal(t, io.EOF, err)

		again, err := fs.ReadDir(h, 1, 0)
		require.NoError(t, err)
		assert.Len(t, again, 5)
	})

	t.Run("not a directory", func(t *testing.T) {
		t.Parallel()
		fs, _ := testPosixFS(t)
		_, err := fs.OpenDir("")
		require.NoError(t, err)
		h := createFile(t, fs, "f", "")
		defer fs.Close(h)
		_, err = fs.ReadDir(h, 0, 0)
		assert.Equal(t, ENOTDIR, err)
		_, err = fs.OpenDir("f")
		assert.Equal(t, ENOTDIR, err)
	})
}

func TestLookup(t *testing.T) {
	t.Parallel()
	fs, _ := testPosixFS(t)

	_, err := fs.Mkdir("sub", 0755)
	require.NoError(t, err)
	require.NoError(t, fs.Close(createFile(t, fs, "sub/nested.txt", "abc")))

	attrs, err := fs.Lookup(0, "sub/nested.txt")
	require.NoError(t, err)
	size, _ := attrs.GetSizeBytes()
	assert.Equal(t, uint64(3), size)

	dir, err := fs.OpenDir("sub")
	require.NoError(t, err)
	defer fs.Close(dir)
	attrs, err = fs.Lookup(dir, "nested.txt")
	require.NoError(t, err)
	assert.Equal(t, vfs.FileTypeRegularFile, attrs.GetFileType())

	attrs, err = fs.Lookup(0, "")
	require.NoError(t, err)
	assert.Equal(t, vfs.FileTypeDirectory, attrs.GetFileType())

	_, err = fs.Lookup(0, "sub\\missing")
	assert.Equal(t, ENOENT, err)
}

func TestRenameAndUnlink(t *testing.T) {
	t.Parallel()
	fs, _ := testPosixFS(t)

	h := createFile(t, fs, "old.txt", "data")
	require.NoError(t, fs.Rename(h, "new.txt", 0))

	// the handle follows the file
	require.NoError(t, fs.Setxattr(h, "s", []byte("v")))
	_, err := os.Stat(filepath.Join(fs.Root(), "new.txt"))
	require.NoError(t, err)

	require.NoError(t, fs.Unlink(h))
	_, err = os.Stat(filepath.Join(fs.Root(), "new.txt"))
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, fs.Close(h))
}

func TestSymlink(t *testing.T) {
	t.Parallel()
	fs, _ := testPosixFS(t)

	h := createFile(t, fs, "link", "")
	defer fs.Close(h)

	attrs, err := fs.Symlink(h, "target.txt", 0777)
	require.NoError(t, err)
	assert.Equal(t, vfs.FileTypeSymlink, attrs.GetFileType())

	target, err := fs.Readlink(h)
	require.NoError(t, err)
	assert.Equal(t, "target.txt", target)

	_, err = fs.Link(1, 2, "x")
	assert.Equal(t, ENOTSUP, err)
}

func TestStreamsViaXattr(t *testing.T) {
	t.Parallel()
	fs, store := testPosixFS(t)

	h := createFile(t, fs, "f", "")
	defer fs.Close(h)
	full := filepath.Join(fs.Root(), "f")

	require.NoError(t, fs.Setxattr(h, "Zone.Identifier", []byte("[ZoneTransfer]")))
	require.NoError(t, fs.Setxattr(h, "other:$DATA", []byte("x")))

	raw, err := store.Get(full, "user.stream.Zone.Identifier")
	require.NoError(t, err)
	assert.Equal(t, "[ZoneTransfer]", string(raw))

	streams, err := fs.Listxattr(h)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Zone.Identifier", "other"}, streams)

	// the size check ignores case
	n, err := fs.Getxattr(h, "zone.identifier", nil)
	require.NoError(t, err)
	assert.Equal(t, 14, n)

	buf := make([]byte, 32)
	n, err = fs.Getxattr(h, "Zone.Identifier", buf)
	require.NoError(t, err)
	assert.Equal(t, "[ZoneTransfer]", string(buf[:n]))

	_, err = fs.Getxattr(h, "Zone.Identifier", make([]byte, 2))
	assert.Error(t, err)

	_, err = fs.Getxattr(h, "bad:$INDEX_ALLOCATION", buf)
	assert.Equal(t, EINVAL, err)

	require.NoError(t, fs.Removexattr(h, "other"))
	_, err = fs.Getxattr(h, "other", buf)
	assert.Equal(t, ENOATTR, err)
}

func TestOverwriteDropsStreams(t *testing.T) {
	t.Parallel()
	fs, _ := testPosixFS(t)

	h := createFile(t, fs, "f", "content")
	require.NoError(t, fs.Setxattr(h, "s", []byte("v")))
	full := filepath.Join(fs.Root(), "f")
	ct, ok, err := fs.Metadata().CreationTime(full)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, fs.Close(h))

	h, err = fs.Open("f", os.O_RDWR|os.O_TRUNC, 0)
	require.NoError(t, err)
	defer fs.Close(h)

	streams, err := fs.Listxattr(h)
	require.NoError(t, err)
	assert.Empty(t, streams)

	after, ok, err := fs.Metadata().CreationTime(full)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ct, after)
}

func TestFailedOverwriteKeepsMetadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		isDir bool
		flags int
	}{
		{"directory", true, os.O_RDWR | os.O_TRUNC},
		{"exclusive create of existing file", false, os.O_RDWR | os.O_CREATE | os.O_EXCL | os.O_TRUNC},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fs, store := testPosixFS(t)
			full := filepath.Join(fs.Root(), "d")
			if tt.isDir {
				require.NoError(t, os.Mkdir(full, 0755))
			} else {
				require.NoError(t, os.WriteFile(full, []byte("keep"), 0644))
			}
			key, err := xattr.StreamXattrName("s")
			require.NoError(t, err)
			require.NoError(t, store.Set(full, key, []byte("v")))
			require.NoError(t, fs.Metadata().SetFileAttributes(full, FileAttributeHidden))

			_, err = fs.Open("d", tt.flags, 0644)
			require.Error(t, err)

			streams, err := xattr.ListStreams(store, full)
			require.NoError(t, err)
			assert.Equal(t, []string{"s"}, streams)
			attrs, ok, err := fs.Metadata().FileAttributes(full)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, FileAttributeHidden, attrs)
		})
	}
}

func TestOpenWithCreateOptions(t *testing.T) {
	t.Parallel()

	t.Run("invalid mask touches nothing", func(t *testing.T) {
		t.Parallel()
		fs, _ := testPosixFS(t)
		_, err := fs.OpenWithCreateOptions("f", os.O_RDWR|os.O_CREATE, 0644, FileDirectoryFile|FileNonDirectoryFile)
		assert.Equal(t, EINVAL, err)
		_, statErr := os.Stat(filepath.Join(fs.Root(), "f"))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("delete on close", func(t *testing.T) {
		t.Parallel()
		fs, _ := testPosixFS(t)
		h, err := fs.OpenWithCreateOptions("tmp", os.O_RDWR|os.O_CREATE, 0644, FileNonDirectoryFile|FileDeleteOnClose)
		require.NoError(t, err)
		_, err = os.Stat(filepath.Join(fs.Root(), "tmp"))
		require.NoError(t, err)
		require.NoError(t, fs.Close(h))
		_, err = os.Stat(filepath.Join(fs.Root(), "tmp"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("directory create", func(t *testing.T) {
		t.Parallel()
		fs, _ := testPosixFS(t)
		h, err := fs.OpenWithCreateOptions("newdir", os.O_CREATE, 0755, FileDirectoryFile)
		require.NoError(t, err)
		defer fs.Close(h)
		attrs, err := fs.GetAttr(h)
		require.NoError(t, err)
		assert.Equal(t, vfs.FileTypeDirectory, attrs.GetFileType())
	})

	t.Run("write through with direct io", func(t *testing.T) {
		t.Parallel()
		fs, _ := testPosixFS(t)
		h, err := fs.OpenWithCreateOptions("wt", os.O_RDWR|os.O_CREATE, 0644,
			FileWriteThrough|FileNoIntermediateBuffering|FileRandomAccess)
		require.NoError(t, err)
		defer fs.Close(h)
		info, ok := fs.handles.Get(HandleID(h))
		require.True(t, ok)
		assert.True(t, info.hints.SyncWrite)
		assert.True(t, info.hints.RandomAccess)
		assert.NotZero(t, info.flags&os.O_SYNC)
	})

	t.Run("read only strips write access", func(t *testing.T) {
		t.Parallel()
		fs, _ := testPosixFS(t)
		require.NoError(t, fs.Close(createFile(t, fs, "ro", "x")))
		h, err := fs.OpenWithCreateOptions("ro", os.O_RDWR, 0, CreateOptionReadOnly)
		require.NoError(t, err)
		defer fs.Close(h)
		_, err = fs.Write(h, []byte("y"), 0, 0)
		assert.Error(t, err)
	})
}

func TestFileBasicInfo(t *testing.T) {
	t.Parallel()
	fs, _ := testPosixFS(t)

	h := createFile(t, fs, ".profile", "")
	defer fs.Close(h)

	bi, err := fs.FileBasicInfo(h)
	require.NoError(t, err)
	assert.Equal(t, FileAttributeHidden, bi.FileAttributes)

	when := time.Date(2001, 2, 3, 4, 5, 6, 0, time.UTC)
	require.NoError(t, fs.SetFileBasicInfo(h, BasicInfo{CreationTime: when, FileAttributes: FileAttributeArchive | FileAttributeSystem}))

	bi, err = fs.FileBasicInfo(h)
	require.NoError(t, err)
	assert.True(t, when.Equal(bi.CreationTime))
	assert.Equal(t, FileAttributeArchive|FileAttributeSystem, bi.FileAttributes)

	// zero fields leave stored values alone
	require.NoError(t, fs.SetFileBasicInfo(h, BasicInfo{}))
	bi, err = fs.FileBasicInfo(h)
	require.NoError(t, err)
	assert.Equal(t, FileAttributeArchive|FileAttributeSystem, bi.FileAttributes)
}

func TestFSCopyChunks(t *testing.T) {
	t.Parallel()
	fs, _ := testPosixFS(t)

	src := createFile(t, fs, "src", "abcdefgh")
	defer fs.Close(src)
	dst := createFile(t, fs, "dst", "")
	defer fs.Close(dst)

	res, err := fs.CopyChunks(context.Background(), src, dst, []Chunk{
		{SourceOffset: 4, TargetOffset: 0, Length: 4},
		{SourceOffset: 0, TargetOffset: 4, Length: 4},
	})
	require.NoError(t, err)
	assert.Equal(t, CopyResult{ChunksWritten: 2, ChunkBytesWritten: 4, TotalBytesWritten: 8}, res)

	data, err := os.ReadFile(filepath.Join(fs.Root(), "dst"))
	require.NoError(t, err)
	assert.Equal(t, "efghabcd", string(data))

	_, err = fs.CopyChunks(context.Background(), src, 999, []Chunk{{Length: 1}})
	assert.Equal(t, EBADF, err)
}

func TestStatFS(t *testing.T) {
	t.Parallel()
	fs, _ := testPosixFS(t)
	attrs, err := fs.StatFS(0)
	require.NoError(t, err)
	require.NotNil(t, attrs)

	var st unix.Statfs_t
	require.NoError(t, unix.Statfs(fs.Root(), &st))
	bsize, ok := attrs.GetBlockSize()
	assert.True(t, ok)
	assert.Equal(t, uint64(st.Bsize), bsize)
	blocks, ok := attrs.GetBlocks()
	assert.True(t, ok)
	assert.Equal(t, uint64(st.Blocks), blocks)
	avail, ok := attrs.GetAvailableBlocks()
	assert.True(t, ok)
	assert.LessOrEqual(t, avail, blocks)
}
