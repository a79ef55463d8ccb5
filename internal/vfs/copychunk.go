// Copyright 2024 NTVFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	log "github.com/sirupsen/logrus"

	"ntvfs/internal/common"
	"ntvfs/internal/metrics"
)

// Server-side copy limits, matching the values Windows servers advertise.
const (
	MaxChunkCount = 256
	MaxChunkSize  = 1 << 20
)

// Chunk is one server-side copy range
type Chunk struct {
	SourceOffset uint64
	TargetOffset uint64
	Length       uint32
}

// CopyResult reports how far a copy got. It is meaningful on error too.
type CopyResult struct {
	ChunksWritten     uint32 // fully copied chunks
	ChunkBytesWritten uint32 // bytes of the failing chunk, or of the last chunk on success
	TotalBytesWritten uint64 // bytes of fully copied chunks
}

// CopyFile is an open file usable as a copy endpoint. *os.File satisfies it.
type CopyFile interface {
	io.ReaderAt
	io.WriterAt
	Stat() (os.FileInfo, error)
}

type chunkSpan struct{ start, end uint64 }

func overlapping(spans []chunkSpan) bool {
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			return true
		}
	}
	return false
}

// ValidateChunks checks a chunk list without touching either file
func ValidateChunks(chunks []Chunk, srcSize uint64, sameFile bool) error {
	if len(chunks) == 0 {
		return fmt.Errorf("empty chunk list: %w", common.ErrInvalidChunk)
	}
	if len(chunks) > MaxChunkCount {
		return fmt.Errorf("%d chunks exceeds %d: %w", len(chunks), MaxChunkCount, common.ErrInvalidChunk)
	}
	dst := make([]chunkSpan, 0, len(chunks))
	for i, c := range chunks {
		if c.Length == 0 {
			return fmt.Errorf("chunk %d: zero length: %w", i, common.ErrInvalidChunk)
		}
		if c.Length > MaxChunkSize {
			return fmt.Errorf("chunk %d: length %d exceeds %d: %w", i, c.Length, MaxChunkSize, common.ErrInvalidChunk)
		}
		srcEnd := c.SourceOffset + uint64(c.Length)
		dstEnd := c.TargetOffset + uint64(c.Length)
		if srcEnd < c.SourceOffset || dstEnd < c.TargetOffset {
			return fmt.Errorf("chunk %d: offset overflow: %w", i, common.ErrInvalidChunk)
		}
		if srcEnd > srcSize {
			return fmt.Errorf("chunk %d: source range [%d,%d) past EOF %d: %w", i, c.SourceOffset, srcEnd, srcSize, common.ErrInvalidChunk)
		}
		if sameFile && c.SourceOffset < dstEnd && c.TargetOffset < srcEnd {
			return fmt.Errorf("chunk %d: source overlaps target: %w", i, common.ErrInvalidChunk)
		}
		dst = append(dst, chunkSpan{c.TargetOffset, dstEnd})
	}
	if overlapping(dst) {
		return fmt.Errorf("overlapping target ranges: %w", common.ErrInvalidChunk)
	}
	return nil
}

// CopyChunks copies each chunk from src to dst in order and stops at the
// first failure. The chunk list is validated up front; an invalid list
// performs no writes. The destination extent is not locked here.
func CopyChunks(ctx context.Context, src, dst CopyFile, chunks []Chunk, m *metrics.Metrics) (res CopyResult, err error) {
	srcInfo, err := src.Stat()
	if err != nil {
		return res, err
	}
	dstInfo, err := dst.Stat()
	if err != nil {
		return res, err
	}
	if err := ValidateChunks(chunks, uint64(srcInfo.Size()), os.SameFile(srcInfo, dstInfo)); err != nil {
		return res, err
	}

	defer func() {
		m.RecordCopy(int(res.ChunksWritten), int64(res.TotalBytesWritten), err != nil)
		log.Debugf("[Copy] %d/%d chunks, %d bytes → %v", res.ChunksWritten, len(chunks), res.TotalBytesWritten, err)
	}()

	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			res.ChunkBytesWritten = 0
			return res, err
		}
		n, err := io.CopyN(
			io.NewOffsetWriter(dst, int64(c.TargetOffset)),
			io.NewSectionReader(src, int64(c.SourceOffset), int64(c.Length)),
			int64(c.Length),
		)
		res.ChunkBytesWritten = uint32(n)
		if err != nil {
			return res, fmt.Errorf("chunk %d: %w", i, err)
		}
		res.ChunksWritten++
		res.TotalBytesWritten += uint64(c.Length)
	}
	return res, nil
}
