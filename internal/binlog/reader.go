package binlog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/calvinalkan/kvserver/internal/fsutil"
	"github.com/calvinalkan/kvserver/internal/kverr"
)

// Reader sequentially decodes items starting from a given [Position],
// used both by local replay on restart and by BinlogSync streaming to a
// replica.
type Reader struct {
	dir string
	fs  fsutil.FS

	file        fsutil.File
	fileNum     uint64
	pos         Position
	blockOffset int64
}

// NewReader opens a cursor at start. A zero-value start.FileNum is treated
// as the first existing segment.
func NewReader(dir string, fs fsutil.FS, start Position) (*Reader, error) {
	fileNum := start.FileNum
	if fileNum == 0 {
		segments, err := listSegments(dir, fs)
		if err != nil {
			return nil, err
		}

		if len(segments) > 0 {
			fileNum = segments[0]
		} else {
			fileNum = 1
		}
	}

	r := &Reader{dir: dir, fs: fs, pos: start}

	if err := r.openAt(fileNum, start.Offset); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Reader) openAt(fileNum uint64, offset int64) error {
	f, err := r.fs.OpenFile(segmentPath(r.dir, fileNum), os.O_RDONLY, 0)
	if err != nil {
		return kverr.New(kverr.KindIOError, "binlog.Reader.openAt", err)
	}

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			_ = f.Close()
			return kverr.New(kverr.KindIOError, "binlog.Reader.openAt", err)
		}
	}

	r.file = f
	r.fileNum = fileNum
	r.pos = Position{FileNum: fileNum, Offset: offset}
	r.blockOffset = offset % blockSize

	return nil
}

// Position reports the cursor's current address.
func (r *Reader) Position() Position { return r.pos }

// ErrEOF is returned once the reader has consumed every complete item
// currently on disk; callers should retry after more data is appended.
var ErrEOF = io.EOF

// Next decodes the next item, advancing the cursor. If the active segment
// is exhausted and a newer segment exists, Next rolls forward to it
// automatically.
func (r *Reader) Next() (Item, error) {
	var payload bytes.Buffer

	for {
		if err := r.skipBlockPaddingIfNeeded(); err != nil {
			return Item{}, err
		}

		header := make([]byte, headerSize)

		n, err := io.ReadFull(r.file, header)
		if err != nil {
			if n == 0 && (err == io.EOF || err == io.ErrUnexpectedEOF) {
				if rolled, rollErr := r.rollToNextSegment(); rollErr != nil {
					return Item{}, rollErr
				} else if rolled {
					continue
				}

				return Item{}, ErrEOF
			}

			return Item{}, kverr.New(kverr.KindIOError, "binlog.Reader.Next", err)
		}

		r.pos.Offset += int64(headerSize)
		r.blockOffset += int64(headerSize)

		length := binary.BigEndian.Uint16(header[4:6])
		recType := recordType(header[6])

		fragment := make([]byte, length)
		if _, err := io.ReadFull(r.file, fragment); err != nil {
			return Item{}, kverr.New(kverr.KindCorruption, "binlog.Reader.Next", fmt.Errorf("truncated record: %w", err))
		}

		wantCRC := binary.BigEndian.Uint32(header[0:4])
		if got := checksum(recType, fragment); got != wantCRC {
			return Item{}, kverr.New(kverr.KindCorruption, "binlog.Reader.Next", fmt.Errorf("checksum mismatch in segment %d", r.fileNum))
		}

		payload.Write(fragment)

		r.pos.Offset += int64(len(fragment))
		r.blockOffset += int64(len(fragment))

		if recType == recordFull || recType == recordLast {
			item, decErr := decodeItem(payload.Bytes())
			if decErr != nil {
				return Item{}, decErr
			}

			return item, nil
		}
	}
}

// skipBlockPaddingIfNeeded mirrors the writer's framing: once fewer than
// headerSize bytes remain in the current 64KB block, the writer pads the
// rest with zeros and starts the next record on a fresh block. If skipping
// the padding would run past the active segment's end, it means the
// segment was rotated exactly on a block boundary and the next segment
// should be tried instead.
func (r *Reader) skipBlockPaddingIfNeeded() error {
	leftover := int64(blockSize) - r.blockOffset
	if leftover >= headerSize {
		return nil
	}

	if leftover > 0 {
		if _, err := r.file.Seek(leftover, io.SeekCurrent); err != nil {
			return kverr.New(kverr.KindIOError, "binlog.Reader.skipBlockPaddingIfNeeded", err)
		}

		r.pos.Offset += leftover
	}

	r.blockOffset = 0

	return nil
}

func (r *Reader) rollToNextSegment() (bool, error) {
	segments, err := listSegments(r.dir, r.fs)
	if err != nil {
		return false, err
	}

	for _, n := range segments {
		if n > r.fileNum {
			_ = r.file.Close()

			if err := r.openAt(n, 0); err != nil {
				return false, err
			}

			return true, nil
		}
	}

	return false, nil
}

// Close releases the reader's open segment handle.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}

	if err := r.file.Close(); err != nil {
		return kverr.New(kverr.KindIOError, "binlog.Reader.Close", err)
	}

	return nil
}
