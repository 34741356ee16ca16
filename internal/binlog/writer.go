package binlog

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/calvinalkan/kvserver/internal/fsutil"
	"github.com/calvinalkan/kvserver/internal/kverr"
)

const segmentPrefix = "binlog-"

const osAppendFlags = os.O_CREATE | os.O_RDWR | os.O_APPEND

// Options configures segment rollover.
type Options struct {
	// MaxSegmentBytes rotates to a new segment once the active one reaches
	// this size. Zero disables the size trigger.
	MaxSegmentBytes int64
	// FlushInterval makes Append fsync the active segment once at least
	// this long has passed since the last flush. The check runs only
	// inside Append; there is no background timer. Zero disables the
	// interval trigger.
	FlushInterval time.Duration
}

// Binlog is one database's append-only replication log.
type Binlog struct {
	mu sync.Mutex

	dir  string
	fs   fsutil.FS
	opts Options

	file        fsutil.File
	fileNum     uint64
	blockOffset int
	fileOffset  int64
	lastFlush   time.Time
}

// Open opens (creating if empty) the binlog rooted at dir, resuming at the
// highest-numbered existing segment.
func Open(dir string, fs fsutil.FS, opts Options) (*Binlog, error) {
	if err := fs.MkdirAll(dir, 0o750); err != nil {
		return nil, kverr.New(kverr.KindIOError, "binlog.Open", err)
	}

	segments, err := listSegments(dir, fs)
	if err != nil {
		return nil, err
	}

	b := &Binlog{dir: dir, fs: fs, opts: opts, lastFlush: time.Now()}

	fileNum := uint64(1)
	if len(segments) > 0 {
		fileNum = segments[len(segments)-1]
	}

	if err := b.openSegment(fileNum); err != nil {
		return nil, err
	}

	return b, nil
}

func listSegments(dir string, fs fsutil.FS) ([]uint64, error) {
	entries, err := fs.ReadDir(dir)
	if err != nil {
		return nil, kverr.New(kverr.KindIOError, "binlog.listSegments", err)
	}

	var nums []uint64

	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, segmentPrefix) {
			continue
		}

		n, parseErr := strconv.ParseUint(strings.TrimPrefix(name, segmentPrefix), 10, 64)
		if parseErr != nil {
			continue
		}

		nums = append(nums, n)
	}

	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })

	return nums, nil
}

func segmentPath(dir string, fileNum uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%s%020d", segmentPrefix, fileNum))
}

func (b *Binlog) openSegment(fileNum uint64) error {
	f, err := b.fs.OpenFile(segmentPath(b.dir, fileNum), osAppendFlags, 0o640)
	if err != nil {
		return kverr.New(kverr.KindIOError, "binlog.openSegment", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return kverr.New(kverr.KindIOError, "binlog.openSegment", err)
	}

	b.file = f
	b.fileNum = fileNum
	b.fileOffset = info.Size()
	b.blockOffset = int(b.fileOffset % blockSize)

	return nil
}

// Dir returns the directory this binlog was opened against, for readers
// that need to anchor a fresh Reader at an arbitrary position.
func (b *Binlog) Dir() string { return b.dir }

// GetProducerStatus returns the position the next Append will start at,
// used to seed a new replica's BinlogSync cursor.
func (b *Binlog) GetProducerStatus() Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Position{FileNum: b.fileNum, Offset: b.fileOffset}
}

// Append writes item to the active segment, padding and rotating blocks as
// needed, and returns the segment offset the write started at (ahead of any
// block padding written before its first physical record).
func (b *Binlog) Append(item Item) (Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := Position{FileNum: b.fileNum, Offset: b.fileOffset}

	payload := encodeItem(item)
	if err := b.writeRecords(payload); err != nil {
		return Position{}, err
	}

	if b.opts.FlushInterval > 0 && time.Since(b.lastFlush) >= b.opts.FlushInterval {
		if err := b.syncLocked(); err != nil {
			return Position{}, err
		}
	}

	if b.opts.MaxSegmentBytes > 0 && b.fileOffset >= b.opts.MaxSegmentBytes {
		if err := b.rotateLocked(); err != nil {
			return Position{}, err
		}
	}

	return start, nil
}

func (b *Binlog) writeRecords(data []byte) error {
	begin := true

	for {
		leftover := blockSize - b.blockOffset
		if leftover < headerSize {
			if leftover > 0 {
				if _, err := b.file.Write(make([]byte, leftover)); err != nil {
					return kverr.New(kverr.KindIOError, "binlog.writeRecords", err)
				}

				b.fileOffset += int64(leftover)
			}

			b.blockOffset = 0
			leftover = blockSize
		}

		avail := leftover - headerSize

		fragLen := len(data)
		if fragLen > avail {
			fragLen = avail
		}

		end := fragLen == len(data)

		var recType recordType

		switch {
		case begin && end:
			recType = recordFull
		case begin:
			recType = recordFirst
		case end:
			recType = recordLast
		default:
			recType = recordMiddle
		}

		if err := b.writePhysicalRecord(recType, data[:fragLen]); err != nil {
			return err
		}

		data = data[fragLen:]
		begin = false

		if len(data) == 0 {
			return nil
		}
	}
}

func (b *Binlog) writePhysicalRecord(recType recordType, fragment []byte) error {
	header := make([]byte, headerSize)
	binary.BigEndian.PutUint32(header[0:4], checksum(recType, fragment))
	binary.BigEndian.PutUint16(header[4:6], uint16(len(fragment)))
	header[6] = byte(recType)

	if _, err := b.file.Write(header); err != nil {
		return kverr.New(kverr.KindIOError, "binlog.writePhysicalRecord", err)
	}

	if _, err := b.file.Write(fragment); err != nil {
		return kverr.New(kverr.KindIOError, "binlog.writePhysicalRecord", err)
	}

	n := headerSize + len(fragment)
	b.fileOffset += int64(n)
	b.blockOffset += n

	return nil
}

func (b *Binlog) syncLocked() error {
	if err := b.file.Sync(); err != nil {
		return kverr.New(kverr.KindIOError, "binlog.Sync", err)
	}

	b.lastFlush = time.Now()

	return nil
}

// Sync forces the active segment to stable storage.
func (b *Binlog) Sync() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.syncLocked()
}

func (b *Binlog) rotateLocked() error {
	if err := b.syncLocked(); err != nil {
		return err
	}

	if err := b.file.Close(); err != nil {
		return kverr.New(kverr.KindIOError, "binlog.rotateLocked", err)
	}

	return b.openSegment(b.fileNum + 1)
}

// Rotate forces rollover to a new segment regardless of size, e.g. after a
// manual admin request or a checkpoint freeze.
func (b *Binlog) Rotate() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.rotateLocked()
}

// Trim removes every segment strictly older than keepFromFileNum. The
// active segment is never removed.
func (b *Binlog) Trim(keepFromFileNum uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	segments, err := listSegments(b.dir, b.fs)
	if err != nil {
		return err
	}

	for _, n := range segments {
		if n >= keepFromFileNum || n == b.fileNum {
			continue
		}

		if err := b.fs.Remove(segmentPath(b.dir, n)); err != nil {
			return kverr.New(kverr.KindIOError, "binlog.Trim", err)
		}
	}

	return nil
}

// Close flushes and closes the active segment.
func (b *Binlog) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.syncLocked(); err != nil {
		return err
	}

	if err := b.file.Close(); err != nil {
		return kverr.New(kverr.KindIOError, "binlog.Close", err)
	}

	return nil
}
