// Package segment implements the file-backed document log. A log file starts
// with a fixed header and is followed by length-prefixed, CRC-checked JSON
// frames, one per store record.
package segment

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/store"
)

// MagicBytes identifies a document log file ("NSLG").
const (
	MagicBytes    uint32 = 0x4E534C47
	FormatVersion uint32 = 1
	HeaderSize    int    = 16
	FrameHeader   int    = 8
	MaxFrameSize  uint32 = 64 << 20
	FileName             = "documents.log"
)

var (
	ErrBadMagic = errors.New("not a document log file")
	// ErrLocked means another process holds the log open for writing.
	ErrLocked = errors.New("document log in use by another process")
)

// Log appends store records to a single file. A torn or corrupt tail left by
// a crash is truncated on open. The file is held under an exclusive lock for
// the lifetime of the Log, so at most one process writes it.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	sync   bool
	size   int64
	logger *slog.Logger
}

// Open opens or creates the log in dataDir. With syncWrites every Append is
// fsynced before it returns.
func Open(dataDir string, syncWrites bool) (*Log, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	path := filepath.Join(dataDir, FileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening document log: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		if errors.Is(err, ErrLocked) {
			return nil, fmt.Errorf("%s: %w", path, ErrLocked)
		}
		return nil, fmt.Errorf("locking document log: %w", err)
	}
	l := &Log{
		file:   f,
		path:   path,
		sync:   syncWrites,
		logger: slog.Default().With("component", "segment-log", "path", path),
	}
	if err := l.init(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) init() error {
	info, err := l.file.Stat()
	if err != nil {
		return fmt.Errorf("stat document log: %w", err)
	}
	if info.Size() == 0 {
		header := make([]byte, HeaderSize)
		binary.LittleEndian.PutUint32(header[0:4], MagicBytes)
		binary.LittleEndian.PutUint32(header[4:8], FormatVersion)
		if _, err := l.file.WriteAt(header, 0); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("syncing header: %w", err)
		}
		l.size = int64(HeaderSize)
		return nil
	}

	header := make([]byte, HeaderSize)
	if _, err := l.file.ReadAt(header, 0); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if magic := binary.LittleEndian.Uint32(header[0:4]); magic != MagicBytes {
		return fmt.Errorf("%w: bad magic bytes %x", ErrBadMagic, magic)
	}
	if v := binary.LittleEndian.Uint32(header[4:8]); v != FormatVersion {
		return fmt.Errorf("unsupported document log version %d", v)
	}

	good, err := l.scan(context.Background(), nil)
	if err != nil {
		return err
	}
	if good < info.Size() {
		l.logger.Warn("truncating torn log tail",
			"valid_bytes", good,
			"file_bytes", info.Size(),
		)
		if err := l.file.Truncate(good); err != nil {
			return fmt.Errorf("truncating torn tail: %w", err)
		}
	}
	l.size = good
	return nil
}

// Append writes one frame: [len uint32][crc32 uint32][json payload].
func (l *Log) Append(ctx context.Context, rec store.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	if uint32(len(payload)) > MaxFrameSize {
		return fmt.Errorf("record for %s exceeds %d bytes", rec.Document.ID, MaxFrameSize)
	}
	frame := make([]byte, FrameHeader+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[4:8], crc32.ChecksumIEEE(payload))
	copy(frame[FrameHeader:], payload)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("document log is closed")
	}
	if _, err := l.file.WriteAt(frame, l.size); err != nil {
		// drop whatever part of the frame made it to disk
		_ = l.file.Truncate(l.size)
		return fmt.Errorf("writing record: %w", err)
	}
	if l.sync {
		if err := l.file.Sync(); err != nil {
			_ = l.file.Truncate(l.size)
			return fmt.Errorf("syncing record: %w", err)
		}
	}
	l.size += int64(len(frame))
	return nil
}

// Replay decodes every intact frame in order.
func (l *Log) Replay(ctx context.Context, fn func(store.Record) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("document log is closed")
	}
	_, err := l.scan(ctx, fn)
	return err
}

// scan walks frames from the header to the first torn or corrupt one and
// returns the offset just past the last good frame.
func (l *Log) scan(ctx context.Context, fn func(store.Record) error) (int64, error) {
	r := bufio.NewReader(io.NewSectionReader(l.file, int64(HeaderSize), 1<<62))
	offset := int64(HeaderSize)
	head := make([]byte, FrameHeader)
	for {
		if err := ctx.Err(); err != nil {
			return offset, err
		}
		if _, err := io.ReadFull(r, head); err != nil {
			return offset, nil
		}
		n := binary.LittleEndian.Uint32(head[0:4])
		sum := binary.LittleEndian.Uint32(head[4:8])
		if n > MaxFrameSize {
			l.logger.Warn("oversized frame, stopping replay", "offset", offset, "length", n)
			return offset, nil
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			return offset, nil
		}
		if crc32.ChecksumIEEE(payload) != sum {
			l.logger.Warn("checksum mismatch, stopping replay", "offset", offset)
			return offset, nil
		}
		if fn != nil {
			var rec store.Record
			if err := json.Unmarshal(payload, &rec); err != nil {
				return offset, fmt.Errorf("decoding record at offset %d: %w", offset, err)
			}
			if err := fn(rec); err != nil {
				return offset, err
			}
		}
		offset += int64(FrameHeader) + int64(n)
	}
}

// Size is the number of valid bytes in the log, header included.
func (l *Log) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
