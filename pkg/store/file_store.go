package store

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Mindburn-Labs/caseledger/pkg/event"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// FileStore is a ledger kept as newline-delimited JSON in a single file.
//
// Appends from one FileStore are serialized by a mutex held only for the
// duration of the write. The store assumes it is the only active writer of
// the file: separate processes appending to the same path are not
// coordinated.
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewFileStore returns a store for the ledger at path. The file and its
// directory are created on first append.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, logger: defaultLogger()}
}

// WithLogger overrides the logger used for skipped-line diagnostics.
func (s *FileStore) WithLogger(l *slog.Logger) *FileStore {
	s.logger = l
	return s
}

// Path returns the ledger file path.
func (s *FileStore) Path() string {
	return s.path
}

// Append writes rec as a single line with one write call. If the file ends
// in a torn line from an earlier failed write, a newline is written first so
// the new record stays decodable.
func (s *FileStore) Append(ctx context.Context, rec event.Record) (err error) {
	if err := rec.Validate(); err != nil {
		return err
	}
	line, err := rec.MarshalLine()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: create ledger directory: %v", ErrUnavailable, err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open ledger: %v", ErrUnavailable, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close ledger: %v", ErrUnavailable, cerr)
		}
	}()

	torn, err := endsWithTornLine(f)
	if err != nil {
		return fmt.Errorf("%w: inspect ledger tail: %v", ErrUnavailable, err)
	}
	if torn {
		s.logger.WarnContext(ctx, "ledger ends with a partial line, terminating it", "path", s.path)
		line = append([]byte{'\n'}, line...)
	}
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("%w: write ledger: %v", ErrUnavailable, err)
	}
	return nil
}

func endsWithTornLine(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, err
	}
	return last[0] != '\n', nil
}

// ReadAll decodes the whole file. A missing file is an empty, valid ledger.
func (s *FileStore) ReadAll(ctx context.Context) (*Scan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Scan{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open ledger: %v", ErrUnavailable, err)
	}
	defer func() { _ = f.Close() }()

	scan, err := ScanLines(f, s.logger)
	if err != nil {
		return nil, err
	}
	scan.Exists = true
	return scan, nil
}

// ScanLines decodes newline-delimited records from r. Blank lines are
// ignored; lines that do not decode are recorded as skips. A final line
// without a terminator is decoded like any other, so a torn write simply
// shows up as one skip.
func ScanLines(r io.Reader, logger *slog.Logger) (*Scan, error) {
	if logger == nil {
		logger = defaultLogger()
	}
	br := bufio.NewReader(r)
	scan := &Scan{}
	var lineNo int64
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			if lineNo == 1 {
				line = bytes.TrimPrefix(line, utf8BOM)
			}
			if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
				scan.add(lineNo, trimmed, logger)
			}
		}
		if errors.Is(err, io.EOF) {
			return scan, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read ledger: %v", ErrUnavailable, err)
		}
	}
}
