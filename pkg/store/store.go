// Package store implements the append-only case ledger.
//
// Every backend offers exactly two operations: append one record, and read
// every record back in append order. Nothing is ever updated or deleted.
// Readers decode the whole ledger on every call; a full scan is O(ledger
// size) and that cost is accepted in exchange for never maintaining a second
// copy of case state.
//
// Lines that fail to decode are skipped and counted, never fatal. Only
// resource failures (the ledger cannot be opened, written or queried) are
// returned as errors, wrapped in ErrUnavailable.
package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Mindburn-Labs/caseledger/pkg/event"
)

var (
	// ErrUnavailable wraps I/O failures of the underlying storage.
	ErrUnavailable = errors.New("ledger unavailable")
)

// Appender writes records to the ledger.
type Appender interface {
	// Append writes rec as one record. Records without a string case_id are
	// rejected with event.ErrInvalidRecord before anything is written.
	Append(ctx context.Context, rec event.Record) error
}

// Reader scans the ledger.
type Reader interface {
	// ReadAll returns every decodable record in append order.
	ReadAll(ctx context.Context) (*Scan, error)
}

// CaseReader is implemented by backends that keep a case_id index. The
// records returned must be the same, in the same order, as filtering ReadAll.
type CaseReader interface {
	ReadCase(ctx context.Context, caseID string) (*Scan, error)
}

// Store is a ledger backend.
type Store interface {
	Appender
	Reader
}

// Skip describes one ledger line that was not decoded.
type Skip struct {
	// Position is the 1-based line number or row sequence of the entry.
	Position int64
	Reason   string
}

// Scan is the result of reading the ledger.
type Scan struct {
	Records []event.Record
	// Lines counts non-blank entries examined, decoded or not.
	Lines int
	Skips []Skip
	// Exists is false when no ledger has been written yet.
	Exists bool
}

// Skipped returns the number of entries that could not be decoded.
func (s *Scan) Skipped() int {
	return len(s.Skips)
}

func (s *Scan) add(pos int64, payload []byte, logger *slog.Logger) {
	s.Lines++
	rec, err := event.ParseRecord(payload)
	if err != nil {
		s.Skips = append(s.Skips, Skip{Position: pos, Reason: err.Error()})
		logger.Warn("skipping undecodable ledger entry", "position", pos, "error", err)
		return
	}
	s.Records = append(s.Records, rec)
}

// ReadCase returns the records of one case in append order, using the
// backend's case index when it has one.
func ReadCase(ctx context.Context, r Reader, caseID string) (*Scan, error) {
	if cr, ok := r.(CaseReader); ok {
		return cr.ReadCase(ctx, caseID)
	}
	all, err := r.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	return FilterCase(all, caseID), nil
}

// FilterCase narrows a scan to the records of one case. Diagnostics of the
// full scan are kept.
func FilterCase(all *Scan, caseID string) *Scan {
	out := &Scan{Lines: all.Lines, Skips: all.Skips, Exists: all.Exists}
	for _, rec := range all.Records {
		if rec.CaseID() == caseID {
			out.Records = append(out.Records, rec)
		}
	}
	return out
}

// Tail returns the last n records of the scan, or all of them when n <= 0.
func Tail(scan *Scan, n int) []event.Record {
	if n <= 0 || n >= len(scan.Records) {
		return scan.Records
	}
	return scan.Records[len(scan.Records)-n:]
}

func defaultLogger() *slog.Logger {
	return slog.Default().With("component", "ledger")
}
