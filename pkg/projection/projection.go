// Package projection rebuilds the current state of a case by replaying its
// ledger events in created_at order.
//
// State is never stored: every Project call reads the ledger, decodes the
// case's records, orders them and folds them from scratch.
package projection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"slices"

	"github.com/Mindburn-Labs/caseledger/pkg/event"
	"github.com/Mindburn-Labs/caseledger/pkg/store"
)

// ErrNotFound is returned when no case_created event exists for a case id.
var ErrNotFound = errors.New("case not found")

// Case is the folded state of one case.
type Case struct {
	CaseID        string          `json:"case_id"`
	CaseType      string          `json:"case_type"`
	CreatedAt     string          `json:"created_at"`
	Priority      string          `json:"priority"`
	SLADays       *int            `json:"sla_days"`
	Routing       json.RawMessage `json:"routing"`
	Entities      map[string]any  `json:"entities"`
	MissingInfo   []string        `json:"missing_info"`
	LastUpdatedAt string          `json:"last_updated_at"`
	LastEventType event.Kind      `json:"last_event_type"`
}

// Projector answers "what is the current state of this case".
type Projector struct {
	reader store.Reader
	logger *slog.Logger
}

// New returns a Projector reading from r.
func New(r store.Reader) *Projector {
	return &Projector{
		reader: r,
		logger: slog.Default().With("component", "projection"),
	}
}

// WithLogger overrides the projector's logger.
func (p *Projector) WithLogger(l *slog.Logger) *Projector {
	p.logger = l
	return p
}

// Project replays the events of caseID. It returns ErrNotFound when the case
// was never created; storage failures are returned unchanged.
func (p *Projector) Project(ctx context.Context, caseID string) (*Case, error) {
	scan, err := store.ReadCase(ctx, p.reader, caseID)
	if err != nil {
		return nil, err
	}
	events := Order(scan.Records, caseID)
	for _, ev := range events {
		if h := ev.Header(); len(h.Dropped) > 0 {
			p.logger.DebugContext(ctx, "ignored malformed event fields",
				"case_id", caseID, "kind", h.Kind, "created_at", h.RawCreatedAt, "fields", h.Dropped)
		}
	}
	c := Fold(events)
	if c == nil {
		return nil, ErrNotFound
	}
	return c, nil
}

// Order decodes the records belonging to caseID and sorts them by created_at.
// Records with a missing or unparsable timestamp sort first; ties keep their
// append order.
func Order(records []event.Record, caseID string) []event.Event {
	events := make([]event.Event, 0, len(records))
	for _, rec := range records {
		if rec.CaseID() != caseID {
			continue
		}
		events = append(events, event.Decode(rec))
	}
	slices.SortStableFunc(events, func(a, b event.Event) int {
		return compareTime(a.Header(), b.Header())
	})
	return events
}

func compareTime(a, b event.Envelope) int {
	switch {
	case !a.HasCreatedAt && !b.HasCreatedAt:
		return 0
	case !a.HasCreatedAt:
		return -1
	case !b.HasCreatedAt:
		return 1
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

// Fold applies ordered events to an empty state and returns the result, or
// nil when no case_created event was folded.
//
// A case_created event (re)initialises the state, so a second creation for
// the same id discards everything folded before it. Follow-ups before the
// first creation are dropped; status checks and unknown kinds never change
// anything.
func Fold(events []event.Event) *Case {
	var c *Case
	for _, ev := range events {
		if !ev.Header().Kind.Mutating() {
			continue
		}
		switch e := ev.(type) {
		case event.Created:
			c = &Case{
				CaseID:        e.CaseID,
				CaseType:      e.CaseType,
				CreatedAt:     e.RawCreatedAt,
				Priority:      e.Priority,
				SLADays:       e.SLADays,
				Routing:       e.Routing,
				Entities:      maps.Clone(e.Entities),
				MissingInfo:   slices.Clone(e.MissingInfo),
				LastUpdatedAt: e.RawCreatedAt,
				LastEventType: event.KindCreated,
			}
			if c.Entities == nil {
				c.Entities = map[string]any{}
			}
			if c.MissingInfo == nil {
				c.MissingInfo = []string{}
			}
		case event.FollowUp:
			if c == nil {
				continue
			}
			for k, v := range e.EntitiesUpdate {
				if v != nil {
					c.Entities[k] = v
				}
			}
			if e.ReplacesMissing {
				c.MissingInfo = slices.Clone(e.MissingInfoAfter)
				if c.MissingInfo == nil {
					c.MissingInfo = []string{}
				}
			}
			c.LastUpdatedAt = e.RawCreatedAt
			c.LastEventType = event.KindFollowUp
		}
	}
	return c
}

// Replay is Order followed by Fold.
func Replay(records []event.Record, caseID string) *Case {
	return Fold(Order(records, caseID))
}
