// Package intake holds the producer-side helpers that sit in front of the
// ledger: choosing which kind of event an incoming request becomes, and
// assembling that event as a record ready to append.
//
// Classification of the request text and extraction of its fields happen
// elsewhere; intake only sees their results.
package intake

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/caseledger/pkg/event"
)

var caseIDPattern = regexp.MustCompile(`\bCASE-\d{8}-\d{6}\b`)

// NewCaseID derives a case id from the request time, CASE-YYYYMMDD-HHMMSS.
// Two cases opened within the same second get the same id.
func NewCaseID(now time.Time) string {
	return "CASE-" + now.Format("20060102-150405")
}

// ExtractCaseID returns the first case id referenced in text.
func ExtractCaseID(text string) (string, bool) {
	id := caseIDPattern.FindString(text)
	return id, id != ""
}

// Existence is satisfied by caseindex.Index.
type Existence interface {
	Exists(ctx context.Context, caseID string) (bool, error)
}

// Decide picks the kind of event for a request that references caseID (which
// may be empty). Requests about unknown cases open a new one; requests about
// an existing case are follow-ups, unless the caller classified them as a
// status query.
func Decide(ctx context.Context, idx Existence, caseID string, statusIntent bool) (event.Kind, error) {
	if caseID == "" {
		return event.KindCreated, nil
	}
	exists, err := idx.Exists(ctx, caseID)
	if err != nil {
		return "", fmt.Errorf("check case %s: %w", caseID, err)
	}
	switch {
	case !exists:
		return event.KindCreated, nil
	case statusIntent:
		return event.KindStatusCheck, nil
	default:
		return event.KindFollowUp, nil
	}
}

// ShouldPersist reports whether rec belongs in the ledger. Status checks are
// answered from a projection and are not appended.
func ShouldPersist(rec event.Record) bool {
	return event.Resolve(rec) != event.KindStatusCheck
}

// Creation is the content of a new case.
type Creation struct {
	// CaseID is generated from the clock when empty.
	CaseID      string
	CaseType    string
	Priority    string
	SLADays     int
	Routing     map[string]any
	Entities    map[string]any
	MissingInfo []string
	RequestText string
	Summary     string
	NextSteps   string
	// Extra fields are copied into the record verbatim.
	Extra map[string]any
}

// Update is the content of a follow-up to an existing case.
type Update struct {
	CaseID         string
	Message        string
	CaseType       string
	EntitiesUpdate map[string]any
	// MissingInfoAfter replaces the case's missing-field list when non-nil.
	// Use an empty, non-nil slice to clear it.
	MissingInfoAfter []string
	Summary          string
	NextSteps        string
	Extra            map[string]any
}

// Builder assembles records with an event id and a created_at timestamp.
type Builder struct {
	clock func() time.Time
	newID func() string
}

// NewBuilder returns a Builder stamping local wall-clock time.
func NewBuilder() *Builder {
	return &Builder{clock: time.Now, newID: uuid.NewString}
}

// WithClock overrides the clock, for testing.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

type createdPacket struct {
	EventType   event.Kind     `json:"event_type"`
	EventID     string         `json:"event_id"`
	CaseID      string         `json:"case_id"`
	CreatedAt   string         `json:"created_at"`
	CaseType    string         `json:"case_type"`
	Priority    string         `json:"priority"`
	SLADays     int            `json:"sla_days"`
	Routing     map[string]any `json:"routing"`
	Entities    map[string]any `json:"entities"`
	MissingInfo []string       `json:"missing_info"`
	RequestText string         `json:"request_text"`
	Summary     string         `json:"summary,omitempty"`
	NextSteps   string         `json:"next_steps,omitempty"`
}

type followUpPacket struct {
	EventType      event.Kind     `json:"event_type"`
	EventID        string         `json:"event_id"`
	CaseID         string         `json:"case_id"`
	CreatedAt      string         `json:"created_at"`
	Message        string         `json:"message,omitempty"`
	CaseType       string         `json:"case_type,omitempty"`
	EntitiesUpdate map[string]any `json:"entities_update"`
	Summary        string         `json:"summary,omitempty"`
	NextSteps      string         `json:"next_steps,omitempty"`
}

type statusPacket struct {
	EventType event.Kind `json:"event_type"`
	EventID   string     `json:"event_id"`
	CaseID    string     `json:"case_id"`
	CreatedAt string     `json:"created_at"`
	Summary   string     `json:"summary"`
}

// Created builds a case_created record.
func (b *Builder) Created(c Creation) (event.Record, error) {
	now := b.clock()
	if c.CaseID == "" {
		c.CaseID = NewCaseID(now)
	}
	if c.Entities == nil {
		c.Entities = map[string]any{}
	}
	if c.Routing == nil {
		c.Routing = map[string]any{}
	}
	if c.MissingInfo == nil {
		c.MissingInfo = []string{}
	}
	rec, err := event.Encode(createdPacket{
		EventType:   event.KindCreated,
		EventID:     b.newID(),
		CaseID:      c.CaseID,
		CreatedAt:   event.FormatTimestamp(now),
		CaseType:    c.CaseType,
		Priority:    c.Priority,
		SLADays:     c.SLADays,
		Routing:     c.Routing,
		Entities:    c.Entities,
		MissingInfo: c.MissingInfo,
		RequestText: c.RequestText,
		Summary:     c.Summary,
		NextSteps:   c.NextSteps,
	})
	if err != nil {
		return nil, err
	}
	if err := withExtra(rec, c.Extra); err != nil {
		return nil, err
	}
	return rec, nil
}

// FollowUp builds a follow_up record.
func (b *Builder) FollowUp(u Update) (event.Record, error) {
	if u.EntitiesUpdate == nil {
		u.EntitiesUpdate = map[string]any{}
	}
	rec, err := event.Encode(followUpPacket{
		EventType:      event.KindFollowUp,
		EventID:        b.newID(),
		CaseID:         u.CaseID,
		CreatedAt:      event.FormatTimestamp(b.clock()),
		Message:        u.Message,
		CaseType:       u.CaseType,
		EntitiesUpdate: u.EntitiesUpdate,
		Summary:        u.Summary,
		NextSteps:      u.NextSteps,
	})
	if err != nil {
		return nil, err
	}
	// An empty list is still a replacement, so presence is decided here.
	if u.MissingInfoAfter != nil {
		if err := rec.Set(event.FieldMissingInfoAfter, u.MissingInfoAfter); err != nil {
			return nil, err
		}
	}
	if err := withExtra(rec, u.Extra); err != nil {
		return nil, err
	}
	return rec, nil
}

// StatusCheck builds a status_check record for caseID.
func (b *Builder) StatusCheck(caseID string) (event.Record, error) {
	return event.Encode(statusPacket{
		EventType: event.KindStatusCheck,
		EventID:   b.newID(),
		CaseID:    caseID,
		CreatedAt: event.FormatTimestamp(b.clock()),
		Summary:   fmt.Sprintf("Status check requested for case %s.", caseID),
	})
}

func withExtra(rec event.Record, extra map[string]any) error {
	for k, v := range extra {
		if rec.Has(k) {
			continue
		}
		if err := rec.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}
