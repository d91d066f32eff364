// Package event defines ledger records and the case events decoded from them.
//
// A Record is one JSON object exactly as it sits in the ledger. Decoding a
// record into an Event never fails: fields with the wrong shape are dropped
// and noted on the envelope, and records whose kind cannot be resolved decode
// to Unknown.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrInvalidRecord is returned for payloads that cannot be appended.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrMalformedLine is returned when a ledger line is not a JSON object.
	ErrMalformedLine = errors.New("malformed ledger line")
)

// Field names consumed by the resolver and the projector.
const (
	FieldCaseID           = "case_id"
	FieldEventType        = "event_type"
	FieldCreatedAt        = "created_at"
	FieldEventID          = "event_id"
	FieldCaseType         = "case_type"
	FieldPriority         = "priority"
	FieldSLADays          = "sla_days"
	FieldRouting          = "routing"
	FieldEntities         = "entities"
	FieldMissingInfo      = "missing_info"
	FieldRequestText      = "request_text"
	FieldSummary          = "summary"
	FieldEntitiesUpdate   = "entities_update"
	FieldMissingInfoAfter = "missing_info_after"
)

// Record is a single immutable ledger entry. Values are kept raw so that
// payload fields the core does not understand survive a round trip.
type Record map[string]json.RawMessage

// ParseRecord decodes one ledger line. The line must be valid UTF-8 and hold
// a single JSON object.
func ParseRecord(line []byte) (Record, error) {
	if !utf8.Valid(line) {
		return nil, fmt.Errorf("%w: invalid utf-8", ErrMalformedLine)
	}
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedLine)
	}
	return rec, nil
}

// Encode converts any JSON-marshalable value into a Record and validates it
// for appending.
func Encode(v any) (Record, error) {
	if rec, ok := v.(Record); ok {
		return rec, rec.Validate()
	}
	raw, err := marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	rec, err := ParseRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return rec, rec.Validate()
}

// Validate reports whether the record may be appended: it needs a non-blank
// string case_id.
func (r Record) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	raw, ok := r[FieldCaseID]
	if !ok {
		return fmt.Errorf("%w: missing %s", ErrInvalidRecord, FieldCaseID)
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return fmt.Errorf("%w: %s must be a string", ErrInvalidRecord, FieldCaseID)
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: blank %s", ErrInvalidRecord, FieldCaseID)
	}
	return nil
}

// MarshalLine renders the record as one compact JSON line terminated by '\n'.
func (r Record) MarshalLine() ([]byte, error) {
	line, err := marshal(map[string]json.RawMessage(r))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return append(line, '\n'), nil
}

// marshal is json.Marshal without HTML escaping, matching how producers
// write free text into the ledger.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Has reports whether key is present, including when its value is null.
func (r Record) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// String returns the value at key when it is a JSON string.
func (r Record) String(key string) (string, bool) {
	raw, ok := r[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// CaseID returns the record's case identifier, or "" when it is missing or
// not a string.
func (r Record) CaseID() string {
	id, _ := r.String(FieldCaseID)
	return id
}

// Set stores v under key. It is meant for producers assembling a record
// before it is appended.
func (r Record) Set(key string, v any) error {
	raw, err := marshal(v)
	if err != nil {
		return fmt.Errorf("%w: field %s: %v", ErrInvalidRecord, key, err)
	}
	r[key] = raw
	return nil
}
