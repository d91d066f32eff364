package event

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Envelope holds the fields every event shares.
type Envelope struct {
	CaseID       string
	Kind         Kind
	RawCreatedAt string
	CreatedAt    time.Time
	HasCreatedAt bool
	// Dropped lists payload fields that were present but had the wrong
	// shape and were ignored.
	Dropped []string
}

// Event is one of Created, FollowUp, StatusCheck or Unknown.
type Event interface {
	Header() Envelope
	isEvent()
}

// Created opens a case.
type Created struct {
	Envelope
	CaseType    string
	Priority    string
	SLADays     *int
	Routing     json.RawMessage
	Entities    map[string]any
	MissingInfo []string
}

// FollowUp updates an existing case.
type FollowUp struct {
	Envelope
	EntitiesUpdate map[string]any
	// ReplacesMissing is set when missing_info_after was present, in which
	// case MissingInfoAfter replaces the case's list even when empty.
	ReplacesMissing  bool
	MissingInfoAfter []string
}

// StatusCheck is a read-only query recorded for audit. It never changes state.
type StatusCheck struct {
	Envelope
}

// Unknown is any record whose kind is unknown or unrecognised. Declared holds
// the event_type as written, if any.
type Unknown struct {
	Envelope
	Declared string
}

func (e Created) Header() Envelope     { return e.Envelope }
func (e FollowUp) Header() Envelope    { return e.Envelope }
func (e StatusCheck) Header() Envelope { return e.Envelope }
func (e Unknown) Header() Envelope     { return e.Envelope }

func (Created) isEvent()     {}
func (FollowUp) isEvent()    {}
func (StatusCheck) isEvent() {}
func (Unknown) isEvent()     {}

// Decode resolves the record's kind and casts the payload the kind needs.
func Decode(rec Record) Event {
	env := Envelope{
		CaseID: rec.CaseID(),
		Kind:   Resolve(rec),
	}
	env.RawCreatedAt, _ = rec.String(FieldCreatedAt)
	env.CreatedAt, env.HasCreatedAt = ParseTimestamp(env.RawCreatedAt)

	switch env.Kind {
	case KindCreated:
		return decodeCreated(rec, env)
	case KindFollowUp:
		return decodeFollowUp(rec, env)
	case KindStatusCheck:
		return StatusCheck{Envelope: env}
	default:
		declared, _ := rec.String(FieldEventType)
		return Unknown{Envelope: env, Declared: strings.TrimSpace(declared)}
	}
}

func decodeCreated(rec Record, env Envelope) Created {
	c := Created{}
	var ok bool

	if c.CaseType, ok = coerceString(rec[FieldCaseType]); !ok {
		env.Dropped = append(env.Dropped, FieldCaseType)
	}
	if c.Priority, ok = coerceString(rec[FieldPriority]); !ok {
		env.Dropped = append(env.Dropped, FieldPriority)
	}
	if c.SLADays, ok = coerceInt(rec[FieldSLADays]); !ok {
		env.Dropped = append(env.Dropped, FieldSLADays)
	}
	if raw := rec[FieldRouting]; !isNull(raw) {
		c.Routing = append(json.RawMessage(nil), raw...)
	}
	if c.Entities, ok = decodeObject(rec[FieldEntities]); !ok {
		env.Dropped = append(env.Dropped, FieldEntities)
	}
	if c.Entities == nil {
		c.Entities = map[string]any{}
	}
	if c.MissingInfo, ok = decodeStrings(rec[FieldMissingInfo]); !ok {
		env.Dropped = append(env.Dropped, FieldMissingInfo)
	}
	if c.MissingInfo == nil {
		c.MissingInfo = []string{}
	}

	c.Envelope = env
	return c
}

func decodeFollowUp(rec Record, env Envelope) FollowUp {
	f := FollowUp{}
	var ok bool

	if f.EntitiesUpdate, ok = decodeObject(rec[FieldEntitiesUpdate]); !ok {
		env.Dropped = append(env.Dropped, FieldEntitiesUpdate)
	}
	if raw, present := rec[FieldMissingInfoAfter]; present {
		if f.MissingInfoAfter, ok = decodeStrings(raw); ok {
			f.ReplacesMissing = true
			if f.MissingInfoAfter == nil {
				f.MissingInfoAfter = []string{}
			}
		} else {
			env.Dropped = append(env.Dropped, FieldMissingInfoAfter)
		}
	}

	f.Envelope = env
	return f
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func decodeValue(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

// coerceString accepts strings, numbers and booleans. Absent and null give "".
func coerceString(raw json.RawMessage) (string, bool) {
	if isNull(raw) {
		return "", true
	}
	var v any
	if err := decodeValue(raw, &v); err != nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// coerceInt accepts integral numbers and numeric strings.
func coerceInt(raw json.RawMessage) (*int, bool) {
	if isNull(raw) {
		return nil, true
	}
	var v any
	if err := decodeValue(raw, &v); err != nil {
		return nil, false
	}
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	default:
		return nil, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return &n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return nil, false
	}
	n := int(f)
	return &n, true
}

func decodeObject(raw json.RawMessage) (map[string]any, bool) {
	if isNull(raw) {
		return nil, true
	}
	var m map[string]any
	if err := decodeValue(raw, &m); err != nil {
		return nil, false
	}
	return m, true
}

// decodeStrings reads a list of strings. Null elements are left out.
func decodeStrings(raw json.RawMessage) ([]string, bool) {
	if isNull(raw) {
		return nil, true
	}
	var elems []*string
	if err := decodeValue(raw, &elems); err != nil {
		return nil, false
	}
	out := make([]string, 0, len(elems))
	for _, e := range elems {
		if e != nil {
			out = append(out, *e)
		}
	}
	return out, true
}
