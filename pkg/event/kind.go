package event

import "strings"

// Kind is the resolved type of a ledger record.
type Kind string

const (
	KindCreated     Kind = "case_created"
	KindFollowUp    Kind = "follow_up"
	KindStatusCheck Kind = "status_check"
	KindUnknown     Kind = "unknown"
)

// Mutating reports whether events of this kind change case state.
func (k Kind) Mutating() bool {
	return k == KindCreated || k == KindFollowUp
}

// Resolve returns the kind of a record.
//
// An explicit, non-blank event_type string wins and is returned trimmed, even
// if it names a kind this package does not know. Records written before
// event_type existed are recognised as case_created when they carry routing,
// entities and either request_text or summary. Everything else is unknown.
func Resolve(rec Record) Kind {
	if et, ok := rec.String(FieldEventType); ok {
		if et = strings.TrimSpace(et); et != "" {
			return Kind(et)
		}
	}
	if rec.Has(FieldRouting) && rec.Has(FieldEntities) &&
		(rec.Has(FieldRequestText) || rec.Has(FieldSummary)) {
		return KindCreated
	}
	return KindUnknown
}
