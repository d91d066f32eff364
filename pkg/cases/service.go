// Package cases is the facade the rest of a deployment talks to: one ledger
// backend, the projector and the case index over it, with every operation
// traced.
package cases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/caseledger/pkg/caseindex"
	"github.com/Mindburn-Labs/caseledger/pkg/event"
	"github.com/Mindburn-Labs/caseledger/pkg/intake"
	"github.com/Mindburn-Labs/caseledger/pkg/observability"
	"github.com/Mindburn-Labs/caseledger/pkg/projection"
	"github.com/Mindburn-Labs/caseledger/pkg/store"
)

// ErrReadOnlyEvent is returned when appending a status_check without
// AllowStatusCheck. Status queries are answered, not recorded.
var ErrReadOnlyEvent = errors.New("status_check events are not appended")

// Service ties a ledger backend to its read models.
type Service struct {
	ledger    store.Store
	backend   attribute.KeyValue
	projector *projection.Projector
	index     *caseindex.Index
	obs       *observability.Provider
	logger    *slog.Logger
}

// NewService returns a Service over ledger. backend labels telemetry; obs may
// be nil.
func NewService(ledger store.Store, backend string, obs *observability.Provider) *Service {
	if obs == nil {
		obs = observability.Noop()
	}
	label := observability.AttrBackend.String(backend)
	metered := &meteredLedger{Store: ledger, obs: obs, attrs: []attribute.KeyValue{label}}
	return &Service{
		ledger:    metered,
		backend:   label,
		projector: projection.New(metered),
		index:     caseindex.New(metered),
		obs:       obs,
		logger:    slog.Default().With("component", "cases"),
	}
}

// WithLogger overrides the logger of the service and its projector.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	s.projector.WithLogger(l)
	return s
}

type appendOptions struct {
	allowStatusCheck bool
}

// AppendOption tunes a single Append.
type AppendOption func(*appendOptions)

// AllowStatusCheck lets a status_check record through to the ledger.
func AllowStatusCheck() AppendOption {
	return func(o *appendOptions) { o.allowStatusCheck = true }
}

// Append validates rec and writes it to the ledger.
func (s *Service) Append(ctx context.Context, rec event.Record, opts ...AppendOption) (err error) {
	var o appendOptions
	for _, opt := range opts {
		opt(&o)
	}

	kind := event.Resolve(rec)
	ctx, finish := s.obs.TrackOperation(ctx, "ledger.append",
		s.backend, observability.AttrEventType.String(string(metricKind(kind))))
	defer func() { finish(err) }()
	observability.AnnotateCase(ctx, rec.CaseID(), observability.AttrEventType.String(string(kind)))

	if err := rec.Validate(); err != nil {
		return err
	}
	if !o.allowStatusCheck && !intake.ShouldPersist(rec) {
		return fmt.Errorf("%w: case %s", ErrReadOnlyEvent, rec.CaseID())
	}
	if err := s.ledger.Append(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "append failed", "case_id", rec.CaseID(), "kind", kind, "error", err)
		return err
	}
	s.logger.DebugContext(ctx, "appended", "case_id", rec.CaseID(), "kind", kind)
	return nil
}

// Project returns the current state of caseID, or projection.ErrNotFound.
func (s *Service) Project(ctx context.Context, caseID string) (c *projection.Case, err error) {
	ctx, finish := s.obs.TrackOperation(ctx, "ledger.project", s.backend)
	observability.AnnotateCase(ctx, caseID)
	defer func() {
		if errors.Is(err, projection.ErrNotFound) {
			finish(nil)
			return
		}
		finish(err)
	}()
	return s.projector.Project(ctx, caseID)
}

// Exists reports whether caseID has been created.
func (s *Service) Exists(ctx context.Context, caseID string) (ok bool, err error) {
	ctx, finish := s.obs.TrackOperation(ctx, "ledger.exists", s.backend)
	defer func() { finish(err) }()

	ok, err = s.index.Exists(ctx, caseID)
	observability.AnnotateCase(ctx, caseID, observability.AttrCaseCreated.Bool(ok))
	return ok, err
}

// Stats summarises the whole ledger.
type Stats struct {
	Exists  bool               `json:"exists"`
	Lines   int                `json:"lines"`
	Records int                `json:"records"`
	Skipped int                `json:"skipped"`
	Cases   int                `json:"cases"`
	Created int                `json:"created"`
	ByKind  map[event.Kind]int `json:"by_kind"`
	// CaseIDs lists the distinct non-empty case ids, sorted.
	CaseIDs []string `json:"case_ids,omitempty"`
}

// Stats scans the ledger once and counts what it holds.
func (s *Service) Stats(ctx context.Context) (st *Stats, err error) {
	ctx, finish := s.obs.TrackOperation(ctx, "ledger.stats", s.backend)
	defer func() { finish(err) }()

	scan, err := s.ledger.ReadAll(ctx)
	if err != nil {
		return nil, err
	}

	st = &Stats{
		Exists:  scan.Exists,
		Lines:   scan.Lines,
		Records: len(scan.Records),
		Skipped: scan.Skipped(),
		ByKind:  map[event.Kind]int{},
	}
	created := map[string]bool{}
	for _, rec := range scan.Records {
		kind := event.Resolve(rec)
		st.ByKind[kind]++
		id := rec.CaseID()
		if id == "" {
			continue
		}
		if _, seen := created[id]; !seen {
			created[id] = false
			st.CaseIDs = append(st.CaseIDs, id)
		}
		if kind == event.KindCreated {
			created[id] = true
		}
	}
	sort.Strings(st.CaseIDs)
	st.Cases = len(st.CaseIDs)
	for _, ok := range created {
		if ok {
			st.Created++
		}
	}
	return st, nil
}

// Tail returns the last n decoded records, or all of them when n <= 0.
func (s *Service) Tail(ctx context.Context, n int) (recs []event.Record, err error) {
	ctx, finish := s.obs.TrackOperation(ctx, "ledger.tail", s.backend)
	defer func() { finish(err) }()

	scan, err := s.ledger.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	return store.Tail(scan, n), nil
}

// metricKind folds event_type values outside the known kinds into unknown,
// since producers may write any string there.
func metricKind(k event.Kind) event.Kind {
	switch k {
	case event.KindCreated, event.KindFollowUp, event.KindStatusCheck:
		return k
	default:
		return event.KindUnknown
	}
}
