package cases

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Mindburn-Labs/caseledger/pkg/event"
	"github.com/Mindburn-Labs/caseledger/pkg/intake"
	"github.com/Mindburn-Labs/caseledger/pkg/observability"
	"github.com/Mindburn-Labs/caseledger/pkg/projection"
	"github.com/Mindburn-Labs/caseledger/pkg/store"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newService(t *testing.T) (*Service, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cases.jsonl")
	obs, err := observability.New(context.Background(), &observability.Config{Enabled: false})
	require.NoError(t, err)
	return NewService(store.NewFileStore(path).WithLogger(quiet), "file", obs).WithLogger(quiet), path
}

func steppingBuilder() *intake.Builder {
	now := time.Date(2025, 12, 13, 9, 0, 0, 0, time.UTC)
	return intake.NewBuilder().WithClock(func() time.Time {
		now = now.Add(time.Minute)
		return now
	})
}

func parse(t *testing.T, line string) event.Record {
	t.Helper()
	rec, err := event.ParseRecord([]byte(line))
	require.NoError(t, err)
	return rec
}

func TestService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	b := steppingBuilder()

	ok, err := svc.Exists(ctx, "CASE-A")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = svc.Project(ctx, "CASE-A")
	assert.ErrorIs(t, err, projection.ErrNotFound)

	rec, err := b.Created(intake.Creation{
		CaseID:      "CASE-A",
		CaseType:    "refund",
		Priority:    "normal",
		SLADays:     3,
		Entities:    map[string]any{"order": "O-1", "amount": nil},
		MissingInfo: []string{"amount"},
		RequestText: "refund please",
	})
	require.NoError(t, err)
	require.NoError(t, svc.Append(ctx, rec))

	rec, err = b.FollowUp(intake.Update{
		CaseID:           "CASE-A",
		EntitiesUpdate:   map[string]any{"amount": "20 EUR"},
		MissingInfoAfter: []string{},
	})
	require.NoError(t, err)
	require.NoError(t, svc.Append(ctx, rec))

	ok, err = svc.Exists(ctx, "CASE-A")
	require.NoError(t, err)
	assert.True(t, ok)

	c, err := svc.Project(ctx, "CASE-A")
	require.NoError(t, err)
	assert.Equal(t, "refund", c.CaseType)
	assert.Equal(t, map[string]any{"order": "O-1", "amount": "20 EUR"}, c.Entities)
	assert.Empty(t, c.MissingInfo)
	assert.Equal(t, event.KindFollowUp, c.LastEventType)
	assert.Equal(t, "2025-12-13T09:02:00Z", c.LastUpdatedAt)
}

func TestService_AppendRefusesStatusCheck(t *testing.T) {
	ctx := context.Background()
	svc, path := newService(t)

	rec, err := steppingBuilder().StatusCheck("CASE-A")
	require.NoError(t, err)

	err = svc.Append(ctx, rec)
	assert.ErrorIs(t, err, ErrReadOnlyEvent)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "nothing written")

	require.NoError(t, svc.Append(ctx, rec, AllowStatusCheck()))
	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ByKind[event.KindStatusCheck])
}

func TestService_AppendInvalid(t *testing.T) {
	svc, _ := newService(t)
	err := svc.Append(context.Background(), parse(t, `{"case_id":"  "}`))
	assert.ErrorIs(t, err, event.ErrInvalidRecord)
}

func TestService_Stats(t *testing.T) {
	ctx := context.Background()
	svc, path := newService(t)

	content := `{"event_type":"case_created","case_id":"B"}` + "\n" +
		`{"event_type":"follow_up","case_id":"A"}` + "\n" +
		`not json` + "\n" +
		`{"event_type":"follow_up","case_id":"B"}` + "\n" +
		`{"case_id":"C","routing":{},"entities":{},"summary":"legacy"}` + "\n" +
		`{"event_type":"reassigned","case_id":"B"}` + "\n" +
		`{"event_type":"follow_up"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.True(t, st.Exists)
	assert.Equal(t, 7, st.Lines)
	assert.Equal(t, 6, st.Records)
	assert.Equal(t, 1, st.Skipped)
	assert.Equal(t, []string{"A", "B", "C"}, st.CaseIDs)
	assert.Equal(t, 3, st.Cases)
	assert.Equal(t, 2, st.Created)
	assert.Equal(t, map[event.Kind]int{
		event.KindCreated:  2,
		event.KindFollowUp: 3,
		event.KindUnknown:  1,
	}, st.ByKind)
}

func TestService_StatsEmpty(t *testing.T) {
	svc, _ := newService(t)
	st, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Exists)
	assert.Zero(t, st.Records)
	assert.Empty(t, st.CaseIDs)
}

func TestService_Tail(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	for _, id := range []string{"A", "B", "C"} {
		require.NoError(t, svc.Append(ctx, parse(t, `{"event_type":"follow_up","case_id":"`+id+`"}`)))
	}

	recs, err := svc.Tail(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "B", recs[0].CaseID())
	assert.Equal(t, "C", recs[1].CaseID())

	recs, err = svc.Tail(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

type brokenLedger struct{ err error }

func (b brokenLedger) Append(context.Context, event.Record) error    { return b.err }
func (b brokenLedger) ReadAll(context.Context) (*store.Scan, error) { return nil, b.err }

func TestService_StorageErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	svc := NewService(brokenLedger{err: boom}, "broken", nil).WithLogger(quiet)

	assert.ErrorIs(t, svc.Append(ctx, parse(t, `{"case_id":"A"}`)), boom)
	_, err := svc.Project(ctx, "A")
	assert.ErrorIs(t, err, boom)
	_, err = svc.Exists(ctx, "A")
	assert.ErrorIs(t, err, boom)
	_, err = svc.Stats(ctx)
	assert.ErrorIs(t, err, boom)
	_, err = svc.Tail(ctx, 1)
	assert.ErrorIs(t, err, boom)
}

func meteredService(t *testing.T) (*Service, string, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	obs, err := observability.New(context.Background(), &observability.Config{Enabled: false},
		observability.WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "cases.jsonl")
	return NewService(store.NewFileStore(path).WithLogger(quiet), "file", obs).WithLogger(quiet), path, reader
}

func int64Points(t *testing.T, reader *sdkmetric.ManualReader, name string) []metricdata.DataPoint[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				return sum.DataPoints
			}
		}
	}
	return nil
}

func TestService_MetricSeriesBoundedAcrossCases(t *testing.T) {
	ctx := context.Background()
	svc, _, reader := meteredService(t)

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("CASE-%d", i)
		require.NoError(t, svc.Append(ctx, parse(t, `{"event_type":"case_created","case_id":"`+id+`"}`)))
		_, err := svc.Exists(ctx, id)
		require.NoError(t, err)
	}
	require.NoError(t, svc.Append(ctx, parse(t, `{"event_type":"escalated-x","case_id":"CASE-1"}`)))
	require.NoError(t, svc.Append(ctx, parse(t, `{"event_type":"escalated-y","case_id":"CASE-1"}`)))

	points := int64Points(t, reader, "caseledger.operations.total")
	// exists, append/case_created, append/unknown
	require.Len(t, points, 3)
	for _, dp := range points {
		_, hasCase := dp.Attributes.Value(observability.AttrCaseID)
		assert.False(t, hasCase)
	}
	assert.Len(t, int64Points(t, reader, "caseledger.operations.active"), 3)
}

func TestService_SkippedEntriesCounted(t *testing.T) {
	ctx := context.Background()
	svc, path, reader := meteredService(t)

	content := `{"event_type":"case_created","case_id":"A"}` + "\n" + `not json` + "\n" + `[1]` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := svc.Project(ctx, "A")
	require.NoError(t, err)
	_, err = svc.Exists(ctx, "A")
	require.NoError(t, err)

	points := int64Points(t, reader, "caseledger.scan.skipped")
	require.Len(t, points, 1)
	assert.Equal(t, int64(4), points[0].Value, "two skips per scan")
}
