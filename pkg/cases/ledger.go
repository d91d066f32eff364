package cases

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/caseledger/pkg/observability"
	"github.com/Mindburn-Labs/caseledger/pkg/store"
)

// meteredLedger reports the size and skipped entries of every scan, whichever
// read model issued it.
type meteredLedger struct {
	store.Store
	obs   *observability.Provider
	attrs []attribute.KeyValue
}

func (m *meteredLedger) ReadAll(ctx context.Context) (*store.Scan, error) {
	scan, err := m.Store.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	m.obs.RecordScan(ctx, len(scan.Records), scan.Skipped(), m.attrs...)
	return scan, nil
}

// ReadCase keeps the wrapped backend's case index in use.
func (m *meteredLedger) ReadCase(ctx context.Context, caseID string) (*store.Scan, error) {
	scan, err := store.ReadCase(ctx, m.Store, caseID)
	if err != nil {
		return nil, err
	}
	m.obs.RecordScan(ctx, len(scan.Records), scan.Skipped(), m.attrs...)
	return scan, nil
}
