// Package caseindex answers whether a case has been created.
//
// There is no stored index: Exists scans the ledger for a record of the case
// that resolves to case_created.
package caseindex

import (
	"context"

	"github.com/Mindburn-Labs/caseledger/pkg/event"
	"github.com/Mindburn-Labs/caseledger/pkg/store"
)

// Index checks case existence against a ledger.
type Index struct {
	reader store.Reader
}

// New returns an Index reading from r.
func New(r store.Reader) *Index {
	return &Index{reader: r}
}

// Exists reports whether at least one record for caseID resolves to
// case_created. Records are scanned newest-appended first, stopping at the
// first hit.
func (i *Index) Exists(ctx context.Context, caseID string) (bool, error) {
	scan, err := store.ReadCase(ctx, i.reader, caseID)
	if err != nil {
		return false, err
	}
	return Created(scan.Records, caseID), nil
}

// Created reports whether records hold a creation event for caseID.
func Created(records []event.Record, caseID string) bool {
	for j := len(records) - 1; j >= 0; j-- {
		rec := records[j]
		if rec.CaseID() == caseID && event.Resolve(rec) == event.KindCreated {
			return true
		}
	}
	return false
}
