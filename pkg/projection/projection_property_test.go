//go:build property
// +build property

package projection

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/caseledger/pkg/event"
)

var propertyBase = time.Date(2025, 12, 13, 9, 0, 0, 0, time.UTC)

// history turns generated ints into a case history with distinct, increasing
// timestamps: 0 creates, 1 follows up, 2 checks status.
func history(kinds []int, values []string) []event.Record {
	recs := make([]event.Record, 0, len(kinds))
	for i, k := range kinds {
		ts := event.FormatTimestamp(propertyBase.Add(time.Duration(i) * time.Minute))
		fields := map[string]any{"case_id": "CASE-P", "created_at": ts}
		val := any(nil)
		if len(values) > 0 && values[i%len(values)] != "" {
			val = values[i%len(values)]
		}
		switch k % 3 {
		case 0:
			fields["event_type"] = "case_created"
			fields["entities"] = map[string]any{"k0": val}
			fields["missing_info"] = []string{"k1", "k2"}
		case 1:
			fields["event_type"] = "follow_up"
			fields["entities_update"] = map[string]any{fmt.Sprintf("k%d", i%3): val}
			if i%2 == 0 {
				fields["missing_info_after"] = []string{fmt.Sprintf("k%d", i%3)}
			}
		default:
			fields["event_type"] = "status_check"
			fields["entities"] = map[string]any{"k0": "status"}
		}
		rec, err := event.Encode(fields)
		if err != nil {
			panic(err)
		}
		recs = append(recs, rec)
	}
	return recs
}

func TestFoldProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("append order does not change the projection", prop.ForAll(
		func(kinds []int, values []string, seed int64) bool {
			recs := history(kinds, values)
			shuffled := append([]event.Record(nil), recs...)
			rand.New(rand.NewSource(seed)).Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})
			return reflect.DeepEqual(Replay(recs, "CASE-P"), Replay(shuffled, "CASE-P"))
		},
		gen.SliceOf(gen.IntRange(0, 2)),
		gen.SliceOf(gen.AlphaString()),
		gen.Int64(),
	))

	properties.Property("status checks never change the projection", prop.ForAll(
		func(kinds []int, values []string) bool {
			recs := history(kinds, values)
			var mutating []event.Record
			for _, rec := range recs {
				if event.Resolve(rec) != event.KindStatusCheck {
					mutating = append(mutating, rec)
				}
			}
			return reflect.DeepEqual(Replay(recs, "CASE-P"), Replay(mutating, "CASE-P"))
		},
		gen.SliceOf(gen.IntRange(0, 2)),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("projection is absent iff no creation exists", prop.ForAll(
		func(kinds []int) bool {
			recs := history(kinds, nil)
			hasCreate := false
			for _, k := range kinds {
				hasCreate = hasCreate || k%3 == 0
			}
			return (Replay(recs, "CASE-P") != nil) == hasCreate
		},
		gen.SliceOf(gen.IntRange(0, 2)),
	))

	properties.Property("replay is idempotent", prop.ForAll(
		func(kinds []int, values []string) bool {
			recs := history(kinds, values)
			return reflect.DeepEqual(Replay(recs, "CASE-P"), Replay(recs, "CASE-P"))
		},
		gen.SliceOf(gen.IntRange(0, 2)),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
