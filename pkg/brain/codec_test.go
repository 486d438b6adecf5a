package brain

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestExportImportRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Training = false
	cfg.ReplyChance = 1.0
	ctx, b, model := setupTrainedBrain(t, cfg)

	var buf bytes.Buffer
	if err := b.Export(ctx, model, &buf); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	_, b2 := setupTestDB(t, cfg)

	if err := b2.Import(ctx, &buf); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	imported, err := b2.Model(ctx, model.Name)
	if err != nil {
		t.Fatalf("could not get imported model: %v", err)
	}
	if imported.Order != model.Order {
		t.Errorf("imported order = %d, want %d", imported.Order, model.Order)
	}

	// The aggregate numbers must survive the round trip exactly.
	stats1, err := b.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats on source failed: %v", err)
	}
	stats2, err := b2.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats on target failed: %v", err)
	}
	if !reflect.DeepEqual(stats1.PerModel[model.Id], stats2.PerModel[imported.Id]) {
		t.Errorf("model stats changed in round trip: %+v vs %+v",
			stats1.PerModel[model.Id], stats2.PerModel[imported.Id])
	}

	// Every distribution must survive by token text, even though the
	// internal IDs may have been remapped.
	key1 := contextKeyFor(t, ctx, b, "one", "fish")
	succ1, total1, err := b.Distribution(ctx, model, key1)
	if err != nil {
		t.Fatalf("Distribution on source failed: %v", err)
	}
	key2 := contextKeyFor(t, ctx, b2, "one", "fish")
	succ2, total2, err := b2.Distribution(ctx, imported, key2)
	if err != nil {
		t.Fatalf("Distribution on target failed: %v", err)
	}
	if total1 != total2 || len(succ1) != len(succ2) {
		t.Fatalf("distribution changed in round trip: %+v (total %d) vs %+v (total %d)", succ1, total1, succ2, total2)
	}

	texts := func(br *Brain, succ []Successor) map[string]int {
		out := make(map[string]int)
		for _, s := range succ {
			text, err := br.TokenText(ctx, s.Id)
			if err != nil {
				t.Fatalf("TokenText(%d) failed: %v", s.Id, err)
			}
			out[text] = s.Count
		}
		return out
	}
	if got, want := texts(b2, succ2), texts(b, succ1); !reflect.DeepEqual(got, want) {
		t.Errorf("successor texts changed in round trip: %v vs %v", got, want)
	}
}

func TestExportImportEmptyModel(t *testing.T) {
	cfg := DefaultConfig()
	_, b := setupTestDB(t, cfg)
	ctx := context.Background()

	model, err := b.CreateModel(ctx, "pristine")
	if err != nil {
		t.Fatalf("CreateModel failed: %v", err)
	}

	var buf bytes.Buffer
	if err := b.Export(ctx, model, &buf); err != nil {
		t.Fatalf("Export of empty model failed: %v", err)
	}

	_, b2 := setupTestDB(t, cfg)
	if err := b2.Import(ctx, &buf); err != nil {
		t.Fatalf("Import of empty model failed: %v", err)
	}

	imported, err := b2.Model(ctx, "pristine")
	if err != nil {
		t.Fatalf("imported empty model not found: %v", err)
	}
	if imported.Order != model.Order {
		t.Errorf("imported order = %d, want %d", imported.Order, model.Order)
	}

	stats, err := b2.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if s := stats.PerModel[imported.Id]; s.Observations != 0 || s.Contexts != 0 {
		t.Errorf("empty model gained data in round trip: %+v", s)
	}
}

func TestImportMergeAddsCounts(t *testing.T) {
	cfg := DefaultConfig()
	ctx, b, model := setupTrainedBrain(t, cfg)

	var buf bytes.Buffer
	if err := b.Export(ctx, model, &buf); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	// Importing into the database it came from doubles every count.
	if err := b.Import(ctx, &buf); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	key := contextKeyFor(t, ctx, b, "one", "fish")
	_, total, err := b.Distribution(ctx, model, key)
	if err != nil {
		t.Fatalf("Distribution failed: %v", err)
	}
	if total != 2 {
		t.Errorf("expected total of 2 after merge, got %d", total)
	}
}

func TestImportCorruptData(t *testing.T) {
	_, b := setupTestDB(t, DefaultConfig())
	ctx := context.Background()

	testCases := []struct {
		name  string
		input string
	}{
		{"not json", "this is not json{{{"},
		{"bad order", `{"version": 1, "name": "m", "order": 0}`},
		{
			"context key references unknown token",
			`{"version": 1, "name": "m", "order": 1, "vocabulary": {}, "contexts": {"42": 5}, "transitions": []}`,
		},
		{
			"context key length does not match order",
			`{"version": 1, "name": "m", "order": 2, "vocabulary": {}, "contexts": {"0": 5}, "transitions": []}`,
		},
		{
			"transition references unknown context",
			`{"version": 1, "name": "m", "order": 1, "vocabulary": {}, "contexts": {}, "transitions": [{"context_id": 9, "successor_id": 1, "count": 1}]}`,
		},
		{
			"non-positive count",
			`{"version": 1, "name": "m", "order": 1, "vocabulary": {}, "contexts": {"0": 5}, "transitions": [{"context_id": 5, "successor_id": 1, "count": 0}]}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := b.Import(ctx, strings.NewReader(tc.input))
			if !errors.Is(err, ErrCorruptModel) {
				t.Errorf("Import() = %v, want ErrCorruptModel", err)
			}
		})
	}
}

func TestImportVersionMismatch(t *testing.T) {
	_, b := setupTestDB(t, DefaultConfig())
	ctx := context.Background()

	input := `{"version": 99, "name": "future", "order": 2, "vocabulary": {}, "contexts": {}, "transitions": []}`
	err := b.Import(ctx, strings.NewReader(input))
	if !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("Import() = %v, want ErrVersionMismatch", err)
	}
}

func TestImportFailureLeavesModelUntouched(t *testing.T) {
	cfg := DefaultConfig()
	ctx, b, model := setupTrainedBrain(t, cfg)

	before, err := b.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}

	// A stream that names the existing model but turns corrupt partway
	// through must roll back completely.
	input := `{"version": 1, "name": "test_model", "order": 2, "vocabulary": {"poison": 7},
		"contexts": {"bogus key": 3}, "transitions": [{"context_id": 3, "successor_id": 7, "count": 1}]}`
	if err := b.Import(ctx, strings.NewReader(input)); !errors.Is(err, ErrCorruptModel) {
		t.Fatalf("Import() = %v, want ErrCorruptModel", err)
	}

	after, err := b.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if !reflect.DeepEqual(before.PerModel[model.Id], after.PerModel[model.Id]) {
		t.Errorf("failed import mutated the model: %+v vs %+v", before.PerModel[model.Id], after.PerModel[model.Id])
	}
	if before.VocabSize != after.VocabSize {
		t.Errorf("failed import mutated the vocabulary: %d vs %d", before.VocabSize, after.VocabSize)
	}
}
