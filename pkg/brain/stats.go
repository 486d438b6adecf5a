package brain

import (
	"context"
	"database/sql"
	"errors"
)

// Stats holds aggregated statistics for the whole database: every model, its
// individual numbers, and the global intern table sizes. Everything is
// computed on demand, never cached.
type Stats struct {
	Models   []ModelInfo        // every model in the database
	PerModel map[int]ModelStats // model id -> its stats
	// VocabSize is the number of unique tokens across all models,
	// including the two reserved markers.
	VocabSize int
	// ContextTableSize is the number of unique interned contexts across
	// all models.
	ContextTableSize int
}

// ModelStats holds aggregated statistics for a single model.
type ModelStats struct {
	Contexts     int // distinct contexts observed at least once
	Successors   int // distinct successor tokens across all entries
	Observations int // sum of all transition counts
	Starters     int // distinct tokens that can begin a reply
}

// GetStats computes a statistics snapshot for the entire database.
func (b *Brain) GetStats(ctx context.Context) (*Stats, error) {
	modelInfos, err := b.Models(ctx)
	if err != nil {
		return nil, err
	}

	var vocabLen int
	if err = b.stmtGetVocabLen.QueryRowContext(ctx).Scan(&vocabLen); err != nil {
		return nil, err
	}

	var contextLen int
	if err = b.stmtGetContextLen.QueryRowContext(ctx).Scan(&contextLen); err != nil {
		return nil, err
	}

	models := make([]ModelInfo, 0, len(modelInfos))
	perModel := make(map[int]ModelStats)
	for _, m := range modelInfos {
		models = append(models, m)

		var s ModelStats
		err = b.stmtModelAggregates.QueryRowContext(ctx, m.Id).Scan(&s.Contexts, &s.Successors, &s.Observations)
		if err != nil {
			return nil, err
		}

		s.Starters, err = b.starterCount(ctx, m)
		if err != nil {
			return nil, err
		}

		perModel[m.Id] = s
	}

	return &Stats{
		Models:           models,
		PerModel:         perModel,
		VocabSize:        vocabLen,
		ContextTableSize: contextLen,
	}, nil
}

// starterCount counts the successors of the all-start-markers context, the
// tokens a reply generated without a seed can begin with.
func (b *Brain) starterCount(ctx context.Context, model ModelInfo) (int, error) {
	window := make([]int, model.Order)
	for i := range window {
		window[i] = StartTokenID
	}
	key := string(appendContextKey(nil, window))

	var startContextID int
	err := b.stmtGetContextID.QueryRowContext(ctx, key).Scan(&startContextID)
	if errors.Is(err, sql.ErrNoRows) {
		// Untrained model: nothing can start a reply yet.
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var starters int
	if err = b.stmtModelStarters.QueryRowContext(ctx, model.Id, startContextID).Scan(&starters); err != nil {
		return 0, err
	}
	return starters, nil
}
