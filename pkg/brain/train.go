package brain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// ErrEmptyInput is returned by Observe when the message contains no tokens.
// Callers should treat it as a no-op.
var ErrEmptyInput = errors.New("brain: empty input")

// transition is a pending context -> successor observation awaiting a batched
// database write.
type transition struct {
	contextID   int
	successorID int
}

// Train processes a stream of text, tokenizes it, and learns every observed
// context -> successor transition into the given model. Each unit (sentence)
// is trained independently: units never share context across their
// boundaries. The whole run is one database transaction, with in-memory
// caching and batched writes for large datasets. If training is disabled in
// the configuration, Train is a no-op.
func (b *Brain) Train(ctx context.Context, model ModelInfo, data io.Reader) error {
	// maxUnitLength keeps a single degenerate unit from holding the whole
	// stream in memory.
	const maxUnitLength = 4096
	// batchSize is how many transitions are buffered before a batched write.
	const batchSize = 1000

	if !b.Config().Training {
		b.logger.DebugContext(ctx, "Training disabled, skipping",
			slog.String("model_name", model.Name),
		)
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	contextCache := make(map[string]int)
	batch := make([]transition, 0, batchSize)

	var unitCount int64

	stmtInsertVocab := tx.StmtContext(ctx, b.stmtInsertVocab)
	stmtGetOrInsertContext := tx.StmtContext(ctx, b.stmtGetOrInsertContext)
	stmtObserve := tx.StmtContext(ctx, b.stmtObserve)

	flush := func(batch *[]transition) error {
		for _, tr := range *batch {
			if _, err := stmtObserve.ExecContext(ctx, model.Id, tr.contextID, tr.successorID); err != nil {
				return fmt.Errorf("failed to record transition (%d -> %d): %w", tr.contextID, tr.successorID, err)
			}
		}
		*batch = (*batch)[:0]
		return nil
	}

	stream := b.tokenizer.NewStream(data)
	var unit []int
	var token *Token

	for {
		token, err = stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("tokenizer error: %w", err)
		}

		if !token.End && len(unit) < maxUnitLength {
			var tokenID int
			if err = stmtInsertVocab.QueryRowContext(ctx, token.Text).Scan(&tokenID); err != nil {
				return fmt.Errorf("vocabulary insert failed for token '%s': %w", token.Text, err)
			}
			unit = append(unit, tokenID)
		} else {
			if len(unit) > 0 {
				if err = trainUnit(ctx, model, unit, contextCache, &batch, stmtGetOrInsertContext); err != nil {
					return fmt.Errorf("unit processing error: %w", err)
				}
				unitCount++
				unit = unit[:0]
			}

			if len(batch) >= batchSize {
				if err = flush(&batch); err != nil {
					return err
				}
			}
		}
	}

	if len(unit) > 0 {
		if err = trainUnit(ctx, model, unit, contextCache, &batch, stmtGetOrInsertContext); err != nil {
			return fmt.Errorf("final unit processing error: %w", err)
		}
		unitCount++
	}

	if err = flush(&batch); err != nil {
		return err
	}

	b.logger.InfoContext(ctx, "Training completed",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Int64("units_processed", unitCount),
	)

	return tx.Commit()
}

// Observe learns a single live message, the incremental counterpart to Train.
// It is a no-op (without error) when training is disabled, and returns
// ErrEmptyInput when the message tokenizes to nothing.
func (b *Brain) Observe(ctx context.Context, model ModelInfo, message string) error {
	if !b.Config().Training {
		return nil
	}

	tokens, err := Tokenize(b.tokenizer, message)
	if err != nil {
		return err
	}

	var hasWords bool
	for _, token := range tokens {
		if !token.End {
			hasWords = true
			break
		}
	}
	if !hasWords {
		return ErrEmptyInput
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	stmtInsertVocab := tx.StmtContext(ctx, b.stmtInsertVocab)
	stmtGetOrInsertContext := tx.StmtContext(ctx, b.stmtGetOrInsertContext)
	stmtObserve := tx.StmtContext(ctx, b.stmtObserve)

	contextCache := make(map[string]int)
	var batch []transition
	var unit []int

	emit := func() error {
		if len(unit) == 0 {
			return nil
		}
		if err := trainUnit(ctx, model, unit, contextCache, &batch, stmtGetOrInsertContext); err != nil {
			return err
		}
		unit = unit[:0]
		return nil
	}

	for _, token := range tokens {
		if token.End {
			if err = emit(); err != nil {
				return err
			}
			continue
		}
		var tokenID int
		if err = stmtInsertVocab.QueryRowContext(ctx, token.Text).Scan(&tokenID); err != nil {
			return fmt.Errorf("vocabulary insert failed for token '%s': %w", token.Text, err)
		}
		unit = append(unit, tokenID)
	}
	if err = emit(); err != nil {
		return err
	}

	for _, tr := range batch {
		if _, err = stmtObserve.ExecContext(ctx, model.Id, tr.contextID, tr.successorID); err != nil {
			return fmt.Errorf("failed to record transition (%d -> %d): %w", tr.contextID, tr.successorID, err)
		}
	}

	b.logger.DebugContext(ctx, "Observed message",
		slog.String("model_name", model.Name),
		slog.Int("transitions", len(batch)),
	)

	return tx.Commit()
}

// trainUnit slides the order-k window over one unit of token IDs, bounded by
// k start markers in front and one end marker behind, and queues a transition
// for every window position.
func trainUnit(ctx context.Context, model ModelInfo, unit []int, contextCache map[string]int, batch *[]transition, stmtGetOrInsertContext *sql.Stmt) error {
	if len(unit) == 0 {
		return nil
	}

	augmented := make([]int, len(unit)+model.Order+1)
	copy(augmented[model.Order:len(augmented)-1], unit)
	augmented[len(augmented)-1] = EndTokenID

	var keyBuf []byte
	for i := 0; i < len(unit)+1; i++ { // len+1 so the final successor is the end marker.
		window := augmented[i : i+model.Order]
		successor := augmented[i+model.Order]

		keyBuf = appendContextKey(keyBuf[:0], window)
		contextKey := string(keyBuf)

		contextID, ok := contextCache[contextKey]
		if !ok {
			if err := stmtGetOrInsertContext.QueryRowContext(ctx, contextKey).Scan(&contextID); err != nil {
				return fmt.Errorf("failed to get or insert context '%s': %w", contextKey, err)
			}
			contextCache[contextKey] = contextID
		}

		*batch = append(*batch, transition{contextID: contextID, successorID: successor})
	}
	return nil
}
