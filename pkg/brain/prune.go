package brain

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// PruneModel removes every transition of a model whose count is less than or
// equal to maxCount. Useful for shrinking a model by dropping rare, often
// noisy, transitions. This is an explicit maintenance operation: outside of
// it, counts only ever grow.
func (b *Brain) PruneModel(ctx context.Context, model ModelInfo, maxCount int) error {
	res, err := b.stmtPruneModel.ExecContext(ctx, model.Id, maxCount)
	if err != nil {
		return fmt.Errorf("could not prune model %d: %w", model.Id, err)
	}
	rowsAffected, _ := res.RowsAffected()

	b.logger.InfoContext(ctx, "Model pruned",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Int("max_count", maxCount),
		slog.Int64("transitions_removed", rowsAffected),
	)
	return nil
}

// VocabularyPrune is a database-wide cleanup: tokens observed fewer than
// minCount times across all models are removed, along with every context and
// transition that touches them. Destructive; the reserved markers are never
// pruned.
func (b *Brain) VocabularyPrune(ctx context.Context, minCount int) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction for pruning: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	rows, err := tx.QueryContext(ctx,
		`SELECT successor_id FROM brain_transitions GROUP BY successor_id HAVING SUM(occurrences) < ? AND successor_id NOT IN (?, ?)`,
		minCount, StartTokenID, EndTokenID)
	if err != nil {
		return fmt.Errorf("failed to query for rare tokens: %w", err)
	}

	var rareTokenIDs []int
	rareTokenIDSet := make(map[int]struct{})
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan rare token id: %w", err)
		}
		rareTokenIDs = append(rareTokenIDs, id)
		rareTokenIDSet[id] = struct{}{}
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error after iterating rare token rows: %w", err)
	}

	if len(rareTokenIDs) == 0 {
		b.logger.InfoContext(ctx, "No vocabulary to prune",
			slog.Int("min_count", minCount),
		)
		return tx.Commit()
	}

	// Contexts embedding a rare token are checked in Go; scanning the intern
	// table is simpler and more portable than non-SARGable LIKE queries.
	cRows, err := tx.QueryContext(ctx, `SELECT context_id, context_key FROM brain_contexts`)
	if err != nil {
		return fmt.Errorf("failed to query contexts for checking: %w", err)
	}

	var affectedContextIDs []int
	for cRows.Next() {
		var contextID int
		var contextKey string
		if err := cRows.Scan(&contextID, &contextKey); err != nil {
			_ = cRows.Close()
			return fmt.Errorf("failed to scan context row: %w", err)
		}

		for _, idStr := range strings.Split(contextKey, " ") {
			id, _ := strconv.Atoi(idStr)
			if _, isRare := rareTokenIDSet[id]; isRare {
				affectedContextIDs = append(affectedContextIDs, contextID)
				break
			}
		}
	}
	_ = cRows.Close()
	if err := cRows.Err(); err != nil {
		return fmt.Errorf("error after iterating context rows: %w", err)
	}

	// Deletions in dependency order: transitions, then contexts, then vocab.
	if err := batchDelete(ctx, tx, "brain_transitions", "successor_id", rareTokenIDs); err != nil {
		return fmt.Errorf("failed to prune transitions by successor: %w", err)
	}
	if err := batchDelete(ctx, tx, "brain_transitions", "context_id", affectedContextIDs); err != nil {
		return fmt.Errorf("failed to prune transitions by context: %w", err)
	}

	if err := batchDelete(ctx, tx, "brain_contexts", "context_id", affectedContextIDs); err != nil {
		return fmt.Errorf("failed to prune affected contexts: %w", err)
	}

	if err := batchDelete(ctx, tx, "brain_vocab", "token_id", rareTokenIDs); err != nil {
		return fmt.Errorf("failed to prune rare tokens from vocabulary: %w", err)
	}

	b.logger.InfoContext(ctx, "Vocabulary pruned",
		slog.Int("min_count", minCount),
		slog.Int("tokens_removed", len(rareTokenIDs)),
		slog.Int("contexts_affected", len(affectedContextIDs)),
	)

	return tx.Commit()
}

// batchDelete deletes rows whose column value is in ids, chunking the id list
// to stay under SQLite's bound-variable limit (999 by default).
func batchDelete(ctx context.Context, tx *sql.Tx, table, column string, ids []int) error {
	const chunkSize = 500

	for start := 0; start < len(ids); start += chunkSize {
		chunk := ids[start:min(start+chunkSize, len(ids))]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (?%s)", table, column, strings.Repeat(",?", len(chunk)-1))

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}
