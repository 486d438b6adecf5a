package brain

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ModelInfo is the metadata for a single chain model: its database ID, its
// name, and the chain order it was created with.
type ModelInfo struct {
	Id    int
	Name  string
	Order int
}

// CreateModel creates a new, empty model using the configured chain order and
// returns its metadata.
func (b *Brain) CreateModel(ctx context.Context, name string) (ModelInfo, error) {
	order := b.Config().Order
	res, err := b.stmtAddModel.ExecContext(ctx, name, order)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("could not create model '%s': %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ModelInfo{}, err
	}
	return ModelInfo{Id: int(id), Name: name, Order: order}, nil
}

// Model retrieves the metadata for a single model by name. It returns
// sql.ErrNoRows if no such model exists.
func (b *Brain) Model(ctx context.Context, name string) (ModelInfo, error) {
	var id, order int
	err := b.stmtGetModel.QueryRowContext(ctx, name).Scan(&id, &order)
	if err != nil {
		return ModelInfo{}, err
	}
	return ModelInfo{
		Id:    id,
		Name:  name,
		Order: order,
	}, nil
}

// Models retrieves metadata for every model in the database, keyed by name.
func (b *Brain) Models(ctx context.Context) (map[string]ModelInfo, error) {
	rows, err := b.stmtGetModels.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	models := make(map[string]ModelInfo)
	for rows.Next() {
		var m ModelInfo
		if err = rows.Scan(&m.Id, &m.Name, &m.Order); err != nil {
			return nil, err
		}
		models[m.Name] = m
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return models, nil
}

// RemoveModel deletes a model and all of its transitions. The operation is
// performed within a transaction.
func (b *Brain) RemoveModel(ctx context.Context, model ModelInfo) error {

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.ExecContext(ctx, "DELETE FROM brain_transitions WHERE model_id = ?", model.Id); err != nil {
		return fmt.Errorf("failed to remove transitions for model %d: %w", model.Id, err)
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM brain_models WHERE model_id = ?", model.Id); err != nil {
		return fmt.Errorf("failed to remove model %d: %w", model.Id, err)
	}

	b.logger.InfoContext(ctx, "Model removed",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
	)

	return tx.Commit()
}
