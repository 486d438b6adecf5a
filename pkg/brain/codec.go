package brain

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

// CodecVersion is the model interchange format version written by Export and
// required by Import.
const CodecVersion = 1

var (
	// ErrCorruptModel reports a structurally invalid or internally
	// inconsistent model stream. Nothing from such a stream is merged.
	ErrCorruptModel = errors.New("brain: corrupt model data")
	// ErrVersionMismatch reports a model stream declaring a format version
	// this library does not support.
	ErrVersionMismatch = errors.New("brain: unsupported model format version")
)

// modelFile is the serialized representation of a trained model.
type modelFile struct {
	Version     int                `json:"version"`
	Name        string             `json:"name"`
	Order       int                `json:"order"`
	Vocabulary  map[string]int     `json:"vocabulary"` // token text -> token id
	Contexts    map[string]int     `json:"contexts"`   // context key -> context id
	Transitions []transitionRecord `json:"transitions"`
}

// transitionRecord is one serialized chain link.
type transitionRecord struct {
	ContextID   int `json:"context_id"`
	SuccessorID int `json:"successor_id"`
	Count       int `json:"count"`
}

// Export serializes a model to its versioned JSON representation. The stream
// carries the order, every context, every successor, and every exact count,
// so a round trip through Import reproduces the model.
func (b *Brain) Export(ctx context.Context, model ModelInfo, w io.Writer) error {

	rows, err := b.db.QueryContext(ctx, "SELECT context_id, successor_id, occurrences FROM brain_transitions WHERE model_id = ?", model.Id)
	if err != nil {
		return fmt.Errorf("could not query transitions for export: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var transitions []transitionRecord
	contextIDs := make(map[int]struct{})
	tokenIDs := make(map[int]struct{})

	for rows.Next() {
		var tr transitionRecord
		if err = rows.Scan(&tr.ContextID, &tr.SuccessorID, &tr.Count); err != nil {
			return err
		}
		transitions = append(transitions, tr)
		contextIDs[tr.ContextID] = struct{}{}
		tokenIDs[tr.SuccessorID] = struct{}{}
	}
	if err = rows.Err(); err != nil {
		return err
	}

	contexts := make(map[string]int)
	if len(contextIDs) > 0 {
		args := make([]interface{}, 0, len(contextIDs))
		placeholders := make([]string, 0, len(contextIDs))
		for id := range contextIDs {
			args = append(args, id)
			placeholders = append(placeholders, "?")
		}
		query := fmt.Sprintf(`SELECT context_id, context_key FROM brain_contexts WHERE context_id IN (%s)`, strings.Join(placeholders, ","))
		cRows, err := b.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		for cRows.Next() {
			var id int
			var key string
			if err = cRows.Scan(&id, &key); err != nil {
				_ = cRows.Close()
				return fmt.Errorf("failed to scan context row for export: %w", err)
			}
			contexts[key] = id
			// Every token inside a context key must travel with the model too.
			for _, idStr := range strings.Split(key, " ") {
				tokenID, _ := strconv.Atoi(idStr)
				tokenIDs[tokenID] = struct{}{}
			}
		}
		_ = cRows.Close()
		if err = cRows.Err(); err != nil {
			return err
		}
	}

	vocabulary := make(map[string]int)
	if len(tokenIDs) > 0 {
		args := make([]interface{}, 0, len(tokenIDs))
		placeholders := make([]string, 0, len(tokenIDs))
		for id := range tokenIDs {
			args = append(args, id)
			placeholders = append(placeholders, "?")
		}
		query := fmt.Sprintf(`SELECT token_id, token_text FROM brain_vocab WHERE token_id IN (%s)`, strings.Join(placeholders, ","))
		vRows, err := b.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		for vRows.Next() {
			var id int
			var text string
			if err = vRows.Scan(&id, &text); err != nil {
				_ = vRows.Close()
				return fmt.Errorf("failed to scan vocabulary row for export: %w", err)
			}
			vocabulary[text] = id
		}
		_ = vRows.Close()
		if err = vRows.Err(); err != nil {
			return err
		}
	}

	exported := modelFile{
		Version:     CodecVersion,
		Name:        model.Name,
		Order:       model.Order,
		Vocabulary:  vocabulary,
		Contexts:    contexts,
		Transitions: transitions,
	}

	b.logger.InfoContext(ctx, "Model exported",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Int("vocab_exported", len(vocabulary)),
		slog.Int("contexts_exported", len(contexts)),
		slog.Int("transitions_exported", len(transitions)),
	)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(exported)
}

// Import reads a serialized model and merges it into the database. An
// existing model of the same name gains the imported counts; otherwise the
// model is created. The whole operation is one transaction: on any failure —
// ErrVersionMismatch, ErrCorruptModel, or a database error — the previously
// stored state is left untouched.
func (b *Brain) Import(ctx context.Context, r io.Reader) error {
	var imported modelFile
	if err := json.NewDecoder(r).Decode(&imported); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}

	if imported.Version != CodecVersion {
		return fmt.Errorf("%w: stream declares version %d, supported version is %d", ErrVersionMismatch, imported.Version, CodecVersion)
	}
	if imported.Order < 1 {
		return fmt.Errorf("%w: order %d is out of range", ErrCorruptModel, imported.Order)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction for import: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	var modelID, modelOrder int
	err = tx.QueryRowContext(ctx, "SELECT model_id, model_order FROM brain_models WHERE model_name = ?", imported.Name).Scan(&modelID, &modelOrder)
	if errors.Is(err, sql.ErrNoRows) {
		res, err := tx.ExecContext(ctx, "INSERT INTO brain_models (model_name, model_order) VALUES (?, ?)", imported.Name, imported.Order)
		if err != nil {
			return fmt.Errorf("failed to insert new model '%s': %w", imported.Name, err)
		}
		newID, _ := res.LastInsertId()
		modelID = int(newID)
	} else if err != nil {
		return fmt.Errorf("failed to query for model '%s': %w", imported.Name, err)
	} else if modelOrder != imported.Order {
		return fmt.Errorf("cannot merge into model '%s': it has order %d, import declares %d", imported.Name, modelOrder, imported.Order)
	}

	stmtInsertVocab := tx.StmtContext(ctx, b.stmtInsertVocab)
	stmtGetOrInsertContext := tx.StmtContext(ctx, b.stmtGetOrInsertContext)

	vocabIDMap := make(map[int]int) // imported id -> local id
	vocabIDMap[StartTokenID] = StartTokenID
	vocabIDMap[EndTokenID] = EndTokenID

	for text, oldID := range imported.Vocabulary {
		if text == StartTokenText || text == EndTokenText {
			continue
		}
		var newID int
		if err := stmtInsertVocab.QueryRowContext(ctx, text).Scan(&newID); err != nil {
			return fmt.Errorf("failed to get/insert vocab '%s': %w", text, err)
		}
		vocabIDMap[oldID] = newID
	}

	// Context keys are built from token IDs, so they are rewritten with the
	// local IDs before interning.
	contextIDMap := make(map[int]int) // imported id -> local id
	newKeyParts := make([]string, 0, imported.Order)

	for oldKey, oldContextID := range imported.Contexts {
		oldTokenIDs := strings.Split(oldKey, " ")
		if len(oldTokenIDs) != imported.Order {
			return fmt.Errorf("%w: context key '%s' has %d tokens, model order is %d", ErrCorruptModel, oldKey, len(oldTokenIDs), imported.Order)
		}
		newKeyParts = newKeyParts[:0]

		for _, oldTokenIDStr := range oldTokenIDs {
			oldTokenID, err := strconv.Atoi(oldTokenIDStr)
			if err != nil {
				return fmt.Errorf("%w: malformed context key '%s'", ErrCorruptModel, oldKey)
			}
			newTokenID, ok := vocabIDMap[oldTokenID]
			if !ok {
				return fmt.Errorf("%w: token id %d in context not found in vocabulary", ErrCorruptModel, oldTokenID)
			}
			newKeyParts = append(newKeyParts, strconv.Itoa(newTokenID))
		}

		newKey := strings.Join(newKeyParts, " ")

		var newContextID int
		if err := stmtGetOrInsertContext.QueryRowContext(ctx, newKey).Scan(&newContextID); err != nil {
			return fmt.Errorf("failed to get/insert rebuilt context '%s': %w", newKey, err)
		}
		contextIDMap[oldContextID] = newContextID
	}

	// Merging must add imported counts instead of overwriting existing ones.
	stmtMerge, err := tx.PrepareContext(ctx, `
		INSERT INTO brain_transitions (model_id, context_id, successor_id, occurrences) VALUES (?, ?, ?, ?)
		ON CONFLICT(model_id, context_id, successor_id) DO UPDATE SET occurrences = occurrences + excluded.occurrences;
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare transition merge statement: %w", err)
	}
	defer func(stmtMerge *sql.Stmt) {
		_ = stmtMerge.Close()
	}(stmtMerge)

	for _, tr := range imported.Transitions {
		if tr.Count < 1 {
			return fmt.Errorf("%w: transition (%d -> %d) has count %d", ErrCorruptModel, tr.ContextID, tr.SuccessorID, tr.Count)
		}
		newContextID, ok := contextIDMap[tr.ContextID]
		if !ok {
			return fmt.Errorf("%w: context id %d not found in context table", ErrCorruptModel, tr.ContextID)
		}
		newSuccessorID, ok := vocabIDMap[tr.SuccessorID]
		if !ok {
			return fmt.Errorf("%w: successor id %d not found in vocabulary", ErrCorruptModel, tr.SuccessorID)
		}

		if _, err = stmtMerge.ExecContext(ctx, modelID, newContextID, newSuccessorID, tr.Count); err != nil {
			return fmt.Errorf("failed to merge transition (%d -> %d): %w", newContextID, newSuccessorID, err)
		}
	}

	b.logger.InfoContext(ctx, "Model imported",
		slog.String("model_name", imported.Name),
		slog.Int("target_model_id", modelID),
		slog.Int("vocab_merged", len(imported.Vocabulary)),
		slog.Int("contexts_merged", len(imported.Contexts)),
		slog.Int("transitions_merged", len(imported.Transitions)),
	)

	return tx.Commit()
}
