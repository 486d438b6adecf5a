package brain

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
)

const (
	// StartTokenID is the reserved ID for the start-of-unit marker.
	StartTokenID = 0
	// EndTokenID is the reserved ID for the end-of-unit marker.
	EndTokenID = 1
	// StartTokenText is the reserved text for the start-of-unit marker.
	StartTokenText = "<s>"
	// EndTokenText is the reserved text for the end-of-unit marker.
	EndTokenText = "</s>"
)

// SetupSchema initializes the brain tables and the reserved marker tokens in
// the provided database. It should be called once before any other operation.
// It is idempotent and safe to call on an already-initialized database.
func SetupSchema(db *sql.DB) error {

	const (
		schemaVocab = `
CREATE TABLE IF NOT EXISTS brain_vocab (
    token_id INTEGER PRIMARY KEY,
    token_text TEXT NOT NULL UNIQUE
);
`
		schemaContexts = `
CREATE TABLE IF NOT EXISTS brain_contexts (
	context_id INTEGER PRIMARY KEY,
	context_key TEXT NOT NULL UNIQUE
);
`
		schemaModels = `
CREATE TABLE IF NOT EXISTS brain_models (
    model_id INTEGER PRIMARY KEY,
    model_name TEXT NOT NULL UNIQUE,
    model_order INTEGER NOT NULL
);
`
		schemaTransitions = `
CREATE TABLE IF NOT EXISTS brain_transitions (
    model_id INTEGER NOT NULL,
    context_id INTEGER NOT NULL,
    successor_id INTEGER NOT NULL,
    occurrences INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (model_id, context_id, successor_id)
);
`
	)

	startMarker := fmt.Sprintf("INSERT OR IGNORE INTO brain_vocab (token_id, token_text) VALUES (%d, '%s');", StartTokenID, StartTokenText)
	endMarker := fmt.Sprintf("INSERT OR IGNORE INTO brain_vocab (token_id, token_text) VALUES (%d, '%s');", EndTokenID, EndTokenText)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	// A successful commit runs first and makes this rollback a no-op.
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	for _, stmt := range []string{schemaVocab, schemaContexts, schemaModels, schemaTransitions} {
		if _, err = tx.Exec(stmt); err != nil {
			return fmt.Errorf("could not create schema: %w", err)
		}
	}

	if _, err = tx.Exec(startMarker); err != nil {
		return fmt.Errorf("could not insert marker tokens: %w", err)
	}

	if _, err = tx.Exec(endMarker); err != nil {
		return fmt.Errorf("could not insert marker tokens: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

// Brain is the main entry point of the library. It holds the database
// connection, the tokenizer, the runtime configuration, and prepared SQL
// statements for efficient database interaction.
type Brain struct {
	db        *sql.DB
	tokenizer Tokenizer

	cfgMu sync.RWMutex
	cfg   Config

	rngMu sync.Mutex
	rng   *rand.Rand

	stmtGetModel           *sql.Stmt
	stmtGetModels          *sql.Stmt
	stmtAddModel           *sql.Stmt
	stmtPruneModel         *sql.Stmt
	stmtModelAggregates    *sql.Stmt
	stmtModelStarters      *sql.Stmt
	stmtGetTokenID         *sql.Stmt
	stmtGetTokenText       *sql.Stmt
	stmtGetContextID       *sql.Stmt
	stmtGetTransitions     *sql.Stmt
	stmtGetVocabLen        *sql.Stmt
	stmtGetContextLen      *sql.Stmt
	stmtInsertVocab        *sql.Stmt
	stmtGetOrInsertContext *sql.Stmt
	stmtObserve            *sql.Stmt

	logger *slog.Logger
}

// New creates a Brain on top of an initialized database. The configuration is
// validated and all SQL statements are pre-compiled; an error is returned if
// either fails.
func New(db *sql.DB, tokenizer Tokenizer, cfg Config) (*Brain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Brain{
		db:        db,
		tokenizer: tokenizer,
		cfg:       cfg,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	prepared := []struct {
		target **sql.Stmt
		query  string
	}{
		{&b.stmtGetModel, `SELECT model_id, model_order FROM brain_models WHERE model_name = ?;`},
		{&b.stmtGetModels, `SELECT model_id, model_name, model_order FROM brain_models;`},
		{&b.stmtAddModel, `INSERT INTO brain_models (model_name, model_order) VALUES (?, ?);`},
		{&b.stmtPruneModel, `DELETE FROM brain_transitions WHERE model_id = ? AND occurrences <= ?;`},
		{&b.stmtModelAggregates, `SELECT COUNT(DISTINCT context_id), COUNT(DISTINCT successor_id), coalesce(SUM(occurrences), 0) FROM brain_transitions WHERE model_id = ?;`},
		{&b.stmtModelStarters, `SELECT COUNT(*) FROM brain_transitions WHERE model_id = ? AND context_id = ?;`},
		{&b.stmtGetTokenID, `SELECT token_id FROM brain_vocab WHERE token_text = ?;`},
		{&b.stmtGetTokenText, `SELECT token_text FROM brain_vocab WHERE token_id = ?;`},
		{&b.stmtGetContextID, `SELECT context_id FROM brain_contexts WHERE context_key = ?;`},
		{&b.stmtGetTransitions, `SELECT successor_id, occurrences FROM brain_transitions WHERE model_id = ? AND context_id = ?;`},
		{&b.stmtGetVocabLen, `SELECT COUNT(*) FROM brain_vocab;`},
		{&b.stmtGetContextLen, `SELECT COUNT(*) FROM brain_contexts;`},
		{&b.stmtInsertVocab, `INSERT INTO brain_vocab (token_text) VALUES (?) ON CONFLICT(token_text) DO UPDATE SET token_text=excluded.token_text RETURNING token_id;`},
		{&b.stmtGetOrInsertContext, `INSERT INTO brain_contexts (context_key) VALUES (?) ON CONFLICT(context_key) DO UPDATE SET context_key=excluded.context_key RETURNING context_id;`},
		{&b.stmtObserve, `INSERT INTO brain_transitions (model_id, context_id, successor_id) VALUES (?, ?, ?) ON CONFLICT DO UPDATE SET occurrences = occurrences + 1;`},
	}

	for _, p := range prepared {
		stmt, err := db.Prepare(p.query)
		if err != nil {
			return nil, fmt.Errorf("could not prepare %q: %w", p.query, err)
		}
		*p.target = stmt
	}

	return b, nil
}

// Close releases all prepared SQL statements held by the Brain. It does not
// close the underlying database connection, which the caller owns.
func (b *Brain) Close() {
	_ = b.stmtGetModel.Close()
	_ = b.stmtGetModels.Close()
	_ = b.stmtAddModel.Close()
	_ = b.stmtPruneModel.Close()
	_ = b.stmtModelAggregates.Close()
	_ = b.stmtModelStarters.Close()
	_ = b.stmtGetTokenID.Close()
	_ = b.stmtGetTokenText.Close()
	_ = b.stmtGetContextID.Close()
	_ = b.stmtGetTransitions.Close()
	_ = b.stmtGetVocabLen.Close()
	_ = b.stmtGetContextLen.Close()
	_ = b.stmtInsertVocab.Close()
	_ = b.stmtGetOrInsertContext.Close()
	_ = b.stmtObserve.Close()
}

// SetLogger sets the logger for the Brain. By default, all logs are discarded.
func (b *Brain) SetLogger(logger *slog.Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// SetRand replaces the random source used by the reply gate and the weighted
// walk. Passing nil restores the default shared source. Intended for tests
// that need deterministic sampling.
func (b *Brain) SetRand(rng *rand.Rand) {
	b.rngMu.Lock()
	b.rng = rng
	b.rngMu.Unlock()
}

// Config returns a copy of the current configuration.
func (b *Brain) Config() Config {
	b.cfgMu.RLock()
	defer b.cfgMu.RUnlock()
	return b.cfg
}

// SetConfig replaces the runtime configuration after validating it.
func (b *Brain) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	b.cfgMu.Lock()
	b.cfg = cfg
	b.cfgMu.Unlock()
	return nil
}

func (b *Brain) randFloat64() float64 {
	b.rngMu.Lock()
	defer b.rngMu.Unlock()
	if b.rng != nil {
		return b.rng.Float64()
	}
	return rand.Float64()
}

func (b *Brain) randIntN(n int) int {
	b.rngMu.Lock()
	defer b.rngMu.Unlock()
	if b.rng != nil {
		return b.rng.IntN(n)
	}
	return rand.IntN(n)
}

// appendContextKey appends the canonical key for a window of token IDs:
// the IDs in order, space separated.
func appendContextKey(buf []byte, window []int) []byte {
	for i, tokenID := range window {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = strconv.AppendInt(buf, int64(tokenID), 10)
	}
	return buf
}
