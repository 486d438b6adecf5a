package brain

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates a new SQLite database and a Brain for testing. Cleanup
// is registered on t.
func setupTestDB(t *testing.T, cfg Config) (*sql.DB, *Brain) {
	t.Helper()
	dbFile := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", dbFile+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-4000")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := SetupSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}

	b, err := New(db, NewWordTokenizer(), cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(b.Close)

	// Deterministic sampling for every test.
	b.SetRand(rand.New(rand.NewPCG(7, 13)))

	return db, b
}

// setupTrainedBrain is a convenience helper that also creates and trains a
// default order-2 model.
func setupTrainedBrain(t *testing.T, cfg Config) (context.Context, *Brain, ModelInfo) {
	t.Helper()
	trainCfg := cfg
	trainCfg.Training = true
	_, b := setupTestDB(t, trainCfg)
	ctx := context.Background()

	model, err := b.CreateModel(ctx, "test_model")
	if err != nil {
		t.Fatalf("setup: CreateModel() failed: %v", err)
	}
	trainingData := "one fish two fish. red fish blue fish."
	if err := b.Train(ctx, model, strings.NewReader(trainingData)); err != nil {
		t.Fatalf("setup: Train() failed: %v", err)
	}
	if err := b.SetConfig(cfg); err != nil {
		t.Fatalf("setup: SetConfig() failed: %v", err)
	}
	return ctx, b, model
}

// setupTestDBBench creates a database for benchmarking.
func setupTestDBBench(b *testing.B, cfg Config) (*sql.DB, *Brain) {
	b.Helper()
	dbFile := filepath.Join(b.TempDir(), "bench.db")
	db, err := sql.Open("sqlite3", dbFile+"?_journal_mode=WAL&_synchronous=OFF&_cache_size=-16000&_mmap_size=268435456")
	if err != nil {
		b.Fatalf("failed to open database: %v", err)
	}
	b.Cleanup(func() { _ = db.Close() })

	if err := SetupSchema(db); err != nil {
		b.Fatalf("failed to set up schema: %v", err)
	}

	br, err := New(db, NewWordTokenizer(), cfg)
	if err != nil {
		b.Fatalf("New() error = %v", err)
	}
	b.Cleanup(br.Close)

	return db, br
}

// benchmarkCorpus builds a synthetic conversational corpus: enough repeated
// structure for chains to form, enough variety to keep the tables honest.
func benchmarkCorpus(sentences int) string {
	subjects := []string{"the bot", "a parrot", "my neighbor", "the lyrebird", "this chain"}
	verbs := []string{"repeats", "learns", "mangles", "remembers", "invents"}
	objects := []string{"every word", "the whole corpus", "a strange sentence", "its own replies", "nothing useful"}

	rng := rand.New(rand.NewPCG(1, 1))
	var sb strings.Builder
	for i := 0; i < sentences; i++ {
		fmt.Fprintf(&sb, "%s %s %s. ",
			subjects[rng.IntN(len(subjects))],
			verbs[rng.IntN(len(verbs))],
			objects[rng.IntN(len(objects))],
		)
	}
	return sb.String()
}
