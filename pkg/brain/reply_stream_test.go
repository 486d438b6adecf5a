package brain

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestReplyStream(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Training = false
	cfg.ReplyChance = 1.0

	ctx, b, model := setupTrainedBrain(t, cfg)

	tokens, ok, err := b.ReplyStream(ctx, model, "one fish")
	if err != nil {
		t.Fatalf("ReplyStream failed: %v", err)
	}
	if !ok {
		t.Fatal("ReplyStream chose silence with reply chance 1.0")
	}

	// From the context "one fish" the walk is fully deterministic, and
	// concatenating the streamed tokens must rebuild the reply text.
	got := CollectReply(tokens)
	if got != "two fish." {
		t.Errorf("streamed reply = %q, want %q", got, "two fish.")
	}
}

func TestReplyStreamLearnsSeedAfterWalk(t *testing.T) {
	// With only "a b" trained at order 1, the context [a] has exactly one
	// successor, so the walk from seed "b a" is deterministic. The seed
	// itself teaches a -> end; if it were learned before the walk instead of
	// after, the first sample could draw the end marker and yield silence.
	for i := 0; i < 20; i++ {
		cfg := DefaultConfig()
		cfg.Order = 1
		cfg.ReplyChance = 1.0

		_, b := setupTestDB(t, cfg)
		ctx := context.Background()

		model, err := b.CreateModel(ctx, "fresh")
		if err != nil {
			t.Fatalf("CreateModel failed: %v", err)
		}
		if err := b.Train(ctx, model, strings.NewReader("a b")); err != nil {
			t.Fatalf("Train failed: %v", err)
		}

		tokens, ok, err := b.ReplyStream(ctx, model, "b a")
		if err != nil {
			t.Fatalf("ReplyStream failed: %v", err)
		}
		if !ok {
			t.Fatalf("attempt %d: ReplyStream chose silence with reply chance 1.0", i)
		}
		if got := CollectReply(tokens); got != "b." {
			t.Fatalf("attempt %d: streamed reply = %q, want %q", i, got, "b.")
		}
	}
}

func TestReplyStreamGate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Training = false
	cfg.ReplyChance = 0.0

	ctx, b, model := setupTrainedBrain(t, cfg)

	tokens, ok, err := b.ReplyStream(ctx, model, "one fish")
	if err != nil {
		t.Fatalf("ReplyStream failed: %v", err)
	}
	if ok || tokens != nil {
		t.Errorf("ReplyStream with chance 0.0 returned a stream (ok=%v)", ok)
	}
}

func TestReplyStreamCancellation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Order = 1
	cfg.Training = false
	cfg.ReplyChance = 1.0
	cfg.MaxLength = 1_000_000

	_, b := setupTestDB(t, cfg)
	baseCtx := context.Background()

	model, err := b.CreateModel(baseCtx, "endless")
	if err != nil {
		t.Fatalf("CreateModel failed: %v", err)
	}
	if err := b.SetConfig(Config{Order: 1, Training: true, ReplyChance: 1.0, MaxLength: 1_000_000}); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}
	// A heavily self-referential chain so the walk runs long.
	if err := b.Train(baseCtx, model, strings.NewReader(strings.Repeat("loop ", 200))); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	cfg.Training = false
	if err := b.SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}

	ctx, cancel := context.WithCancel(baseCtx)
	tokens, ok, err := b.ReplyStream(ctx, model, "loop")
	if err != nil {
		t.Fatalf("ReplyStream failed: %v", err)
	}
	if !ok {
		t.Fatal("ReplyStream chose silence with reply chance 1.0")
	}

	// Consume a few tokens, then cancel; the channel must close promptly.
	received := 0
	for range tokens {
		received++
		if received == 3 {
			cancel()
			break
		}
	}

	select {
	case _, open := <-tokens:
		for open {
			_, open = <-tokens
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not close after cancellation")
	}
	cancel()
}
