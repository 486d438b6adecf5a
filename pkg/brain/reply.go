package brain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// unknownTokenID stands in for seed words outside the vocabulary. No context
// containing it can exist, so the walk dead-ends naturally instead of
// erroring.
const unknownTokenID = -1

// Reply generates a response to seed from the given model.
//
// The boolean result reports whether the bot chose to speak. It is false when
// the reply-chance gate draws against replying, and also when the walk
// produces no tokens (the seed context was never observed, or the first
// sample was the end marker) — silence and an empty reply are deliberately
// the same outcome. Neither case is an error.
//
// When training is enabled, the seed message is learned after the walk, so a
// reply is never influenced by its own seed's observations.
func (b *Brain) Reply(ctx context.Context, model ModelInfo, seed string) (string, bool, error) {
	cfg := b.Config()

	if b.randFloat64() >= cfg.ReplyChance {
		b.logger.DebugContext(ctx, "Reply gate drew silence",
			slog.String("model_name", model.Name),
			slog.Float64("reply_chance", cfg.ReplyChance),
		)
		b.learn(ctx, model, seed)
		return "", false, nil
	}

	window, err := b.seedWindow(ctx, model, seed)
	if err != nil {
		return "", false, err
	}

	words, err := b.walk(ctx, model, window, cfg.MaxLength)
	if err != nil {
		return "", false, err
	}

	b.learn(ctx, model, seed)

	if len(words) == 0 {
		b.logger.DebugContext(ctx, "Walk produced no tokens, staying silent",
			slog.String("model_name", model.Name),
		)
		return "", false, nil
	}

	var builder strings.Builder
	for i, word := range words {
		if i > 0 {
			builder.WriteString(b.tokenizer.Separator(words[i-1], word))
		}
		builder.WriteString(word)
	}
	builder.WriteString(b.tokenizer.Terminal(words[len(words)-1]))

	return builder.String(), true, nil
}

// seedWindow builds the initial order-k context window from a seed phrase:
// the last k seed tokens, left-padded with start markers when the seed is
// shorter than k. Unknown seed words map to unknownTokenID.
func (b *Brain) seedWindow(ctx context.Context, model ModelInfo, seed string) ([]int, error) {
	tokens, err := Tokenize(b.tokenizer, seed)
	if err != nil {
		return nil, fmt.Errorf("failed to tokenize seed: %w", err)
	}

	window := make([]int, model.Order, model.Order+len(tokens))
	for i := range window {
		window[i] = StartTokenID
	}

	for _, token := range tokens {
		if token.End {
			continue
		}
		id, err := b.TokenID(ctx, token.Text)
		if errors.Is(err, sql.ErrNoRows) {
			id = unknownTokenID
		} else if err != nil {
			return nil, fmt.Errorf("failed to look up seed token '%s': %w", token.Text, err)
		}
		window = append(window, id)
	}

	return window[len(window)-model.Order:], nil
}

// walk runs the weighted random traversal from the initial window, up to
// maxLength tokens. It stops early on the end marker or on a context with no
// observed successors, both normal terminations.
func (b *Brain) walk(ctx context.Context, model ModelInfo, window []int, maxLength int) ([]string, error) {
	textCache := map[int]string{
		StartTokenID: StartTokenText,
		EndTokenID:   EndTokenText,
	}

	var words []string
	var keyBuf []byte

	for len(words) < maxLength {
		keyBuf = appendContextKey(keyBuf[:0], window)
		contextKey := string(keyBuf)

		successors, total, err := b.Distribution(ctx, model, contextKey)
		if err != nil {
			return nil, fmt.Errorf("failed to get successors for context '%s': %w", contextKey, err)
		}

		if len(successors) == 0 {
			b.logger.DebugContext(ctx, "Walk hit an unseen context",
				slog.String("model_name", model.Name),
				slog.String("last_context", contextKey),
				slog.Int("generated_length", len(words)),
			)
			break
		}

		next := b.sampleSuccessor(successors, total)
		if next == EndTokenID {
			break
		}

		text, err := b.tokenTextCached(ctx, next, textCache)
		if err != nil {
			return nil, fmt.Errorf("failed to get text for token %d: %w", next, err)
		}
		words = append(words, text)

		window = append(window[1:], next)
	}

	return words, nil
}

// sampleSuccessor picks one successor with probability proportional to its
// count: a single uniform draw over [0, total) walked down the cumulative
// weights.
func (b *Brain) sampleSuccessor(successors []Successor, total int) int {
	draw := b.randIntN(total)
	for _, s := range successors {
		draw -= s.Count
		if draw < 0 {
			return s.Id
		}
	}
	// Unreachable while counts sum to total.
	return successors[len(successors)-1].Id
}

// learn feeds a live message back into the model. Training-disabled and empty
// messages are quietly skipped; real failures are logged but never interrupt
// a reply.
func (b *Brain) learn(ctx context.Context, model ModelInfo, message string) {
	err := b.Observe(ctx, model, message)
	if err != nil && !errors.Is(err, ErrEmptyInput) {
		b.logger.WarnContext(ctx, "Failed to learn from message",
			slog.String("model_name", model.Name),
			slog.Any("error", err),
		)
	}
}
