package brain

import (
	"context"
	"log/slog"
	"strings"
)

// ReplyStream is the streaming variant of Reply: the generated reply is
// delivered token by token over the returned channel, each token carrying any
// separator it needs so consumers can concatenate texts directly. The channel
// is closed when generation finishes or ctx is cancelled.
//
// The boolean result mirrors Reply's: false means the reply-chance gate chose
// silence and no channel is returned. A walk that produces no tokens yields a
// channel that closes without sending anything. As with Reply, the seed
// message is learned after the walk completes, never during it.
func (b *Brain) ReplyStream(ctx context.Context, model ModelInfo, seed string) (<-chan Token, bool, error) {
	cfg := b.Config()

	if b.randFloat64() >= cfg.ReplyChance {
		b.logger.DebugContext(ctx, "Reply gate drew silence",
			slog.String("model_name", model.Name),
			slog.Float64("reply_chance", cfg.ReplyChance),
		)
		b.learn(ctx, model, seed)
		return nil, false, nil
	}

	window, err := b.seedWindow(ctx, model, seed)
	if err != nil {
		return nil, false, err
	}

	out := make(chan Token)

	go func() {
		defer close(out)
		// Learned only once the walk is done, so the stream never samples
		// from its own seed's observations.
		defer b.learn(ctx, model, seed)

		textCache := map[int]string{
			StartTokenID: StartTokenText,
			EndTokenID:   EndTokenText,
		}

		var keyBuf []byte
		var lastWord string
		generated := 0

		for generated < cfg.MaxLength {
			select {
			case <-ctx.Done():
				b.logger.DebugContext(ctx, "Reply stream cancelled")
				return
			default:
			}

			keyBuf = appendContextKey(keyBuf[:0], window)
			contextKey := string(keyBuf)

			successors, total, err := b.Distribution(ctx, model, contextKey)
			if err != nil {
				b.logger.ErrorContext(ctx, "Failed to get successors for stream",
					slog.String("context", contextKey),
					slog.Any("error", err),
				)
				return
			}

			next := EndTokenID
			if len(successors) > 0 {
				next = b.sampleSuccessor(successors, total)
			}

			if next == EndTokenID {
				if generated == 0 {
					return
				}
				terminal := b.tokenizer.Terminal(lastWord)
				if terminal != "" {
					select {
					case <-ctx.Done():
					case out <- Token{Text: terminal, End: true}:
					}
				}
				return
			}

			text, err := b.tokenTextCached(ctx, next, textCache)
			if err != nil {
				b.logger.ErrorContext(ctx, "Failed to get generated token text",
					slog.Int("token_id", next), slog.Any("error", err))
				return
			}

			var separator string
			if generated > 0 {
				separator = b.tokenizer.Separator(lastWord, text)
			}
			lastWord = text

			select {
			case <-ctx.Done():
				return
			case out <- Token{Text: separator + text}:
			}

			window = append(window[1:], next)
			generated++
		}
	}()

	return out, true, nil
}

// CollectReply drains a ReplyStream channel into a single string. It is a
// convenience for callers that want streaming cancellation but a plain
// string result.
func CollectReply(tokens <-chan Token) string {
	var builder strings.Builder
	for token := range tokens {
		builder.WriteString(token.Text)
	}
	return builder.String()
}
