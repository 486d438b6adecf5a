package brain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Token is a single tokenized unit of text. End marks tokens that close a
// trained unit (typically sentence-ending punctuation).
type Token struct {
	Text string
	End  bool
}

// Tokenizer splits input text into tokens and defines how a token sequence is
// joined back into text. Keeping it an interface leaves the chain logic
// independent of the tokenization policy.
type Tokenizer interface {
	// NewStream returns a stateful StreamTokenizer reading from r.
	NewStream(r io.Reader) StreamTokenizer
	// Separator returns the string placed between prev and next when
	// reassembling text from tokens.
	Separator(prev, next string) string
	// Terminal returns the string that closes a generated reply following
	// the last emitted token.
	Terminal(last string) string
}

// StreamTokenizer yields tokens one at a time from an underlying stream.
type StreamTokenizer interface {
	// Next returns the next token, or io.EOF once the stream is consumed.
	Next() (*Token, error)
}

// Tokenize runs the tokenizer over text and collects the full token sequence.
// An empty string yields an empty sequence, not an error.
func Tokenize(t Tokenizer, text string) ([]Token, error) {
	stream := t.NewStream(strings.NewReader(text))
	var tokens []Token
	for {
		token, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return tokens, nil
		}
		if err != nil {
			return nil, fmt.Errorf("tokenizer error: %w", err)
		}
		tokens = append(tokens, *token)
	}
}

// Detokenize joins a token sequence back into text using the tokenizer's
// separator policy. Whitespace is normalized; token content and order are
// preserved. Purely structural end tokens without text are skipped.
func Detokenize(t Tokenizer, tokens []Token) string {
	var builder strings.Builder
	var prev string
	for _, token := range tokens {
		if token.Text == "" {
			continue
		}
		if prev != "" {
			builder.WriteString(t.Separator(prev, token.Text))
		}
		builder.WriteString(token.Text)
		prev = token.Text
	}
	return builder.String()
}

// Successor is one observed continuation of a context: the successor token's
// vocabulary ID and how many times it was observed.
type Successor struct {
	Id    int
	Count int
}

// Distribution retrieves the observed successor distribution for a context
// key in the given model. It returns the successors, the sum of their counts,
// and any error. An unseen context yields a nil slice and a zero total; that
// is a normal condition, not an error.
func (b *Brain) Distribution(ctx context.Context, model ModelInfo, contextKey string) ([]Successor, int, error) {
	var contextID int
	err := b.stmtGetContextID.QueryRowContext(ctx, contextKey).Scan(&contextID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Never observed, so there is nothing to continue with.
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("could not look up context '%s': %w", contextKey, err)
	}

	rows, err := b.stmtGetTransitions.QueryContext(ctx, model.Id, contextID)
	if err != nil {
		return nil, 0, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var successors []Successor
	var total int
	for rows.Next() {
		var s Successor
		if err = rows.Scan(&s.Id, &s.Count); err != nil {
			return nil, 0, err
		}
		successors = append(successors, s)
		total += s.Count
	}

	if err = rows.Err(); err != nil {
		return nil, 0, err
	}

	return successors, total, nil
}

// TokenID looks up a token's vocabulary ID. It returns sql.ErrNoRows for
// unknown tokens.
func (b *Brain) TokenID(ctx context.Context, text string) (int, error) {
	var id int
	err := b.stmtGetTokenID.QueryRowContext(ctx, text).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// TokenText looks up the text for a vocabulary ID.
func (b *Brain) TokenText(ctx context.Context, id int) (string, error) {
	var text string
	err := b.stmtGetTokenText.QueryRowContext(ctx, id).Scan(&text)
	if err != nil {
		return "", err
	}
	return text, nil
}

// tokenTextCached is a lookup helper for generation paths, minimizing
// database round trips for repeated tokens.
func (b *Brain) tokenTextCached(ctx context.Context, id int, cache map[int]string) (string, error) {
	if text, ok := cache[id]; ok {
		return text, nil
	}
	text, err := b.TokenText(ctx, id)
	if err != nil {
		return "", err
	}
	cache[id] = text
	return text, nil
}
