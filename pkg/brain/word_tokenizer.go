package brain

import (
	"bufio"
	"io"
	"regexp"
)

// WordTokenizer is the default Tokenizer. It splits text into words and
// punctuation with a regular expression and treats sentence-ending punctuation
// and line breaks as ends of a unit. Its split pattern can never emit '<' or
// '>', so the reserved markers <s> and </s> cannot be produced from real text.
type WordTokenizer struct {
	separator    string
	terminal     string
	splitRegex   *regexp.Regexp
	endRegex     *regexp.Regexp
	noSpaceRegex *regexp.Regexp
	noTermRegex  *regexp.Regexp
}

// WordTokenizerOption configures a WordTokenizer.
type WordTokenizerOption func(*WordTokenizer)

// WithSeparator sets the string placed between tokens when joining.
// Default: " "
func WithSeparator(sep string) WordTokenizerOption {
	return func(t *WordTokenizer) {
		t.separator = sep
	}
}

// WithTerminal sets the string appended after the last token of a generated
// reply. Default: "."
func WithTerminal(terminal string) WordTokenizerOption {
	return func(t *WordTokenizer) {
		t.terminal = terminal
	}
}

// WithSplitRegex sets the pattern used to extract tokens from input text.
// Default: `[\w']+|[.,!?;]`
func WithSplitRegex(pattern string) WordTokenizerOption {
	return func(t *WordTokenizer) {
		t.splitRegex = regexp.MustCompile(pattern)
	}
}

// WithEndRegex sets the pattern deciding whether a token ends a unit.
// Default: `^[.!?]$`
func WithEndRegex(pattern string) WordTokenizerOption {
	return func(t *WordTokenizer) {
		t.endRegex = regexp.MustCompile(pattern)
	}
}

// WithNoSpaceRegex sets the pattern for tokens that attach directly to the
// preceding token without a separator, such as punctuation.
func WithNoSpaceRegex(pattern string) WordTokenizerOption {
	return func(t *WordTokenizer) {
		t.noSpaceRegex = regexp.MustCompile(pattern)
	}
}

// WithNoTerminalRegex sets the pattern for final tokens after which no
// terminal string is appended.
func WithNoTerminalRegex(pattern string) WordTokenizerOption {
	return func(t *WordTokenizer) {
		t.noTermRegex = regexp.MustCompile(pattern)
	}
}

// NewWordTokenizer creates a tokenizer with default settings, optionally
// overridden by WordTokenizerOption functions.
func NewWordTokenizer(opts ...WordTokenizerOption) *WordTokenizer {
	t := &WordTokenizer{
		separator: " ",
		terminal:  ".",
		// Runs of word characters (plus apostrophes), or single common
		// punctuation marks.
		splitRegex: regexp.MustCompile(`[\w']+|[.,!?;]`),
		// Sentence-ending punctuation closes a unit.
		endRegex: regexp.MustCompile(`^[.!?]$`),
		// Punctuation attaches to the previous token without a space.
		noSpaceRegex: regexp.MustCompile(`^[.,!?;]`),
		// No terminal after a reply that already ends in punctuation.
		noTermRegex: regexp.MustCompile(`^[.,!?;]`),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Separator returns the join string placed before next.
func (t *WordTokenizer) Separator(_, next string) string {
	if t.noSpaceRegex.MatchString(next) {
		return ""
	}
	return t.separator
}

// Terminal returns the string that closes a reply ending in last.
func (t *WordTokenizer) Terminal(last string) string {
	if t.noTermRegex.MatchString(last) {
		return ""
	}
	return t.terminal
}

// NewStream returns a stateful stream tokenizer over r.
func (t *WordTokenizer) NewStream(r io.Reader) StreamTokenizer {
	return &wordStream{
		scanner:    bufio.NewScanner(r),
		splitRegex: t.splitRegex,
		endRegex:   t.endRegex,
	}
}

// wordStream scans lines from the reader and splits each into tokens with the
// configured patterns. A line break closes the current unit: dataset lines
// without terminal punctuation (chat logs, lyrics) must not share context
// across their boundary.
type wordStream struct {
	scanner    *bufio.Scanner
	pending    []string
	splitRegex *regexp.Regexp
	endRegex   *regexp.Regexp
	openUnit   bool
}

// Next returns the next token from the stream, or io.EOF once the stream is
// fully consumed. Any other error indicates a problem with the underlying
// reader. When a line ends mid-unit, a synthetic end token with empty text is
// emitted before the next line is read.
func (s *wordStream) Next() (*Token, error) {
	for len(s.pending) == 0 {
		if s.openUnit {
			s.openUnit = false
			return &Token{End: true}, nil
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		s.pending = s.splitRegex.FindAllString(s.scanner.Text(), -1)
	}

	word := s.pending[0]
	s.pending = s.pending[1:]

	end := s.endRegex.MatchString(word)
	s.openUnit = !end
	return &Token{Text: word, End: end}, nil
}
