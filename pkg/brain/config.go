package brain

import (
	"errors"
	"fmt"
)

// Config holds the runtime behavior of a Brain. Every recognized option is an
// explicit field; a Config is validated before it is accepted.
type Config struct {
	// Order is the chain order: how many preceding tokens form the context
	// used to predict the next token. It applies to newly created models;
	// existing models keep the order they were created with.
	Order int `json:"order"`

	// Training enables learning. When false, Train and Observe are no-ops.
	Training bool `json:"training"`

	// ReplyChance is the probability, in [0, 1], that Reply produces any
	// output at all. At 0 the bot is mute; at 1 it always attempts a reply.
	ReplyChance float64 `json:"reply_chance"`

	// MaxLength caps the number of tokens in a generated reply. It is the
	// hard bound against cycles in the chain.
	MaxLength int `json:"max_length"`
}

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("brain: invalid config")

// DefaultConfig returns a usable starting configuration: a second-order chain
// that learns from conversation and always replies.
func DefaultConfig() Config {
	return Config{
		Order:       2,
		Training:    true,
		ReplyChance: 1.0,
		MaxLength:   100,
	}
}

// Validate checks every field against its allowed range.
func (c Config) Validate() error {
	if c.Order < 1 {
		return fmt.Errorf("%w: order must be >= 1, got %d", ErrInvalidConfig, c.Order)
	}
	if c.ReplyChance < 0 || c.ReplyChance > 1 {
		return fmt.Errorf("%w: reply_chance must be in [0, 1], got %g", ErrInvalidConfig, c.ReplyChance)
	}
	if c.MaxLength < 1 {
		return fmt.Errorf("%w: max_length must be >= 1, got %d", ErrInvalidConfig, c.MaxLength)
	}
	return nil
}
