package testutil

import (
	"fmt"
	"sync"
)

// FixedTokenGenerator generates the same presentation token every time.
//
// This enables golden snapshot comparison: the same scenario with the same
// generator produces byte-identical traces.
//
// If token is empty, Generate() returns "test-token-default".
type FixedTokenGenerator struct {
	token string
}

// NewFixedTokenGenerator creates a fixed token generator.
func NewFixedTokenGenerator(token string) *FixedTokenGenerator {
	if token == "" {
		token = "test-token-default"
	}
	return &FixedTokenGenerator{token: token}
}

// Generate returns the fixed token.
func (g *FixedTokenGenerator) Generate() string {
	return g.token
}

// SequentialTokenGenerator returns prefix-1, prefix-2, ... so tests can
// tell documents apart deterministically.
type SequentialTokenGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialTokenGenerator creates a generator. An empty prefix means
// "token".
func NewSequentialTokenGenerator(prefix string) *SequentialTokenGenerator {
	if prefix == "" {
		prefix = "token"
	}
	return &SequentialTokenGenerator{prefix: prefix}
}

// Generate returns the next token.
func (g *SequentialTokenGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
