package contextbuf

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"unicode/utf8"

	"github.com/jdziat/crewrun/pkg/core"
)

const (
	// DefaultMaxTokens is the token budget of a buffer.
	DefaultMaxTokens = 100000

	// DefaultCompactRatio is the share of the budget at which compaction runs.
	DefaultCompactRatio = 0.8

	// MinKeep is the least number of recent messages kept by compaction.
	MinKeep = 10
)

// EstimateTokens approximates the token count of s.
func EstimateTokens(s string) int {
	return utf8.RuneCountInString(s) / 4
}

// Message builds a context message with its token estimate filled in.
func Message(role core.Role, content string) core.ContextMessage {
	return core.ContextMessage{Role: role, Content: content, ApproxTokens: EstimateTokens(content)}
}

// Buffer is a token-bounded message log. It is safe for concurrent use.
type Buffer struct {
	mu          sync.Mutex
	messages    []core.ContextMessage
	tokens      int
	maxTokens   int
	ratio       float64
	threshold   int
	hasSummary  bool
	summaryAt   int
	summarized  int
	compactions int
	logger      *slog.Logger
}

// Option configures a Buffer.
type Option interface {
	apply(*Buffer)
}

type optionFunc func(*Buffer)

func (f optionFunc) apply(b *Buffer) { f(b) }

// WithMaxTokens sets the token budget.
func WithMaxTokens(n int) Option {
	return optionFunc(func(b *Buffer) {
		if n > 0 {
			b.maxTokens = n
		}
	})
}

// WithCompactRatio sets the share of the budget, in (0, 1], that triggers
// compaction.
func WithCompactRatio(r float64) Option {
	return optionFunc(func(b *Buffer) {
		if r > 0 && r <= 1 {
			b.ratio = r
		}
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(b *Buffer) {
		if l != nil {
			b.logger = l
		}
	})
}

// New creates an empty buffer.
func New(opts ...Option) *Buffer {
	b := &Buffer{
		maxTokens: DefaultMaxTokens,
		ratio:     DefaultCompactRatio,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt.apply(b)
	}
	b.threshold = int(float64(b.maxTokens) * b.ratio)
	return b
}

// Append adds a message and compacts the buffer if the token estimate has
// reached the threshold. It reports whether compaction ran.
func (b *Buffer) Append(role core.Role, content string) bool {
	return b.Add(Message(role, content))
}

// Add is like Append for a prepared message. A zero ApproxTokens is
// recomputed.
func (b *Buffer) Add(msg core.ContextMessage) bool {
	if msg.ApproxTokens == 0 {
		msg.ApproxTokens = EstimateTokens(msg.Content)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.messages = append(b.messages, msg)
	b.tokens += msg.ApproxTokens
	if b.tokens < b.threshold {
		return false
	}
	return b.compactLocked()
}

// Compact runs compaction now. It is a no-op, returning false, when it
// would not shrink both the message count and the token estimate.
func (b *Buffer) Compact() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.compactLocked()
}

func (b *Buffer) compactLocked() bool {
	head := 0
	if len(b.messages) > 0 && b.messages[0].Role == core.RoleSystem && !(b.hasSummary && b.summaryAt == 0) {
		head = 1
	}
	rest := b.messages[head:]

	keep := max(len(b.messages)/5, MinKeep)
	dropped := len(rest) - keep
	if dropped < 2 {
		return false
	}

	represented := dropped
	if b.hasSummary {
		// The previous summary is among the dropped messages.
		represented = b.summarized + dropped - 1
	}
	summary := Message(core.RoleSystem, fmt.Sprintf("[SUMMARY: %d previous messages compacted]", represented))

	next := make([]core.ContextMessage, 0, head+1+keep)
	next = append(next, b.messages[:head]...)
	next = append(next, summary)
	next = append(next, rest[dropped:]...)

	tokens := sumTokens(next)
	if tokens >= b.tokens {
		return false
	}

	before := len(b.messages)
	b.messages = next
	b.tokens = tokens
	b.summarized = represented
	b.hasSummary = true
	b.summaryAt = head
	b.compactions++

	b.logger.Debug("context compacted", "messages_before", before, "messages_after", len(next), "tokens", tokens)
	return true
}

func sumTokens(msgs []core.ContextMessage) int {
	n := 0
	for _, m := range msgs {
		n += m.ApproxTokens
	}
	return n
}

// Messages returns a copy of the buffered messages.
func (b *Buffer) Messages() []core.ContextMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.messages)
}

// Len returns the number of buffered messages.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

// Tokens returns the running token estimate.
func (b *Buffer) Tokens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Reset empties the buffer.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = nil
	b.tokens = 0
	b.summarized = 0
	b.hasSummary = false
	b.summaryAt = 0
}

// Stats describes the state of a buffer.
type Stats struct {
	Messages    int `json:"messages"`
	Tokens      int `json:"tokens"`
	MaxTokens   int `json:"max_tokens"`
	Threshold   int `json:"compact_threshold"`
	Compactions int `json:"compactions"`
}

// Stats returns a snapshot of the buffer's counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Messages:    len(b.messages),
		Tokens:      b.tokens,
		MaxTokens:   b.maxTokens,
		Threshold:   b.threshold,
		Compactions: b.compactions,
	}
}
