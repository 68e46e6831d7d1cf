// Package contextbuf keeps a bounded, ordered log of conversation messages.
//
// Buffer tracks a rough token estimate (four characters per token) and
// compacts itself once the estimate crosses a threshold: the most recent
// messages are kept verbatim and everything older is replaced by a single
// system message stating how many messages were dropped. Compaction is
// lossy. The leading system message is never evicted.
//
// ChatHistory applies the same idea to request/response chat sessions,
// where the history is bounded by message count instead of tokens.
package contextbuf
