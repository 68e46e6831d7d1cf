package contextbuf

import (
	"fmt"
	"slices"

	"github.com/jdziat/crewrun/pkg/core"
)

// ChatHistory bounds a chat session's history by message count. When the
// history grows past MaxMessages it keeps the leading system message, one
// summary message and the KeepRecent most recent messages.
type ChatHistory struct {
	MaxMessages int
	KeepRecent  int
}

// DefaultChatHistory returns the default chat policy: compact past 20
// messages, keep the last 10.
func DefaultChatHistory() ChatHistory {
	return ChatHistory{MaxMessages: 20, KeepRecent: 10}
}

// NeedsCompaction reports whether msgs exceeds the policy's bound.
func (h ChatHistory) NeedsCompaction(msgs []core.ContextMessage) bool {
	return len(msgs) > h.MaxMessages
}

// Compact returns msgs compacted under the policy, or a copy of msgs when
// it is within bounds or compaction would not shrink it. The input is not
// modified.
func (h ChatHistory) Compact(msgs []core.ContextMessage) []core.ContextMessage {
	if !h.NeedsCompaction(msgs) {
		return slices.Clone(msgs)
	}

	head := 0
	if len(msgs) > 0 && msgs[0].Role == core.RoleSystem {
		head = 1
	}
	keep := max(h.KeepRecent, 0)
	dropped := len(msgs) - head - keep
	if dropped < 2 {
		return slices.Clone(msgs)
	}

	summary := Message(core.RoleSystem,
		fmt.Sprintf("Previous conversation summary: [%d previous messages summarized]", dropped))

	out := make([]core.ContextMessage, 0, head+1+keep)
	out = append(out, msgs[:head]...)
	out = append(out, summary)
	out = append(out, msgs[len(msgs)-keep:]...)
	return out
}

// Append adds a user message and the assistant's reply, then compacts.
func (h ChatHistory) Append(msgs []core.ContextMessage, user, assistant string) []core.ContextMessage {
	next := append(slices.Clone(msgs), Message(core.RoleUser, user), Message(core.RoleAssistant, assistant))
	return h.Compact(next)
}
