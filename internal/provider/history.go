package provider

// Role tags one conversation history entry.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
	RoleTool      Role = "tool"
)

// Message is one entry in an LLM engine's conversation history.
type Message struct {
	Role    Role
	Content string
}

// NormalizeHistory merges consecutive same-role messages, joining their
// content with a blank line. Chunked STT input otherwise produces runs of
// user entries that upstream models reject or handle poorly.
func NormalizeHistory(msgs []Message) []Message {
	if len(msgs) <= 1 {
		return msgs
	}
	out := make([]Message, 0, len(msgs))
	for i, m := range msgs {
		if i == 0 || m.Role != msgs[i-1].Role {
			out = append(out, m)
			continue
		}
		last := &out[len(out)-1]
		last.Content = last.Content + "\n\n" + m.Content
	}
	return out
}
