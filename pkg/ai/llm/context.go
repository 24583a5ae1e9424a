package llm

import "sync"

// DefaultMaxTurns is the number of recent exchanges kept in a Context.
const DefaultMaxTurns = 5

// Context is the rolling conversation window sent with every chat request.
// Element 0 is always the system prompt and is never evicted. After it the
// Context keeps the last MaxTurns turns, where a turn is a user message and
// the assistant replies that follow it. The window always opens on a user
// message.
type Context struct {
	mu       sync.RWMutex
	system   Message
	messages []Message
	maxTurns int
}

// NewContext creates a Context anchored on the given system prompt.
func NewContext(systemPrompt string, maxTurns int) *Context {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Context{
		system:   Message{Role: RoleSystem, Content: systemPrompt},
		maxTurns: maxTurns,
	}
}

// AppendUser records a user utterance.
func (c *Context) AppendUser(content string) {
	c.append(Message{Role: RoleUser, Content: content})
}

// AppendAssistant records an assistant reply.
func (c *Context) AppendAssistant(content string) {
	c.append(Message{Role: RoleAssistant, Content: content})
}

func (c *Context) append(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)

	users := 0
	start := len(c.messages)
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role != RoleUser {
			continue
		}
		if users == c.maxTurns {
			break
		}
		users++
		start = i
	}
	if users == 0 {
		// assistant messages with no user turn to anchor them
		start = 0
	}
	if start > 0 {
		c.messages = append([]Message(nil), c.messages[start:]...)
	}
}

// Messages returns a snapshot: the system prompt followed by the window.
func (c *Context) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, 0, len(c.messages)+1)
	out = append(out, c.system)
	return append(out, c.messages...)
}

// Len returns the number of messages including the system prompt.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages) + 1
}

// Reset drops every message except the system prompt.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}

// LastUser returns the most recent user message content, if any.
func LastUser(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
