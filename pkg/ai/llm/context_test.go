package llm

import (
	"fmt"
	"testing"

	"github.com/matryer/is"
)

func TestContextKeepsSystemPrompt(t *testing.T) {
	is := is.New(t)
	c := NewContext("system prompt", 5)

	for i := 0; i < 12; i++ {
		c.AppendUser(fmt.Sprintf("user %d", i))
		c.AppendAssistant(fmt.Sprintf("assistant %d", i))
	}

	msgs := c.Messages()
	is.Equal(len(msgs), 11)            // system + 5 exchanges
	is.Equal(msgs[0].Role, RoleSystem) // system prompt is never evicted
	is.Equal(msgs[0].Content, "system prompt")
	is.Equal(msgs[1], Message{Role: RoleUser, Content: "user 7"})
	is.Equal(msgs[10].Content, "assistant 11") // newest last

	// a new question drops the oldest exchange as a whole
	c.AppendUser("user 12")
	msgs = c.Messages()
	is.Equal(len(msgs), 10)
	is.Equal(msgs[1].Content, "user 8")
	is.Equal(msgs[9].Content, "user 12")
}

func TestContextCountsUnansweredTurns(t *testing.T) {
	is := is.New(t)
	c := NewContext("sys", 2)

	// a user who keeps talking over failed replies still bounds the window
	for i := 0; i < 4; i++ {
		c.AppendUser(fmt.Sprintf("user %d", i))
	}
	msgs := c.Messages()
	is.Equal(len(msgs), 3)
	is.Equal(msgs[1].Content, "user 2")
	is.Equal(msgs[2].Content, "user 3")
}

func TestContextMessagesIsSnapshot(t *testing.T) {
	is := is.New(t)
	c := NewContext("sys", 0)
	c.AppendUser("hola")

	snap := c.Messages()
	snap[1].Content = "changed"

	is.Equal(c.Messages()[1].Content, "hola")
	is.Equal(c.Len(), 2)

	c.Reset()
	is.Equal(c.Len(), 1)
}

func TestLastUser(t *testing.T) {
	is := is.New(t)
	msgs := []Message{
		{Role: RoleSystem, Content: "s"},
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "a"},
		{Role: RoleUser, Content: "second"},
		{Role: RoleAssistant, Content: "b"},
	}
	is.Equal(LastUser(msgs), "second")
	is.Equal(LastUser(msgs[:1]), "")
}
