// Package generation holds what the chat providers share: the message
// layout of a prompt and answer cleanup.
package generation

import (
	"regexp"
	"strings"

	"ragterm/internal/domain"
)

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Messages lays a prompt out as a system turn followed by a user turn.
// An empty system prompt is omitted.
func Messages(p domain.Prompt) []Message {
	msgs := make([]Message, 0, 2)
	if strings.TrimSpace(p.System) != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: p.System})
	}
	return append(msgs, Message{Role: RoleUser, Content: p.User})
}

var thinkRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Clean strips reasoning blocks some local models emit before the answer.
func Clean(answer string) string {
	return strings.TrimSpace(thinkRe.ReplaceAllString(answer, ""))
}

// EmptyAnswer is returned when the service replied without any content.
func EmptyAnswer(op string) error {
	return domain.NewError(domain.KindGeneration, domain.ReasonRemoteRejected, op, "model returned an empty answer", nil)
}
