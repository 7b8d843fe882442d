package generation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ragterm/internal/domain"
)

func TestMessages(t *testing.T) {
	tests := []struct {
		name   string
		prompt domain.Prompt
		want   []Message
	}{
		{
			name:   "system and user",
			prompt: domain.Prompt{System: "be brief", User: "hi"},
			want:   []Message{{Role: RoleSystem, Content: "be brief"}, {Role: RoleUser, Content: "hi"}},
		},
		{
			name:   "blank system is omitted",
			prompt: domain.Prompt{System: "  ", User: "hi"},
			want:   []Message{{Role: RoleUser, Content: "hi"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Messages(tt.prompt))
		})
	}
}

func TestClean(t *testing.T) {
	assert.Equal(t, "42", Clean("<think>\nlet me see\n</think>\n\n 42 \n"))
	assert.Equal(t, "plain", Clean("plain"))
}

func TestEmptyAnswer(t *testing.T) {
	err := EmptyAnswer("x")

	assert.ErrorIs(t, err, &domain.Error{Kind: domain.KindGeneration, Reason: domain.ReasonRemoteRejected})
	assert.False(t, domain.IsRetryable(err))
}
