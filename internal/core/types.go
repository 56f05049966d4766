package core

import "strconv"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// UserID identifies a messenger user. It keys conversation history.
type UserID int64

// ChatID identifies the chat surface a message arrived on.
type ChatID int64

func (id UserID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

func (id ChatID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// SessionKey pairs a user with a chat. A user may hold independent sessions per chat.
type SessionKey struct {
	User UserID
	Chat ChatID
}

func (k SessionKey) String() string {
	return k.User.String() + ":" + k.Chat.String()
}

// Turn is a single message of a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

func AssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}

// CloneTurns returns a copy of turns that shares no backing array with the input.
// A nil or empty input yields an empty, non-nil slice.
func CloneTurns(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
