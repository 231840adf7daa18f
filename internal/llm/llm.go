package llm

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the interview conversation. The message history is
// append-only for the lifetime of a session; the first element is always the
// system instruction built from the interview context.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
