package models

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of a conversation in OpenAI role/content form.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int32 `json:"prompt_tokens"`
	CompletionTokens int32 `json:"completion_tokens"`
	TotalTokens      int32 `json:"total_tokens"`
}

// Completion is a provider reply normalized to a single assistant message. Usage and
// Model are kept for metrics and the usage ledger only.
type Completion struct {
	Message ChatMessage
	Model   string
	Usage   Usage
}
