package contract

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompletionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	// JSONMode asks the provider to constrain output to a single JSON object
	// when it supports that.
	JSONMode  bool `json:"json_mode,omitempty"`
	MaxTokens int  `json:"max_tokens,omitempty"`
}

// System returns the concatenated system messages.
func (r CompletionRequest) System() string {
	out := ""
	for _, m := range r.Messages {
		if m.Role != RoleSystem || m.Content == "" {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += m.Content
	}
	return out
}

type CompletionResponse struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}
