package types

// Message is one turn of a conversation sent to a backend.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// GenerationRequest is the normalized request accepted by the router.
// Adapters translate it into their backend's wire format.
type GenerationRequest struct {
	ID            string                 `json:"id"`
	Messages      []Message              `json:"messages"`
	Model         string                 `json:"model,omitempty"` // overrides the provider's default model
	MaxTokens     *int                   `json:"max_tokens,omitempty"`
	Temperature   *float32               `json:"temperature,omitempty"`
	Provider      string                 `json:"provider,omitempty"` // explicit provider preference
	AnalysisClass string                 `json:"analysis_class,omitempty"`
	Extra         map[string]interface{} `json:"extra,omitempty"` // backend-specific parameters
}

// Prompt flattens the message sequence into a single string for backends
// that accept one prompt rather than a chat array.
func (r *GenerationRequest) Prompt() string {
	out := ""
	for i, msg := range r.Messages {
		if i > 0 {
			out += "\n\n"
		}
		out += msg.Content
	}
	return out
}
