package types

// Capabilities describes what a provider variant supports. Flags are
// declared statically by each adapter rather than probed at runtime.
type Capabilities struct {
	ProviderName            string `json:"provider_name"`
	SupportsFunctionCalling bool   `json:"supports_function_calling"`
	SupportsVision          bool   `json:"supports_vision"`
	SupportsStreaming       bool   `json:"supports_streaming"`
	SupportsSystemPrompt    bool   `json:"supports_system_prompt"`
	SupportsJSONMode        bool   `json:"supports_json_mode"`
	MaxContextWindow        int    `json:"max_context_window"`
}
