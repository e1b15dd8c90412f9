package types

// Model represents a discoverable GGUF model on disk.
type Model struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Path   string `json:"path"`
	Quant  string `json:"quant,omitempty"`
	Family string `json:"family,omitempty"`
}

// GenerateParams are the sampling parameters forwarded to the engine.
// They are also part of the response-cache fingerprint, so any field added
// here that changes generation output must be folded into the fingerprint.
type GenerateParams struct {
	MaxTokens     int      `json:"max_tokens,omitempty"`
	Temperature   float64  `json:"temperature,omitempty"`
	TopP          float64  `json:"top_p,omitempty"`
	TopK          int      `json:"top_k,omitempty"`
	Seed          int64    `json:"seed,omitempty"`
	Stop          []string `json:"stop,omitempty"`
	RepeatPenalty float64  `json:"repeat_penalty,omitempty"`
}

// Usage contains token accounting for one generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerateResult is the terminal value of a non-streaming generation.
// Results are immutable once produced; the response cache stores them as-is.
type GenerateResult struct {
	Text           string  `json:"text"`
	FinishReason   string  `json:"finish_reason,omitempty"`
	Usage          Usage   `json:"usage"`
	LatencySeconds float64 `json:"latency_seconds"`
}
