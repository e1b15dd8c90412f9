package types

// GenerateRequest is the native generation request payload.
type GenerateRequest struct {
	// Optional model identifier. If empty, the server default is used.
	Model string `json:"model,omitempty"`
	// Required prompt text to generate a completion for.
	Prompt string `json:"prompt"`
	// If true, stream results as NDJSON token lines.
	Stream bool `json:"stream,omitempty"`
	// Maximum number of new tokens to generate.
	MaxTokens int `json:"max_tokens,omitempty"`
	// Sampling temperature (higher = more random).
	Temperature float64 `json:"temperature,omitempty"`
	// Nucleus sampling probability.
	TopP float64 `json:"top_p,omitempty"`
	// Top-K sampling: limit candidates to top K tokens.
	TopK int `json:"top_k,omitempty"`
	// Optional stop sequences.
	Stop []string `json:"stop,omitempty"`
	// Random seed for reproducibility; 0 lets the engine choose.
	Seed int64 `json:"seed,omitempty"`
	// Repeat penalty applied by llama-family engines.
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
}

// Params extracts the sampling parameters from the request.
func (r GenerateRequest) Params() GenerateParams {
	return GenerateParams{
		MaxTokens:     r.MaxTokens,
		Temperature:   r.Temperature,
		TopP:          r.TopP,
		TopK:          r.TopK,
		Seed:          r.Seed,
		Stop:          r.Stop,
		RepeatPenalty: r.RepeatPenalty,
	}
}

// BatchResult is one item in a batch generation response. Error is set and
// the embedded result zeroed when that item failed.
type BatchResult struct {
	GenerateResult
	Error string `json:"error,omitempty"`
}

// BatchResponse wraps POST /batch/generate results, index-aligned with the
// submitted requests.
type BatchResponse struct {
	Results []BatchResult `json:"results"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	Models []ModelStatus `json:"models"`
}

// ModelStatus combines registry metadata with the lifecycle state.
type ModelStatus struct {
	Model
	State         string `json:"state"`
	ResidentBytes uint64 `json:"resident_bytes,omitempty"`
}

// ReloadResponse is returned by POST /models/reload.
type ReloadResponse struct {
	Discovered int               `json:"discovered"`
	Added      []string          `json:"added"`
	Unloaded   []string          `json:"unloaded"`
	Loaded     []string          `json:"loaded"`
	Failed     map[string]string `json:"failed,omitempty"`
}

// MemoryLimitRequest is the optional body of POST /memory/limit. A zero
// LimitMB reports the current limit without changing it.
type MemoryLimitRequest struct {
	LimitMB int `json:"limit_mb"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// CacheStats reports response-cache counters. Hit/miss/eviction counters are
// monotonically increasing; Size is the current entry count.
type CacheStats struct {
	Size       int     `json:"size"`
	MaxSize    int     `json:"max_size"`
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	Evictions  uint64  `json:"evictions"`
	HitRate    float64 `json:"hit_rate"`
	TTLSeconds int     `json:"ttl_seconds"`
}

// ModelMemoryStats is one tracked model in the memory report.
type ModelMemoryStats struct {
	Name           string `json:"name"`
	ResidentBytes  uint64 `json:"resident_bytes"`
	FormattedUsage string `json:"formatted_usage"`
	LastUsedUnix   int64  `json:"last_used_unix"`
	AccessCount    uint64 `json:"access_count"`
}

// MemoryStats is returned by GET /memory/stats.
type MemoryStats struct {
	TotalModels      int                `json:"total_models"`
	TotalBytes       uint64             `json:"total_memory_usage"`
	FormattedUsage   string             `json:"formatted_usage"`
	BudgetBytes      uint64             `json:"memory_limit"`
	FormattedBudget  string             `json:"formatted_limit"`
	MemoryPressure   bool               `json:"memory_pressure"`
	SystemAvailable  uint64             `json:"system_available"`
	FormattedSysFree string             `json:"formatted_system_available"`
	Models           []ModelMemoryStats `json:"models"`
}

// ServingStats is returned by GET /status for the admission queue and pool.
type ServingStats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	ActiveWorkers     int    `json:"active_workers"`
	Workers           int    `json:"workers"`
	TotalRequests     uint64 `json:"total_requests"`
	CompletedRequests uint64 `json:"completed_requests"`
	RejectedRequests  uint64 `json:"rejected_requests"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	State          string        `json:"state"`
	EngineBuilt    bool          `json:"engine_built"`
	Serving        ServingStats  `json:"serving"`
	Cache          CacheStats    `json:"cache"`
	Memory         MemoryStats   `json:"memory"`
	Models         []ModelStatus `json:"models"`
	UptimeSeconds  int64         `json:"uptime_seconds"`
	ServerTimeUnix int64         `json:"server_time_unix"`
}
