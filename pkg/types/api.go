package types

// LoraRef selects one overlay file and its blend weight for a request.
type LoraRef struct {
	// Path to the overlay file, absolute or relative to the configured overlay directory.
	// example: watercolor.safetensors
	Path string `json:"path" example:"watercolor.safetensors"`
	// Blend weight in [0.0, 2.0].
	// example: 0.8
	Scale float64 `json:"scale" example:"0.8"`
}

// LoraResult annotates one requested overlay with its outcome.
type LoraResult struct {
	Path    string  `json:"path"`
	Scale   float64 `json:"scale"`
	Adapter string  `json:"adapter_name"`
	Loaded  bool    `json:"loaded"`
	Error   string  `json:"error,omitempty"`
}

// GenerateRequest is the image generation payload.
type GenerateRequest struct {
	// Model name: a built-in pipeline id or a custom side-table entry.
	// example: flux-dev
	Model string `json:"model,omitempty" example:"flux-dev"`
	// Required text prompt.
	Prompt string `json:"prompt" example:"a lighthouse at dusk"`
	// Optional negative prompt.
	NegativePrompt string `json:"negative_prompt,omitempty"`
	// Image width in pixels (64-2048).
	Width int `json:"width,omitempty" example:"1024"`
	// Image height in pixels (64-2048).
	Height int `json:"height,omitempty" example:"1024"`
	// Denoising steps (1-100); 0 uses the model default.
	Steps int `json:"steps,omitempty" example:"25"`
	// Guidance scale (0-20); negative values are rejected.
	Guidance float64 `json:"guidance,omitempty" example:"3.5"`
	// Random seed; 0 or omitted lets the server choose.
	Seed int64 `json:"seed,omitempty" example:"42"`
	// Overlays to apply, at most 4.
	Loras []LoraRef `json:"loras,omitempty"`
}

// GenerateResponse is returned by POST /v1/images/generate.
type GenerateResponse struct {
	// Path of the generated image on the server.
	LocalPath string `json:"local_path"`
	// Per-overlay outcomes for the request, in request order.
	Loras []LoraResult `json:"loras,omitempty"`
	// Generation metadata echoed back to the caller.
	Metadata GenerateMetadata `json:"metadata"`
}

// GenerateMetadata echoes the effective generation parameters.
type GenerateMetadata struct {
	Model    string  `json:"model"`
	Prompt   string  `json:"prompt"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Steps    int     `json:"steps"`
	Guidance float64 `json:"guidance"`
	Seed     int64   `json:"seed"`
}

// CompletionRequest is the text completion payload.
type CompletionRequest struct {
	Model         string   `json:"model,omitempty"`
	Prompt        string   `json:"prompt"`
	MaxTokens     int      `json:"max_tokens,omitempty" example:"256"`
	Temperature   float64  `json:"temperature,omitempty" example:"0.7"`
	TopP          float64  `json:"top_p,omitempty" example:"0.9"`
	TopK          int      `json:"top_k,omitempty" example:"40"`
	RepeatPenalty float64  `json:"repeat_penalty,omitempty" example:"1.1"`
	Stop          []string `json:"stop,omitempty"`
	Seed          int64    `json:"seed,omitempty"`
}

// CompletionResponse is returned by POST /v1/completions.
type CompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content string `json:"content"`
	// Reason generation stopped (stop, length).
	FinishReason string `json:"finish_reason"`
}

// CompareRequest asks the vision model which of two images better matches a prompt.
type CompareRequest struct {
	ImageA string `json:"image_a"`
	ImageB string `json:"image_b"`
	Prompt string `json:"prompt"`
}

// CompareResponse reports the comparison verdict.
type CompareResponse struct {
	// "A", "B", or "TIE".
	Choice      string  `json:"choice" example:"A"`
	Explanation string  `json:"explanation"`
	Confidence  float64 `json:"confidence" example:"0.8"`
}

// RestoreRequest asks the face restoration service to enhance an image.
type RestoreRequest struct {
	Image string `json:"image"`
	// Restoration fidelity in [0.0, 1.0]; higher preserves identity more.
	Fidelity float64 `json:"fidelity,omitempty" example:"0.5"`
}

// RestoreResponse is returned by POST /v1/faces/restore.
type RestoreResponse struct {
	LocalPath  string `json:"local_path"`
	FacesCount int    `json:"faces_count"`
}

// HealthResponse reports one service's resource state.
type HealthResponse struct {
	Status string `json:"status" example:"healthy"`
	Loaded bool   `json:"loaded"`
	// Which source/strategy produced the resident resource, when loaded.
	Source string `json:"source,omitempty"`
	Device string `json:"device"`
	// Overlay status, for services that support overlays.
	Lora *LoraStatus `json:"lora,omitempty"`
}

// LoraStatus summarizes the overlays currently in effect.
type LoraStatus struct {
	Loaded  bool         `json:"loaded"`
	Current []LoraResult `json:"current,omitempty"`
	// Number of requested overlays dropped by the cap on the last request.
	Truncated int `json:"truncated,omitempty"`
}

// SlotStatus reports one resource slot for GET /status.
type SlotStatus struct {
	Service  string `json:"service"`
	State    string `json:"state" example:"loaded"`
	Source   string `json:"source,omitempty"`
	LoadedAt int64  `json:"loaded_at_unix,omitempty"`
	// Total loads performed by this slot since startup.
	Loads uint64 `json:"loads_total"`
	// Inference calls served by the current resource.
	Inferences uint64 `json:"inferences"`
	LastError  string `json:"last_error,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Slots          []SlotStatus `json:"slots"`
	Device         string       `json:"device"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
	ServerTimeUnix int64        `json:"server_time_unix"`
}

// LoadResponse is returned by the explicit load endpoints.
type LoadResponse struct {
	Status string `json:"status" example:"loaded"`
	Source string `json:"source,omitempty"`
	Device string `json:"device"`
}

// UnloadResponse is returned by the explicit unload endpoints.
type UnloadResponse struct {
	Status  string `json:"status" example:"unloaded"`
	Message string `json:"message"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// LoraFile describes one overlay file found in the overlay directory.
type LoraFile struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	SizeMB int64  `json:"size_mb"`
}

// LorasResponse wraps GET /v1/loras.
type LorasResponse struct {
	Loras []LoraFile `json:"loras"`
}
