package types

// ModelSpec is one entry of the custom model side-table (models.json).
// The daemon reads these as already-resolved load descriptions.
type ModelSpec struct {
	// Stable name used in request payloads.
	// example: my-custom-flux
	Name string `json:"name"`
	// Absolute path of the checkpoint file, empty for repo-only entries.
	Path string `json:"path,omitempty"`
	// Pipeline family (flux, sdxl, sd3, chroma).
	// example: flux
	Pipeline string `json:"pipeline"`
	// Remote source used when no local path is set, or as the base for
	// partial checkpoints.
	BaseSource string `json:"base_source,omitempty"`
	// Defaults applied when the request leaves the knob at zero.
	DefaultSteps    int     `json:"default_steps,omitempty"`
	DefaultGuidance float64 `json:"default_guidance,omitempty"`
	// Default accelerator demand (resident layers) for the load.
	DefaultDemand int `json:"default_demand,omitempty"`
	// When true the entry must load from its local path only; remote
	// fallbacks are disabled because mixing a custom checkpoint with a
	// mismatched remote component corrupts rather than fails.
	LocalOnly bool `json:"local_only,omitempty"`
}
