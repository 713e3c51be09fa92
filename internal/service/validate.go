package service

import (
	"strings"

	"inferd/internal/resource"
	"inferd/pkg/types"
)

// Parameter bounds shared by the request validators. All validation
// runs before any resource work so a bad request never disturbs the
// resident state.
const (
	minDim      = 64
	maxDim      = 2048
	maxSteps    = 100
	maxGuidance = 20.0
	maxScale    = 2.0
)

func validateGenerate(req types.GenerateRequest) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return resource.ErrValidation("prompt", "required")
	}
	if req.Width != 0 && (req.Width < minDim || req.Width > maxDim) {
		return resource.ErrValidation("width", "must be between 64 and 2048")
	}
	if req.Height != 0 && (req.Height < minDim || req.Height > maxDim) {
		return resource.ErrValidation("height", "must be between 64 and 2048")
	}
	if req.Steps < 0 || req.Steps > maxSteps {
		return resource.ErrValidation("steps", "must be between 1 and 100")
	}
	if req.Guidance < 0 || req.Guidance > maxGuidance {
		return resource.ErrValidation("guidance", "must be between 0 and 20")
	}
	for _, l := range req.Loras {
		if l.Scale < 0 || l.Scale > maxScale {
			return resource.ErrValidation("loras.scale", "must be between 0.0 and 2.0")
		}
		if strings.TrimSpace(l.Path) == "" {
			return resource.ErrValidation("loras.path", "required")
		}
	}
	return nil
}

func validateLoraRef(ref types.LoraRef) error {
	if strings.TrimSpace(ref.Path) == "" {
		return resource.ErrValidation("lora.path", "required")
	}
	if ref.Scale < 0 || ref.Scale > maxScale {
		return resource.ErrValidation("lora.scale", "must be between 0.0 and 2.0")
	}
	return nil
}

func validateCompletion(req types.CompletionRequest) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return resource.ErrValidation("prompt", "required")
	}
	if req.MaxTokens < 0 {
		return resource.ErrValidation("max_tokens", "must be non-negative")
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		return resource.ErrValidation("temperature", "must be between 0 and 2")
	}
	if req.TopP < 0 || req.TopP > 1 {
		return resource.ErrValidation("top_p", "must be between 0 and 1")
	}
	return nil
}

func validateCompare(req types.CompareRequest) error {
	if strings.TrimSpace(req.ImageA) == "" || strings.TrimSpace(req.ImageB) == "" {
		return resource.ErrValidation("images", "both image_a and image_b are required")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return resource.ErrValidation("prompt", "required")
	}
	return nil
}

func validateRestore(req types.RestoreRequest) error {
	if strings.TrimSpace(req.Image) == "" {
		return resource.ErrValidation("image", "required")
	}
	if req.Fidelity < 0 || req.Fidelity > 1 {
		return resource.ErrValidation("fidelity", "must be between 0.0 and 1.0")
	}
	return nil
}

// truncateWords caps a prompt at limit words. Long prompts past the
// text encoder's window contribute nothing and slow encoding down.
func truncateWords(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	fields := strings.Fields(s)
	if len(fields) <= limit {
		return s
	}
	return strings.Join(fields[:limit], " ")
}
