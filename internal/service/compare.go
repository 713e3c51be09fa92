package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"inferd/internal/accel"
	"inferd/internal/resource"
	"inferd/internal/runtime"
	"inferd/pkg/types"
)

// comparePromptTemplate instructs the vision model to answer in a
// machine-readable form. The parser below still tolerates free-form
// answers because small models routinely ignore format instructions.
const comparePromptTemplate = `You are comparing two images against this description:
%s

Answer with a JSON object: {"choice": "A" or "B" or "TIE", "explanation": "...", "confidence": 0.0-1.0}`

// Compare is the vision comparison service: given two images and a
// prompt, the resident vision model judges which image matches better.
type Compare struct {
	factory runtime.Factory
	slot    *resource.Slot
	gate    *resource.Gate
	device  accel.Device
	log     zerolog.Logger
	source  string
	demand  int
}

type CompareParams struct {
	Factory runtime.Factory
	Slot    *resource.Slot
	Gate    *resource.Gate
	Device  accel.Device
	// Source is the vision model to load, e.g. a hub id.
	Source string
	Demand int
	Log    zerolog.Logger
}

func NewCompare(p CompareParams) *Compare {
	c := &Compare{
		factory: p.Factory,
		slot:    p.Slot,
		gate:    p.Gate,
		device:  p.Device,
		source:  p.Source,
		demand:  p.Demand,
		log:     p.Log.With().Str("service", "compare").Logger(),
	}
	c.gate.SetReload(c.reload)
	return c
}

func (c *Compare) spec() resource.Spec {
	return resource.Spec{
		Chain: []resource.Strategy{{
			Source: c.source,
			Construct: func(ctx context.Context, demand int) (runtime.Runtime, error) {
				return c.factory.FromSource(ctx, c.source, runtime.Options{
					Device: c.device.Name(),
					Demand: demand,
				})
			},
		}},
		Device: c.device.Name(),
		Demand: c.demand,
	}
}

func (c *Compare) reload(ctx context.Context) error {
	if c.slot.Loaded() == nil {
		return nil
	}
	c.slot.Unload()
	_, err := c.slot.Ensure(ctx, c.spec())
	return err
}

func (c *Compare) Load(ctx context.Context) (types.LoadResponse, error) {
	h, err := c.slot.Ensure(ctx, c.spec())
	if err != nil {
		return types.LoadResponse{}, err
	}
	return types.LoadResponse{Status: "loaded", Source: h.Source, Device: c.device.Name()}, nil
}

func (c *Compare) Unload() types.UnloadResponse {
	if !c.slot.Unload() {
		return types.UnloadResponse{Status: "idle", Message: "nothing was loaded"}
	}
	return types.UnloadResponse{Status: "unloaded", Message: "model released"}
}

func (c *Compare) Health() types.HealthResponse {
	resp := types.HealthResponse{Status: "healthy", Device: c.device.Name()}
	if h := c.slot.Loaded(); h != nil {
		resp.Loaded = true
		resp.Source = h.Source
	}
	return resp
}

func (c *Compare) Status() resource.SlotSnapshot { return c.slot.Status() }

// Run judges the two images against the prompt.
func (c *Compare) Run(ctx context.Context, req types.CompareRequest) (types.CompareResponse, error) {
	if err := validateCompare(req); err != nil {
		return types.CompareResponse{}, err
	}
	if _, err := c.slot.Ensure(ctx, c.spec()); err != nil {
		return types.CompareResponse{}, err
	}

	call := runtime.GenerateCall{
		Prompt:    fmt.Sprintf(comparePromptTemplate, req.Prompt),
		Images:    []string{req.ImageA, req.ImageB},
		MaxTokens: 256,
	}

	var out types.CompareResponse
	err := c.gate.Run(ctx, func(ctx context.Context, h *resource.Handle) error {
		gen, ok := h.Runtime().(runtime.Generator)
		if !ok {
			return runtime.ErrRuntimeUnavailable("resident resource cannot generate")
		}
		result, gerr := gen.Generate(ctx, call)
		if gerr != nil {
			return gerr
		}
		out = parseComparison(result.Content)
		return nil
	})
	if err != nil {
		return types.CompareResponse{}, err
	}
	return out, nil
}

// parseComparison extracts a verdict from the model's answer. Strategy:
// first look for an embedded JSON object, then fall back to scanning
// for a bare A/B/TIE token. Unparseable answers become a low-confidence
// tie rather than an error, since the caller usually wants a decision.
func parseComparison(answer string) types.CompareResponse {
	if obj := extractJSONObject(answer); obj != "" {
		var parsed struct {
			Choice      string  `json:"choice"`
			Explanation string  `json:"explanation"`
			Confidence  float64 `json:"confidence"`
		}
		if err := json.Unmarshal([]byte(obj), &parsed); err == nil {
			choice := normalizeChoice(parsed.Choice)
			if choice != "" {
				conf := parsed.Confidence
				if conf <= 0 || conf > 1 {
					conf = 0.5
				}
				return types.CompareResponse{Choice: choice, Explanation: parsed.Explanation, Confidence: conf}
			}
		}
	}
	if choice := scanChoiceToken(answer); choice != "" {
		return types.CompareResponse{Choice: choice, Explanation: strings.TrimSpace(answer), Confidence: 0.5}
	}
	return types.CompareResponse{Choice: "TIE", Explanation: strings.TrimSpace(answer), Confidence: 0.1}
}

// extractJSONObject returns the first balanced {...} span in s, or "".
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func normalizeChoice(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return "A"
	case "B":
		return "B"
	case "TIE", "BOTH", "NEITHER", "EQUAL":
		return "TIE"
	}
	return ""
}

// scanChoiceToken looks for a standalone verdict word in free text.
// "image a" / "image b" phrasings are accepted; a lone letter inside a
// longer word is not.
func scanChoiceToken(s string) string {
	upper := strings.ToUpper(s)
	if strings.Contains(upper, "TIE") {
		return "TIE"
	}
	for _, tok := range strings.FieldsFunc(upper, func(r rune) bool {
		return r == ' ' || r == '\n' || r == '\t' || r == '.' || r == ',' || r == ':' || r == ';' || r == '"' || r == '\''
	}) {
		if tok == "A" {
			return "A"
		}
		if tok == "B" {
			return "B"
		}
	}
	if strings.Contains(upper, "IMAGE A") || strings.Contains(upper, "FIRST IMAGE") {
		return "A"
	}
	if strings.Contains(upper, "IMAGE B") || strings.Contains(upper, "SECOND IMAGE") {
		return "B"
	}
	return ""
}
