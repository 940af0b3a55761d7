package workflows

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"strings"

	"kiln/internal/services"
)

// Kind names a category of generation job with its own template and
// resource profile.
type Kind string

const (
	KindImage       Kind = "image"
	KindImageRefine Kind = "image_refine"
	KindVideo       Kind = "video"
	KindAudio       Kind = "audio"
)

var allKinds = []Kind{KindImage, KindImageRefine, KindVideo, KindAudio}

// AllKinds returns the ordered list of supported workflow kinds.
func AllKinds() []Kind {
	cp := make([]Kind, len(allKinds))
	copy(cp, allKinds)
	return cp
}

// ParseKind converts a string into a known Kind.
func ParseKind(value string) (Kind, bool) {
	normalized := Kind(strings.ToLower(strings.TrimSpace(value)))
	for _, kind := range allKinds {
		if kind == normalized {
			return kind, true
		}
	}
	return "", false
}

// Params is the closed set of per-kind parameter records. Each supported
// workflow kind has exactly one implementation.
type Params interface {
	Kind() Kind
	validate() error
}

// ImageParams drives the text-to-image workflow.
type ImageParams struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	Steps          int     `json:"steps,omitempty"`
	CFGScale       float64 `json:"cfg_scale,omitempty"`
	Seed           int64   `json:"seed,omitempty"`
}

func (ImageParams) Kind() Kind { return KindImage }

func (p ImageParams) validate() error {
	if strings.TrimSpace(p.Prompt) == "" {
		return services.Wrap(services.ErrValidation, "workflows", "image", "prompt must not be empty", nil)
	}
	return nil
}

// ImageRefineParams drives the image-to-image refinement workflow.
type ImageRefineParams struct {
	SourceImage string  `json:"source_image"`
	Prompt      string  `json:"prompt"`
	Denoise     float64 `json:"denoise,omitempty"`
	Steps       int     `json:"steps,omitempty"`
	Seed        int64   `json:"seed,omitempty"`
}

func (ImageRefineParams) Kind() Kind { return KindImageRefine }

func (p ImageRefineParams) validate() error {
	if strings.TrimSpace(p.SourceImage) == "" {
		return services.Wrap(services.ErrValidation, "workflows", "image_refine", "source_image must not be empty", nil)
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return services.Wrap(services.ErrValidation, "workflows", "image_refine", "prompt must not be empty", nil)
	}
	return nil
}

// VideoParams drives the text-to-video workflow.
type VideoParams struct {
	Prompt string `json:"prompt"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Frames int    `json:"frames,omitempty"`
	FPS    int    `json:"fps,omitempty"`
	Seed   int64  `json:"seed,omitempty"`
}

func (VideoParams) Kind() Kind { return KindVideo }

func (p VideoParams) validate() error {
	if strings.TrimSpace(p.Prompt) == "" {
		return services.Wrap(services.ErrValidation, "workflows", "video", "prompt must not be empty", nil)
	}
	return nil
}

// AudioParams drives the text-to-audio workflow.
type AudioParams struct {
	Prompt          string  `json:"prompt"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Seed            int64   `json:"seed,omitempty"`
}

func (AudioParams) Kind() Kind { return KindAudio }

func (p AudioParams) validate() error {
	if strings.TrimSpace(p.Prompt) == "" {
		return services.Wrap(services.ErrValidation, "workflows", "audio", "prompt must not be empty", nil)
	}
	return nil
}

// DecodeParams parses raw JSON into the typed parameter record for kind,
// applies defaults, and validates. Unknown fields are rejected.
func DecodeParams(kind Kind, raw json.RawMessage) (Params, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}

	decode := func(target any) error {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(target); err != nil {
			return services.Wrap(services.ErrValidation, "workflows", string(kind), "invalid parameters", err)
		}
		return nil
	}

	var params Params
	switch kind {
	case KindImage:
		p := ImageParams{Width: 1024, Height: 1024, Steps: 25, CFGScale: 7}
		if err := decode(&p); err != nil {
			return nil, err
		}
		p.Seed = defaultSeed(p.Seed)
		params = p
	case KindImageRefine:
		p := ImageRefineParams{Denoise: 0.5, Steps: 20}
		if err := decode(&p); err != nil {
			return nil, err
		}
		p.Seed = defaultSeed(p.Seed)
		params = p
	case KindVideo:
		p := VideoParams{Width: 768, Height: 512, Frames: 48, FPS: 12}
		if err := decode(&p); err != nil {
			return nil, err
		}
		p.Seed = defaultSeed(p.Seed)
		params = p
	case KindAudio:
		p := AudioParams{DurationSeconds: 10}
		if err := decode(&p); err != nil {
			return nil, err
		}
		p.Seed = defaultSeed(p.Seed)
		params = p
	default:
		return nil, services.Wrap(services.ErrUnknownWorkflow, "workflows", string(kind), "unsupported workflow kind", nil)
	}

	if err := params.validate(); err != nil {
		return nil, err
	}
	return params, nil
}

func defaultSeed(seed int64) int64 {
	if seed > 0 {
		return seed
	}
	return rand.Int63()
}
