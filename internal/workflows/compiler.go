package workflows

import (
	"embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"kiln/internal/services"
)

//go:embed templates/*.json
var templateFS embed.FS

// CompiledJob is a ready-to-submit backend payload plus the output naming
// the caller should expect from the backend.
type CompiledJob struct {
	Graph           json.RawMessage
	OutputPrefix    string
	OutputDirectory string
}

// Compile turns typed parameters into the backend workflow graph for their
// kind. Pure: it reads only the embedded template.
func Compile(params Params) (CompiledJob, error) {
	if params == nil {
		return CompiledJob{}, services.Wrap(services.ErrValidation, "workflows", "compile", "parameters are nil", nil)
	}
	kind := params.Kind()

	template, err := templateFS.ReadFile(fmt.Sprintf("templates/%s.json", kind))
	if err != nil {
		return CompiledJob{}, services.Wrap(services.ErrConfiguration, "workflows", "compile", fmt.Sprintf("no template for kind %q", kind), err)
	}

	prefix := fmt.Sprintf("kiln_%s", kind)
	subs := map[string]string{"OUTPUT_PREFIX": jsonEscape(prefix)}

	switch p := params.(type) {
	case ImageParams:
		subs["PROMPT"] = jsonEscape(p.Prompt)
		subs["NEGATIVE_PROMPT"] = jsonEscape(p.NegativePrompt)
		subs["WIDTH"] = strconv.Itoa(p.Width)
		subs["HEIGHT"] = strconv.Itoa(p.Height)
		subs["STEPS"] = strconv.Itoa(p.Steps)
		subs["CFG"] = formatFloat(p.CFGScale)
		subs["SEED"] = strconv.FormatInt(p.Seed, 10)
	case ImageRefineParams:
		subs["SOURCE_IMAGE"] = jsonEscape(p.SourceImage)
		subs["PROMPT"] = jsonEscape(p.Prompt)
		subs["DENOISE"] = formatFloat(p.Denoise)
		subs["STEPS"] = strconv.Itoa(p.Steps)
		subs["SEED"] = strconv.FormatInt(p.Seed, 10)
	case VideoParams:
		subs["PROMPT"] = jsonEscape(p.Prompt)
		subs["WIDTH"] = strconv.Itoa(p.Width)
		subs["HEIGHT"] = strconv.Itoa(p.Height)
		subs["FRAMES"] = strconv.Itoa(p.Frames)
		subs["FPS"] = strconv.Itoa(p.FPS)
		subs["SEED"] = strconv.FormatInt(p.Seed, 10)
	case AudioParams:
		subs["PROMPT"] = jsonEscape(p.Prompt)
		subs["DURATION"] = formatFloat(p.DurationSeconds)
		subs["SEED"] = strconv.FormatInt(p.Seed, 10)
	default:
		return CompiledJob{}, services.Wrap(services.ErrUnknownWorkflow, "workflows", "compile", fmt.Sprintf("unsupported parameter type %T", params), nil)
	}

	graph := substitute(string(template), subs)
	if !json.Valid([]byte(graph)) {
		return CompiledJob{}, services.Wrap(services.ErrConfiguration, "workflows", "compile", fmt.Sprintf("template for %q produced invalid JSON", kind), nil)
	}

	return CompiledJob{
		Graph:           json.RawMessage(graph),
		OutputPrefix:    prefix,
		OutputDirectory: "output",
	}, nil
}

// substitute replaces __TOKEN__ markers. Values must already be JSON-safe:
// strings escaped, numbers formatted.
func substitute(template string, subs map[string]string) string {
	pairs := make([]string, 0, len(subs)*2)
	for token, value := range subs {
		pairs = append(pairs, "__"+token+"__", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func jsonEscape(s string) string {
	encoded, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(encoded[1 : len(encoded)-1])
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
