package mapper

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/semalign/semalign/pkg/catalog"
	"github.com/semalign/semalign/pkg/schedule"
)

// PromptOptions controls how a descriptor is rendered into the request text.
type PromptOptions struct {
	// Compact switches to the abbreviated item encoding and the terse
	// built-in instructions, cutting token usage roughly in half.
	Compact bool

	// Threshold is the similarity score below which a match is considered
	// absent; it is quoted in the instructions so the service calibrates
	// its no-match scores.
	Threshold int
}

type compactItem struct {
	C string `json:"c"`
	N string `json:"n"`
}

type fullItem struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// EncodeItems renders catalog items as a JSON array, abbreviated or full.
func EncodeItems(items []catalog.Item, abbreviate bool) string {
	var encoded []byte
	if abbreviate {
		out := make([]compactItem, len(items))
		for i, item := range items {
			out[i] = compactItem{C: item.Code, N: item.Name}
		}
		encoded, _ = json.Marshal(out)
	} else {
		out := make([]fullItem, len(items))
		for i, item := range items {
			out[i] = fullItem{Code: item.Code, Name: item.Name}
		}
		encoded, _ = json.Marshal(out)
	}
	return string(encoded)
}

// BuildPrompt assembles the user message for a descriptor. Compact mode
// replaces the caller's template with terse built-in instructions tied to
// the abbreviated key set; standard mode appends the two groups to the
// supplied template.
func BuildPrompt(template string, d schedule.Descriptor, opts PromptOptions) string {
	if opts.Compact {
		return fmt.Sprintf(`Map items from Group1 to Group2. Each item has 'c'(code) and 'n'(name).

Return JSON object with 'mappings' array. Each mapping:
{"fc":"<first_code>","fn":"<first_name>","sc":"<second_code>","sn":"<second_name>","s":<score_1-100>,"r":"<reason>"}

If no match: sc and sn should be null, s should be <%d.

Group1:
%s

Group2:
%s

Map ALL Group1 items. Return only JSON.`,
			opts.Threshold,
			EncodeItems(d.First, true),
			EncodeItems(d.Second, true))
	}

	var b strings.Builder
	b.WriteString(template)
	b.WriteString("\n\nFIRST_GROUP:\n")
	b.WriteString(EncodeItems(d.First, false))
	b.WriteString("\n\nSECOND_GROUP:\n")
	b.WriteString(EncodeItems(d.Second, false))
	fmt.Fprintf(&b, "\n\nReturn JSON object with 'mappings' array containing all mappings. Use threshold: %d", opts.Threshold)
	return b.String()
}

// SystemMessage returns the system prompt matching the prompt mode.
func SystemMessage(opts PromptOptions) string {
	if opts.Compact {
		return fmt.Sprintf("You are a catalog mapping expert. Use the exact abbreviated JSON format specified. Be concise. Apply threshold %d for similarity scores.", opts.Threshold)
	}
	return fmt.Sprintf("You are a world-class catalog mapping expert. Return valid JSON with all mappings. Apply threshold %d for similarity scores.", opts.Threshold)
}

// EstimateTokens approximates the token count of text at four characters per
// token, matching the heuristic the rate window is calibrated for.
func EstimateTokens(text string) int {
	return len(text) / 4
}
