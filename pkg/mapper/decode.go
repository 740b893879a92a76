package mapper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// Responses arrive in one of two key conventions for the same logical
// fields: the abbreviated form ("fc", "fn", "sc", "sn", "s", "r") used by
// compact prompts, and the full form ("firstCode", "firstName", ...). The
// presence of "fc" is the discriminant.
type candidateJSON struct {
	FC *string     `json:"fc"`
	FN *string     `json:"fn"`
	SC *string     `json:"sc"`
	SN *string     `json:"sn"`
	S  json.Number `json:"s"`
	R  *string     `json:"r"`

	FirstCode  *string     `json:"firstCode"`
	FirstName  *string     `json:"firstName"`
	SecondCode *string     `json:"secondCode"`
	SecondName *string     `json:"secondName"`
	Score      json.Number `json:"score"`
	Reason     *string     `json:"reason"`
	Reasoning  *string     `json:"reasoning"`
}

// UnmarshalJSON decodes a candidate from either key convention.
func (c *Candidate) UnmarshalJSON(data []byte) error {
	var raw candidateJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	if raw.FC != nil {
		c.FirstCode = *raw.FC
		c.FirstName = deref(raw.FN)
		c.SecondCode = deref(raw.SC)
		c.SecondName = deref(raw.SN)
		c.Reasoning = deref(raw.R)
		score, err := parseScore(raw.S)
		if err != nil {
			return fmt.Errorf("candidate %q: %w", c.FirstCode, err)
		}
		c.Score = score
		return nil
	}

	if raw.FirstCode == nil {
		return fmt.Errorf("candidate has neither abbreviated nor full key set")
	}
	c.FirstCode = *raw.FirstCode
	c.FirstName = deref(raw.FirstName)
	c.SecondCode = deref(raw.SecondCode)
	c.SecondName = deref(raw.SecondName)
	if raw.Reasoning != nil {
		c.Reasoning = *raw.Reasoning
	} else {
		c.Reasoning = deref(raw.Reason)
	}
	score, err := parseScore(raw.Score)
	if err != nil {
		return fmt.Errorf("candidate %q: %w", c.FirstCode, err)
	}
	c.Score = score
	return nil
}

// MarshalJSON emits the full key convention.
func (c Candidate) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"firstCode":  c.FirstCode,
		"firstName":  c.FirstName,
		"secondCode": c.SecondCode,
		"secondName": c.SecondName,
		"score":      c.Score,
		"reasoning":  c.Reasoning,
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func parseScore(n json.Number) (int, error) {
	if n == "" {
		return 0, nil
	}
	if v, err := n.Int64(); err == nil {
		return clampScore(int(v)), nil
	}
	// Some models emit scores as floats.
	if v, err := strconv.ParseFloat(n.String(), 64); err == nil {
		return clampScore(int(v)), nil
	}
	return 0, fmt.Errorf("score %q is not numeric", n.String())
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

type envelope struct {
	Mappings []Candidate `json:"mappings"`
}

// mappingsObject matches an embedded JSON object carrying a "mappings" array
// inside otherwise non-JSON response text.
var mappingsObject = regexp.MustCompile(`(?s)\{[^{}]*"mappings"\s*:\s*\[.*\][^{}]*\}`)

// ParseCandidates decodes the response text into candidates. The primary
// strategy expects either an object with a "mappings" array or a bare array;
// if neither parses, one fallback pass extracts an embedded mappings object
// from the surrounding text. A failure after the fallback is a permanent
// decode failure.
func ParseCandidates(text []byte) ([]Candidate, error) {
	var env envelope
	if err := json.Unmarshal(text, &env); err == nil && env.Mappings != nil {
		return env.Mappings, nil
	}

	var list []Candidate
	if err := json.Unmarshal(text, &list); err == nil {
		return list, nil
	}

	if match := mappingsObject.Find(text); match != nil {
		if err := json.Unmarshal(match, &env); err == nil && env.Mappings != nil {
			return env.Mappings, nil
		}
	}

	return nil, &Error{
		Kind:    KindDecodeFailure,
		Message: fmt.Sprintf("response is neither a mappings object nor an array (%d bytes)", len(text)),
	}
}
