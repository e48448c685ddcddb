// Package recovery extracts structured values from raw model output.
//
// LLM output violates strict JSON in a small, enumerable set of ways:
// markdown fences, chatty preambles, trailing commas, single quotes, bare
// newlines inside strings. The package attempts a fixed cascade of
// increasingly aggressive strategies, cheapest first, and reports which
// strategy produced the value and whether textual repair was needed.
package recovery

import (
	"encoding/json"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"

	"github.com/caplearn/capsulegen/pkg/capsulegen/generr"
)

// Strategy identifies one step of the recovery cascade.
type Strategy string

// Strategies in attempt order.
const (
	StrategyDirect   Strategy = "direct"
	StrategyFence    Strategy = "code_fence"
	StrategyBalanced Strategy = "balanced_span"
	StrategyPreamble Strategy = "preamble"
	StrategyRepair   Strategy = "textual_repair"
	StrategyLibrary  Strategy = "library_repair"
)

// rawPrefixLimit bounds how much raw input a failure carries for diagnostics.
const rawPrefixLimit = 1000

// Extraction is a successful recovery.
type Extraction[T any] struct {
	// Value is the decoded payload.
	Value T

	// Strategy is the cascade step that produced the value.
	Strategy Strategy

	// Repaired is true when the text had to be rewritten (strategies 5-6).
	// Fence or span extraction alone does not count as repair.
	Repaired bool

	// Repairs names the textual repairs that were applied, in order.
	Repairs []string
}

// Extract runs the recovery cascade over raw model output.
//
// On failure it returns a JSON_MALFORMED error carrying the attempted
// strategies and a truncated copy of the input.
func Extract[T any](raw string) (*Extraction[T], error) {
	trimmed := strings.TrimSpace(raw)
	var attempted []Strategy

	// 1. Direct parse.
	attempted = append(attempted, StrategyDirect)
	if v, ok := tryParse[T](trimmed); ok {
		return &Extraction[T]{Value: v, Strategy: StrategyDirect}, nil
	}

	// 2. Strip markdown code fences.
	attempted = append(attempted, StrategyFence)
	fenced := stripCodeFences(trimmed)
	if fenced != trimmed {
		if v, ok := tryParse[T](fenced); ok {
			return &Extraction[T]{Value: v, Strategy: StrategyFence}, nil
		}
	}

	// 3. Extract the first balanced object or array.
	attempted = append(attempted, StrategyBalanced)
	span, spanOK := balancedSpan(fenced)
	if spanOK {
		if v, ok := tryParse[T](span); ok {
			return &Extraction[T]{Value: v, Strategy: StrategyBalanced}, nil
		}
	}

	// 4. Strip a known preamble phrase, then rescan.
	attempted = append(attempted, StrategyPreamble)
	if stripped, changed := stripPreamble(trimmed); changed {
		candidate := stripCodeFences(stripped)
		if pspan, ok := balancedSpan(candidate); ok {
			if v, ok := tryParse[T](pspan); ok {
				return &Extraction[T]{Value: v, Strategy: StrategyPreamble}, nil
			}
			if span == "" || !spanOK {
				span, spanOK = pspan, true
			}
		}
	}

	// 5. Textual repairs over the best candidate so far.
	attempted = append(attempted, StrategyRepair)
	candidate := fenced
	if spanOK {
		candidate = span
	}
	repaired, repairs := repairText(candidate)
	if len(repairs) > 0 {
		if v, ok := tryParse[T](repaired); ok {
			return &Extraction[T]{
				Value:    v,
				Strategy: StrategyRepair,
				Repaired: true,
				Repairs:  repairs,
			}, nil
		}
	}

	// 6. General-purpose repair library as a last resort.
	attempted = append(attempted, StrategyLibrary)
	if fixed, err := jsonrepair.RepairJSON(candidate); err == nil {
		if v, ok := tryParse[T](fixed); ok {
			return &Extraction[T]{
				Value:    v,
				Strategy: StrategyLibrary,
				Repaired: true,
				Repairs:  []string{"library"},
			}, nil
		}
	}

	names := make([]string, len(attempted))
	for i, s := range attempted {
		names[i] = string(s)
	}
	return nil, generr.New(generr.KindJSONMalformed, "no recovery strategy produced valid JSON").
		WithContext(map[string]any{
			"strategies_attempted": names,
			"raw_prefix":           truncate(raw, rawPrefixLimit),
		})
}

func tryParse[T any](s string) (T, bool) {
	var v T
	if s == "" {
		return v, false
	}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return v, false
	}
	return v, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
