package chart

import (
	"fmt"
	"strconv"
	"strings"

	"stockchart/internal/indicator"
)

// ParsePreset parses a default indicator list such as
// "SMA:50,Bollinger:20:2,MACD:12:26:9,RSI". Values after an id fill that
// indicator's parameters in declaration order; omitted ones keep their
// defaults. An empty string yields no preset.
func ParsePreset(reg *indicator.Registry, s string) ([]IndicatorRequest, error) {
	var out []IndicatorRequest
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tokens := strings.Split(part, ":")
		spec, err := reg.Lookup(tokens[0])
		if err != nil {
			return nil, fmt.Errorf("preset %q: %w", part, err)
		}
		if len(tokens)-1 > len(spec.Params) {
			return nil, fmt.Errorf("preset %q: %w: %s takes at most %d values",
				part, indicator.ErrInvalidParameter, spec.ID, len(spec.Params))
		}

		params := make(indicator.Params, len(tokens)-1)
		for i, tok := range tokens[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
			if err != nil {
				return nil, fmt.Errorf("preset %q: %w: %s is not a number", part, indicator.ErrInvalidParameter, tok)
			}
			params[spec.Params[i].Name] = v
		}
		if _, err := reg.ValidateParameters(spec.ID, params); err != nil {
			return nil, fmt.Errorf("preset %q: %w", part, err)
		}
		out = append(out, IndicatorRequest{ID: spec.ID, Params: params})
	}
	return out, nil
}
