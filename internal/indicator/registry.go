package indicator

import (
	"fmt"
	"math"
	"strings"

	"stockchart/internal/series"
)

// ParamType is the value type a parameter accepts.
type ParamType string

const (
	ParamInt   ParamType = "int"
	ParamFloat ParamType = "float"
)

// ParamSpec declares one indicator parameter. Values below Min are rejected.
type ParamSpec struct {
	Name    string    `json:"name"`
	Label   string    `json:"label"`
	Type    ParamType `json:"type"`
	Default float64   `json:"default"`
	Min     float64   `json:"min"`
}

// Level is a horizontal guide line drawn with an oscillator.
type Level struct {
	Value float64 `json:"value"`
	Label string  `json:"label"`
}

// Spec describes a registered indicator.
type Spec struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"display_name"`
	Kind        Kind        `json:"-"`
	Params      []ParamSpec `json:"params"`
	Lines       []string    `json:"lines"`
	// Overlay indicators share the price axis; the rest get their own panel.
	Overlay bool    `json:"overlay"`
	Levels  []Level `json:"levels,omitempty"`
}

// Params maps parameter names to values, e.g. {"length": 20, "mult": 2}.
type Params map[string]float64

// Int returns the named value as an int.
func (p Params) Int(name string) int { return int(p[name]) }

// Float returns the named value.
func (p Params) Float(name string) float64 { return p[name] }

type computeFunc func(*series.Series, Params) (Result, error)

type entry struct {
	spec    Spec
	compute computeFunc
}

// Registry maps indicator ids to their spec and compute function. It is
// built once by NewRegistry and read-only afterwards, so it is safe for
// concurrent use.
type Registry struct {
	order   []string
	entries map[string]entry
	aliases map[string]string
}

// NewRegistry returns a registry holding the built-in indicators in display
// order: SMA, EMA, Bollinger, MACD, RSI, Stochastic.
func NewRegistry() *Registry {
	r := &Registry{
		entries: make(map[string]entry),
		aliases: make(map[string]string),
	}

	r.add(Spec{
		ID: "SMA", DisplayName: "Simple Moving Average", Kind: KindSMA, Overlay: true,
		Lines:  []string{"SMA"},
		Params: []ParamSpec{intParam("length", "Length", 50)},
	}, func(s *series.Series, p Params) (Result, error) {
		return SMA(s, SMAParams{Length: p.Int("length")})
	})

	r.add(Spec{
		ID: "EMA", DisplayName: "Exponential Moving Average", Kind: KindEMA, Overlay: true,
		Lines:  []string{"EMA"},
		Params: []ParamSpec{intParam("length", "Length", 12)},
	}, func(s *series.Series, p Params) (Result, error) {
		return EMA(s, EMAParams{Length: p.Int("length")})
	})

	r.add(Spec{
		ID: "Bollinger", DisplayName: "Bollinger Bands", Kind: KindBollinger, Overlay: true,
		Lines: []string{"SMA", "Upper", "Lower"},
		Params: []ParamSpec{
			intParam("length", "Length", 20),
			{Name: "mult", Label: "Mult", Type: ParamFloat, Default: 2, Min: 1},
		},
	}, func(s *series.Series, p Params) (Result, error) {
		return Bollinger(s, BollingerParams{Length: p.Int("length"), Mult: p.Float("mult")})
	}, "BBands", "Bollinger Bands")

	r.add(Spec{
		ID: "MACD", DisplayName: "MACD", Kind: KindMACD,
		Lines: []string{"MACD", "Signal", "Hist"},
		Params: []ParamSpec{
			intParam("fast", "FastLength", 12),
			intParam("slow", "SlowLength", 26),
			intParam("signal", "SignalLength", 9),
		},
	}, func(s *series.Series, p Params) (Result, error) {
		return MACD(s, MACDParams{Fast: p.Int("fast"), Slow: p.Int("slow"), Signal: p.Int("signal")})
	})

	r.add(Spec{
		ID: "RSI", DisplayName: "Relative Strength Index", Kind: KindRSI,
		Lines:  []string{"RSI"},
		Params: []ParamSpec{intParam("length", "Length", 14)},
		Levels: []Level{{Value: 80, Label: "Overbought"}, {Value: 20, Label: "Oversold"}},
	}, func(s *series.Series, p Params) (Result, error) {
		return RSI(s, RSIParams{Length: p.Int("length")})
	})

	r.add(Spec{
		ID: "Stochastic", DisplayName: "Stochastic Oscillator", Kind: KindStochastic,
		Lines: []string{"%K", "%D"},
		Params: []ParamSpec{
			intParam("k_period", "K Period", 14),
			intParam("d_period", "D Period", 3),
		},
	}, func(s *series.Series, p Params) (Result, error) {
		return Stochastic(s, StochasticParams{KPeriod: p.Int("k_period"), DPeriod: p.Int("d_period")})
	}, "Stochastic Oscillator", "Stoch")

	return r
}

func intParam(name, label string, def float64) ParamSpec {
	return ParamSpec{Name: name, Label: label, Type: ParamInt, Default: def, Min: 1}
}

func (r *Registry) add(spec Spec, fn computeFunc, aliases ...string) {
	r.order = append(r.order, spec.ID)
	r.entries[spec.ID] = entry{spec: spec, compute: fn}
	r.aliases[strings.ToLower(spec.ID)] = spec.ID
	for _, a := range aliases {
		r.aliases[strings.ToLower(a)] = spec.ID
	}
}

// ListAvailable returns the registered ids in registration order.
func (r *Registry) ListAvailable() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Specs returns every spec in registration order.
func (r *Registry) Specs() []Spec {
	out := make([]Spec, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].spec)
	}
	return out
}

// Lookup resolves an id or alias, case-insensitively.
func (r *Registry) Lookup(id string) (Spec, error) {
	e, err := r.entry(id)
	if err != nil {
		return Spec{}, err
	}
	return e.spec, nil
}

func (r *Registry) entry(id string) (entry, error) {
	canon, ok := r.aliases[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return entry{}, fmt.Errorf("%w: %q", ErrUnknownIndicator, id)
	}
	return r.entries[canon], nil
}

// ValidateParameters checks params against the indicator's declared
// parameters and returns a complete set with defaults filled in.
// Unknown names, non-finite values, fractional values for integer
// parameters and values below the minimum are rejected.
func (r *Registry) ValidateParameters(id string, params Params) (Params, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}
	return e.spec.resolve(params)
}

func (s Spec) resolve(params Params) (Params, error) {
	out := make(Params, len(s.Params))
	for _, ps := range s.Params {
		out[ps.Name] = ps.Default
	}
	for name, v := range params {
		ps, ok := s.param(name)
		if !ok {
			return nil, &ParamError{Indicator: s.ID, Param: name, Value: v, Reason: "unknown parameter"}
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &ParamError{Indicator: s.ID, Param: name, Value: v, Reason: "must be finite"}
		}
		if ps.Type == ParamInt {
			if v != math.Trunc(v) {
				return nil, &ParamError{Indicator: s.ID, Param: name, Value: v, Reason: "must be an integer"}
			}
			if v > math.MaxInt32 {
				return nil, &ParamError{Indicator: s.ID, Param: name, Value: v, Reason: "too large"}
			}
		}
		if v < ps.Min {
			return nil, &ParamError{Indicator: s.ID, Param: name, Value: v, Reason: fmt.Sprintf("must be >= %g", ps.Min)}
		}
		out[name] = v
	}
	return out, nil
}

func (s Spec) param(name string) (ParamSpec, bool) {
	for _, ps := range s.Params {
		if ps.Name == name {
			return ps, true
		}
	}
	return ParamSpec{}, false
}

// Compute validates params and runs the indicator over s.
func (r *Registry) Compute(id string, s *series.Series, params Params) (Result, error) {
	e, err := r.entry(id)
	if err != nil {
		return Result{}, err
	}
	resolved, err := e.spec.resolve(params)
	if err != nil {
		return Result{}, err
	}
	return e.compute(s, resolved)
}
