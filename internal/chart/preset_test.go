package chart

import (
	"context"
	"errors"
	"testing"

	"stockchart/internal/cache"
	"stockchart/internal/indicator"
)

func TestParsePreset(t *testing.T) {
	reg := indicator.NewRegistry()
	got, err := ParsePreset(reg, "sma:50, BBands:20:2.5 ,MACD:5:10,RSI")
	if err != nil {
		t.Fatalf("ParsePreset: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(got))
	}
	if got[0].ID != "SMA" || got[0].Params["length"] != 50 {
		t.Errorf("entry 0 = %+v", got[0])
	}
	if got[1].ID != "Bollinger" || got[1].Params["length"] != 20 || got[1].Params["mult"] != 2.5 {
		t.Errorf("entry 1 = %+v", got[1])
	}
	if _, set := got[2].Params["signal"]; set || got[2].Params["slow"] != 10 {
		t.Errorf("entry 2 = %+v (signal should be left to its default)", got[2])
	}
	if got[3].ID != "RSI" || len(got[3].Params) != 0 {
		t.Errorf("entry 3 = %+v", got[3])
	}

	if none, err := ParsePreset(reg, ""); err != nil || none != nil {
		t.Errorf("empty preset: %v, %v", none, err)
	}
}

func TestParsePreset_Errors(t *testing.T) {
	reg := indicator.NewRegistry()
	tests := []struct {
		in   string
		want error
	}{
		{"Ichimoku:9", indicator.ErrUnknownIndicator},
		{"SMA:abc", indicator.ErrInvalidParameter},
		{"SMA:0", indicator.ErrInvalidParameter},
		{"RSI:14:3", indicator.ErrInvalidParameter},
	}
	for _, tt := range tests {
		if _, err := ParsePreset(reg, tt.in); !errors.Is(err, tt.want) {
			t.Errorf("ParsePreset(%q) = %v, want %v", tt.in, err, tt.want)
		}
	}
}

func TestCompute_UsesPresetWhenIndicatorsOmitted(t *testing.T) {
	reg := indicator.NewRegistry()
	preset, err := ParsePreset(reg, "SMA:3,RSI:3")
	if err != nil {
		t.Fatal(err)
	}
	store := newMemStore()
	store.data["fixture"] = fixture()
	svc := NewService(Config{Cache: cache.NewMemory(1), Store: store, Registry: reg, Preset: preset})

	resp, err := svc.Compute(context.Background(), ChartRequest{Dataset: "fixture", Symbol: "HPG"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 2 || resp.Results[0].Indicator != "SMA" || resp.Results[1].Indicator != "RSI" {
		t.Errorf("preset not applied: %+v", resp.Results)
	}

	resp, err = svc.Compute(context.Background(), ChartRequest{Dataset: "fixture", Symbol: "HPG", Indicators: []IndicatorRequest{}})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("explicit empty list should return price only, got %d results", len(resp.Results))
	}
}
