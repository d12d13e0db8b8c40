package model

import (
	"sort"
	"time"
)

// SymbolInfo is one row of the symbol metadata table.
type SymbolInfo struct {
	Name      string    `json:"name"` // display name used as the price column header
	Code      string    `json:"code"` // ticker, e.g. "VCB"
	FullName  string    `json:"full_name"`
	StartDate time.Time `json:"start_date"` // zero when the sheet leaves it blank
	Category  string    `json:"category"`
	Exchange  string    `json:"exchange"`
	Market    string    `json:"market"`
	Currency  string    `json:"currency"`
	Sector    string    `json:"sector"`
}

// Count is one bucket of a categorical distribution.
type Count struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// CountBy tallies symbols by the given attribute, largest bucket first and
// ties broken by label. Blank labels are skipped.
func CountBy(symbols []SymbolInfo, attr func(SymbolInfo) string) []Count {
	idx := make(map[string]int)
	var out []Count
	for _, s := range symbols {
		label := attr(s)
		if label == "" {
			continue
		}
		i, ok := idx[label]
		if !ok {
			i = len(out)
			idx[label] = i
			out = append(out, Count{Label: label})
		}
		out[i].Count++
	}
	sortCounts(out)
	return out
}

func sortCounts(c []Count) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].Count != c[j].Count {
			return c[i].Count > c[j].Count
		}
		return c[i].Label < c[j].Label
	})
}
