package prep

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"1/2/2006",
	"1/2/06",
	"02-Jan-2006",
	"2-Jan-06",
	"Jan 2, 2006",
}

// parseDate accepts Excel serial dates and a handful of text layouts. The
// result is truncated to midnight UTC.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, fmt.Errorf("date %q: %w", s, err)
		}
		return t.UTC().Truncate(24 * time.Hour), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(24 * time.Hour), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// parsePrice reads a cell as a price. Blank cells, "NA"-style markers and
// anything non-numeric become NaN, like a coercing numeric conversion.
// Decimal parsing keeps text cells such as "1,234.50" exact up to the final
// float conversion.
func parsePrice(s string) float64 {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "", "NA", "N/A", "#N/A", "-", "NAN", "NULL":
		return math.NaN()
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return math.NaN()
	}
	f, _ := d.Float64()
	return f
}
