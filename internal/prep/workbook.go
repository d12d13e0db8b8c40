// Package prep turns an uploaded price workbook into a model.Dataset.
//
// The workbook has two sheets. "Symbol" lists one instrument per row (Name,
// Symbol, Full Name, Start Date, Category, Exchange, Market, Currency,
// Sector). "Price" has a date column followed by one column per instrument,
// headed by the instrument's Name; those headers are renamed to the ticker
// code found after the "VT:" prefix of the Symbol column.
package prep

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"stockchart/internal/model"
)

var (
	// ErrMissingSheet is returned when a required sheet is absent.
	ErrMissingSheet = errors.New("missing sheet")

	// ErrBadHeader is returned when a sheet header cannot be interpreted.
	ErrBadHeader = errors.New("bad header")
)

// Options controls workbook interpretation. The zero value is not useful;
// start from DefaultOptions.
type Options struct {
	SymbolSheet string
	PriceSheet  string
	CodePrefix  string
	// SkipRows is the number of rows under the Price header to discard. The
	// Datastream export this format comes from puts a descriptor row there.
	SkipRows int
}

// DefaultOptions matches the Datastream-style export.
func DefaultOptions() Options {
	return Options{
		SymbolSheet: "Symbol",
		PriceSheet:  "Price",
		CodePrefix:  "VT:",
		SkipRows:    1,
	}
}

// ParseFile opens and parses the workbook at path.
func ParseFile(path string, opts Options) (*model.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return ParseWorkbook(f, opts)
}

// ParseWorkbook reads an .xlsx stream. The returned dataset has no Key or
// Source; callers assign those.
func ParseWorkbook(r io.Reader, opts Options) (*model.Dataset, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("read workbook: %w", err)
	}
	defer book.Close()

	symRows, err := sheetRows(book, opts.SymbolSheet)
	if err != nil {
		return nil, err
	}
	priceRows, err := sheetRows(book, opts.PriceSheet)
	if err != nil {
		return nil, err
	}

	symbols, err := parseSymbols(symRows, opts)
	if err != nil {
		return nil, err
	}
	prices, err := parsePrices(priceRows, symbols, opts)
	if err != nil {
		return nil, err
	}

	ds := &model.Dataset{Symbols: symbols, Prices: prices}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

func sheetRows(book *excelize.File, name string) ([][]string, error) {
	for _, s := range book.GetSheetList() {
		if strings.EqualFold(s, name) {
			rows, err := book.GetRows(s, excelize.Options{RawCellValue: true})
			if err != nil {
				return nil, fmt.Errorf("read sheet %s: %w", s, err)
			}
			return rows, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrMissingSheet, name)
}

var symbolColumns = []string{"Name", "Symbol", "Full Name", "Start Date", "Category", "Exchange", "Market", "Currency", "Sector"}

func parseSymbols(rows [][]string, opts Options) ([]model.SymbolInfo, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s sheet is empty", ErrBadHeader, opts.SymbolSheet)
	}
	col := make(map[string]int, len(symbolColumns))
	for i, h := range rows[0] {
		for _, want := range symbolColumns {
			if strings.EqualFold(strings.TrimSpace(h), want) {
				col[want] = i
			}
		}
	}
	for _, required := range []string{"Name", "Symbol"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("%w: %s sheet has no %q column", ErrBadHeader, opts.SymbolSheet, required)
		}
	}

	get := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	symbols := make([]model.SymbolInfo, 0, len(rows)-1)
	for _, row := range rows[1:] {
		name := get(row, "Name")
		raw := get(row, "Symbol")
		if name == "" && raw == "" {
			continue
		}
		code := raw
		if _, after, ok := strings.Cut(raw, opts.CodePrefix); ok && opts.CodePrefix != "" {
			code = strings.TrimSpace(after)
		}
		info := model.SymbolInfo{
			Name:     name,
			Code:     code,
			FullName: get(row, "Full Name"),
			Category: get(row, "Category"),
			Exchange: get(row, "Exchange"),
			Market:   get(row, "Market"),
			Currency: get(row, "Currency"),
			Sector:   get(row, "Sector"),
		}
		if v := get(row, "Start Date"); v != "" {
			// Some exports write "NA" here; keep the row and leave the date zero.
			if t, err := parseDate(v); err == nil {
				info.StartDate = t
			}
		}
		symbols = append(symbols, info)
	}
	return symbols, nil
}

type priceRow struct {
	date   time.Time
	values []float64
}

func parsePrices(rows [][]string, symbols []model.SymbolInfo, opts Options) (model.PriceTable, error) {
	if len(rows) == 0 {
		return model.PriceTable{}, fmt.Errorf("%w: %s sheet is empty", ErrBadHeader, opts.PriceSheet)
	}

	codeByName := make(map[string]string, len(symbols))
	for _, s := range symbols {
		codeByName[s.Name] = s.Code
	}

	// column index in the sheet for each code, in sheet order
	var codes []string
	var cols []int
	seen := make(map[string]bool)
	for i, h := range rows[0] {
		if i == 0 {
			continue
		}
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		code := h
		if c, ok := codeByName[h]; ok && c != "" {
			code = c
		}
		if seen[code] {
			return model.PriceTable{}, fmt.Errorf("%w: duplicate price column %s", ErrBadHeader, code)
		}
		seen[code] = true
		codes = append(codes, code)
		cols = append(cols, i)
	}

	body := rows[1:]
	if opts.SkipRows > 0 {
		if opts.SkipRows >= len(body) {
			body = nil
		} else {
			body = body[opts.SkipRows:]
		}
	}

	parsed := make([]priceRow, 0, len(body))
	for n, row := range body {
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		values := make([]float64, len(cols))
		present := false
		for j, c := range cols {
			v := math.NaN()
			if c < len(row) {
				v = parsePrice(row[c])
			}
			values[j] = v
			if !math.IsNaN(v) {
				present = true
			}
		}
		if !present {
			continue
		}
		date, err := parseDate(row[0])
		if err != nil {
			return model.PriceTable{}, fmt.Errorf("%s row %d: %w", opts.PriceSheet, n+2+opts.SkipRows, err)
		}
		parsed = append(parsed, priceRow{date: date, values: values})
	}

	sort.SliceStable(parsed, func(i, j int) bool { return parsed[i].date.Before(parsed[j].date) })
	for i := 1; i < len(parsed); i++ {
		if parsed[i].date.Equal(parsed[i-1].date) {
			return model.PriceTable{}, fmt.Errorf("%s: duplicate date %s", opts.PriceSheet, parsed[i].date.Format("2006-01-02"))
		}
	}

	table := model.PriceTable{
		Dates:   make([]time.Time, len(parsed)),
		Codes:   codes,
		Columns: make(map[string]model.Column, len(codes)),
	}
	for _, code := range codes {
		table.Columns[code] = make(model.Column, len(parsed))
	}
	for i, r := range parsed {
		table.Dates[i] = r.date
		for j, code := range codes {
			table.Columns[code][i] = r.values[j]
		}
	}
	return table, nil
}
