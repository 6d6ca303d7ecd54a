package converters

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/scizoninc/scizonai/internal/apperr"
)

const emptyHeader = "__EMPTY"

// Record 一行数据，保持列顺序
type Record []Field

type Field struct {
	Key   string
	Value any
}

func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// SheetToJSON reads the first sheet of a workbook and renders it as a
// pretty-printed JSON array of row objects keyed by the header row.
func SheetToJSON(r io.Reader) (string, error) {
	records, err := SheetRecords(r)
	if err != nil {
		return "", err
	}
	out, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", apperr.Wrap(apperr.KindConversion, "failed to encode spreadsheet", err)
	}
	return string(out), nil
}

// SheetRecords returns one Record per non-empty data row of the first sheet.
// Empty cells are omitted, numbers and booleans keep their type and
// everything else is a string.
func SheetRecords(r io.Reader) ([]Record, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConversion, "failed to open spreadsheet", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return []Record{}, nil
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConversion, fmt.Sprintf("failed to read sheet %s", sheet), err)
	}
	if len(rows) == 0 {
		return []Record{}, nil
	}

	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	headers := headerNames(rows[0], width)

	records := make([]Record, 0, len(rows)-1)
	for ri, row := range rows[1:] {
		rec := make(Record, 0, len(row))
		for ci, raw := range row {
			if raw == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(ci+1, ri+2)
			if err != nil {
				return nil, apperr.Wrap(apperr.KindConversion, "invalid cell reference", err)
			}
			rec = append(rec, Field{Key: headers[ci], Value: cellValue(f, sheet, cell, raw)})
		}
		if len(rec) > 0 {
			records = append(records, rec)
		}
	}
	return records, nil
}

// headerNames names blank headers __EMPTY, __EMPTY_1, ... and suffixes
// duplicates with _1, _2, ...
func headerNames(row []string, width int) []string {
	names := make([]string, width)
	seen := make(map[string]int, width)
	for i := 0; i < width; i++ {
		base := ""
		if i < len(row) {
			base = strings.TrimSpace(row[i])
		}
		if base == "" {
			base = emptyHeader
		}
		name := base
		if n, ok := seen[base]; ok {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		seen[base]++
		names[i] = name
	}
	return names
}

func cellValue(f *excelize.File, sheet, cell, raw string) any {
	typ, err := f.GetCellType(sheet, cell)
	if err != nil {
		return raw
	}
	switch typ {
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
		if _, err := strconv.ParseFloat(raw, 64); err == nil {
			return json.Number(raw)
		}
	case excelize.CellTypeBool:
		return raw == "1" || strings.EqualFold(raw, "true")
	}
	return raw
}
