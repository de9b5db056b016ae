package utils

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// SheetRow is one inventory line read from an uploaded workbook.
type SheetRow struct {
	Row       int             `json:"row"`
	Name      string          `json:"name" validate:"required,max=255"`
	Unit      string          `json:"unit" validate:"max=64"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity" validate:"gte=0"`
}

// SheetRowError points at the offending row of the workbook (1-based, header is row 1).
type SheetRowError struct {
	Row    int
	Column string
	Err    error
}

func (e *SheetRowError) Error() string {
	return fmt.Sprintf("row %d, column %s: %v", e.Row, e.Column, e.Err)
}

func (e *SheetRowError) Unwrap() error { return e.Err }

var ErrEmptySheet = errors.New("workbook has no inventory rows")

// ParseInventorySheet reads the first worksheet. Row 1 is the header:
// name | unit | unit price | quantity. Blank rows are skipped.
func ParseInventorySheet(r io.Reader) ([]SheetRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptySheet
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	var result []SheetRow
	for i, cells := range rows {
		rowNum := i + 1
		if rowNum == 1 {
			continue
		}
		if isBlankRow(cells) {
			continue
		}
		row, err := parseSheetRow(rowNum, cells)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if len(result) == 0 {
		return nil, ErrEmptySheet
	}
	return result, nil
}

func parseSheetRow(rowNum int, cells []string) (SheetRow, error) {
	cell := func(i int) string {
		if i < len(cells) {
			return strings.TrimSpace(cells[i])
		}
		return ""
	}

	row := SheetRow{Row: rowNum, Name: cell(0), Unit: cell(1)}

	price, err := ParseDecimal(cell(2))
	if err != nil {
		return row, &SheetRowError{Row: rowNum, Column: "unit_price", Err: err}
	}
	if price.Sign() < 0 {
		return row, &SheetRowError{Row: rowNum, Column: "unit_price", Err: errors.New("price must not be negative")}
	}
	row.UnitPrice = price

	qty, err := parseQuantity(cell(3))
	if err != nil {
		return row, &SheetRowError{Row: rowNum, Column: "quantity", Err: err}
	}
	row.Quantity = qty

	if err := ValidateStruct(row); err != nil {
		return row, &SheetRowError{Row: rowNum, Column: "row", Err: err}
	}
	return row, nil
}

// parseQuantity accepts whole numbers, including "3.0" as stored by spreadsheets.
func parseQuantity(v string) (int, error) {
	if v == "" {
		return 0, errors.New("quantity is required")
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n, nil
	}
	d, err := ParseDecimal(v)
	if err != nil {
		return 0, err
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("quantity %q is not a whole number", v)
	}
	return int(d.IntPart()), nil
}

func isBlankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
