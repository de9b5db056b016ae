package utils

import (
	"bytes"
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, rows [][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf
}

func TestParseInventorySheet_ReadsRowsAfterHeader(t *testing.T) {
	buf := buildWorkbook(t, [][]interface{}{
		{"Name", "Unit", "Unit price, EUR", "Quantity"},
		{"Widget", "pcs", 120, 1},
		{},
		{"Gadget", "box", "90.50", "3"},
	})

	rows, err := ParseInventorySheet(buf)
	if err != nil {
		t.Fatalf("ParseInventorySheet: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Name != "Widget" || rows[0].Unit != "pcs" || rows[0].UnitPrice.String() != "120" || rows[0].Quantity != 1 || rows[0].Row != 2 {
		t.Fatalf("unexpected first row: %+v", rows[0])
	}
	if rows[1].Name != "Gadget" || rows[1].UnitPrice.String() != "90.5" || rows[1].Quantity != 3 || rows[1].Row != 4 {
		t.Fatalf("unexpected second row: %+v", rows[1])
	}
}

func TestParseInventorySheet_ReportsOffendingRow(t *testing.T) {
	cases := []struct {
		name   string
		row    []interface{}
		column string
	}{
		{"bad price", []interface{}{"Widget", "pcs", "abc", 1}, "unit_price"},
		{"negative price", []interface{}{"Widget", "pcs", -5, 1}, "unit_price"},
		{"fractional quantity", []interface{}{"Widget", "pcs", 10, 1.5}, "quantity"},
		{"missing quantity", []interface{}{"Widget", "pcs", 10}, "quantity"},
		{"missing name", []interface{}{"", "pcs", 10, 1}, "row"},
		{"negative quantity", []interface{}{"Widget", "pcs", 10, -1}, "row"},
	}
	for _, tc := range cases {
		buf := buildWorkbook(t, [][]interface{}{
			{"Name", "Unit", "Price", "Quantity"},
			tc.row,
		})
		_, err := ParseInventorySheet(buf)
		var rowErr *SheetRowError
		if !errors.As(err, &rowErr) {
			t.Fatalf("%s: expected SheetRowError, got %v", tc.name, err)
		}
		if rowErr.Row != 2 || rowErr.Column != tc.column {
			t.Fatalf("%s: expected row 2 column %s, got row %d column %s", tc.name, tc.column, rowErr.Row, rowErr.Column)
		}
	}
}

func TestParseInventorySheet_HeaderOnlyIsEmpty(t *testing.T) {
	buf := buildWorkbook(t, [][]interface{}{
		{"Name", "Unit", "Price", "Quantity"},
	})
	if _, err := ParseInventorySheet(buf); !errors.Is(err, ErrEmptySheet) {
		t.Fatalf("expected ErrEmptySheet, got %v", err)
	}
}

func TestParseInventorySheet_RejectsNonWorkbook(t *testing.T) {
	if _, err := ParseInventorySheet(bytes.NewBufferString("not a zip")); err == nil {
		t.Fatalf("expected error for non-xlsx payload")
	}
}
