package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/v0xg/gridfill/internal/grid"
)

// hintFlags describe the starting control the way a user would point at it.
type hintFlags struct {
	row    int
	column string
	id     string
	class  string
	tag    string
	rect   string
	mode   string
}

func (h *hintFlags) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVar(&h.row, "row", 0, "row index of the starting cell")
	f.StringVar(&h.column, "column", "", "column id of the starting cell (default grid.subject_column)")
	f.StringVar(&h.id, "id", "", "element id of the starting control")
	f.StringVar(&h.class, "class", "", "class name of the starting control")
	f.StringVar(&h.tag, "tag", "", "tag name of the starting control")
	f.StringVar(&h.rect, "rect", "", "screen rectangle of the starting control as x,y,w,h")
	f.StringVar(&h.mode, "mode", "auto", "auto: fill downwards until done, single: set one row")
}

// hint builds the ElementHint from the flags that were set. With no flag at all the session
// starts at row 0 of the subject column.
func (h *hintFlags) hint(cmd *cobra.Command, subjectColumn string) (grid.ElementHint, error) {
	var hint grid.ElementHint
	f := cmd.Flags()

	if f.Changed("row") {
		row := h.row
		hint.RowIndex = &row
	}
	hint.ColumnID = strings.TrimSpace(h.column)
	hint.ID = strings.TrimSpace(h.id)
	hint.ClassName = strings.TrimSpace(h.class)
	hint.TagName = strings.TrimSpace(h.tag)
	if h.rect != "" {
		r, err := parseRect(h.rect)
		if err != nil {
			return grid.ElementHint{}, err
		}
		hint.Rect = &r
	}

	if hint.Empty() {
		row := 0
		hint.RowIndex = &row
	}
	if hint.RowIndex != nil && hint.ColumnID == "" {
		hint.ColumnID = subjectColumn
	}
	return hint, nil
}

func parseRect(s string) (grid.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return grid.Rect{}, fmt.Errorf("--rect wants x,y,w,h, got %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return grid.Rect{}, fmt.Errorf("--rect: %w", err)
		}
		v[i] = f
	}
	if v[2] <= 0 || v[3] <= 0 {
		return grid.Rect{}, fmt.Errorf("--rect: width and height must be positive, got %q", s)
	}
	return grid.Rect{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}
