package lakemon

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/constraints"
)

// Table is a named rectangular result set as returned by the warehouse.
// Cell values are whatever the SQL driver produced: int64, float64, string,
// bool, time.Time or nil.
type Table struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// NewTable is a constructor of Table.
func NewTable(name string, columns []string, rows ...[]any) *Table {
	return &Table{Name: name, Columns: columns, Rows: rows}
}

// Len returns the number of rows. A nil table has zero rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Empty reports whether the table has no rows.
func (t *Table) Empty() bool {
	return t.Len() == 0
}

// ColumnIndex returns the position of the column or -1.
func (t *Table) ColumnIndex(col string) int {
	if t == nil {
		return -1
	}
	return slices.Index(t.Columns, col)
}

// Value returns the raw cell value or nil.
func (t *Table) Value(row int, col string) any {
	idx := t.ColumnIndex(col)
	if idx < 0 || row < 0 || row >= t.Len() || idx >= len(t.Rows[row]) {
		return nil
	}
	return t.Rows[row][idx]
}

// Float returns the cell as float64. The second value is false for NULL,
// missing columns and non numeric text.
func (t *Table) Float(row int, col string) (float64, bool) {
	return ToFloat(t.Value(row, col))
}

// Text returns the cell formatted for display.
func (t *Table) Text(row int, col string) string {
	return FormatValue(t.Value(row, col))
}

// Floats returns all non null numeric values of the column.
func (t *Table) Floats(col string) []float64 {
	res := make([]float64, 0, t.Len())
	for i := range t.Len() {
		if v, ok := t.Float(i, col); ok {
			res = append(res, v)
		}
	}
	return res
}

// Mean returns the arithmetic mean of the column, ignoring nulls.
func (t *Table) Mean(col string) (float64, bool) {
	vals := t.Floats(col)
	if len(vals) == 0 {
		return 0, false
	}
	return Sum(vals) / float64(len(vals)), true
}

// Max returns the largest value of the column.
func (t *Table) Max(col string) (float64, bool) {
	vals := t.Floats(col)
	if len(vals) == 0 {
		return 0, false
	}
	return slices.Max(vals), true
}

// Min returns the smallest value of the column.
func (t *Table) Min(col string) (float64, bool) {
	vals := t.Floats(col)
	if len(vals) == 0 {
		return 0, false
	}
	return slices.Min(vals), true
}

// Sum adds up the column, ignoring nulls.
func (t *Table) Sum(col string) float64 {
	return Sum(t.Floats(col))
}

// Quantile returns the q-th quantile of the column using linear
// interpolation between the closest ranks.
func (t *Table) Quantile(col string, q float64) (float64, bool) {
	return Quantile(t.Floats(col), q)
}

// NUnique counts distinct non null values of the column.
func (t *Table) NUnique(col string) int {
	seen := make(map[string]struct{}, t.Len())
	for i := range t.Len() {
		v := t.Value(i, col)
		if v == nil {
			continue
		}
		seen[FormatValue(v)] = struct{}{}
	}
	return len(seen)
}

// SortDesc returns a copy sorted by the column in descending order.
// The sort is stable and rows with a null value go last.
func (t *Table) SortDesc(col string) *Table {
	res := t.clone()
	idx := res.ColumnIndex(col)
	if idx < 0 {
		return res
	}
	cell := func(row []any) any {
		if idx < len(row) {
			return row[idx]
		}
		return nil
	}
	slices.SortStableFunc(res.Rows, func(a, b []any) int {
		va, oka := ToFloat(cell(a))
		vb, okb := ToFloat(cell(b))
		switch {
		case !oka && !okb:
			return 0
		case !oka:
			return 1
		case !okb:
			return -1
		}
		return cmp.Compare(vb, va)
	})
	return res
}

// Head returns a copy with at most n rows.
func (t *Table) Head(n int) *Table {
	res := t.clone()
	if n >= 0 && n < len(res.Rows) {
		res.Rows = res.Rows[:n]
	}
	return res
}

// Select returns a copy restricted to the given columns. Unknown columns
// are skipped.
func (t *Table) Select(cols ...string) *Table {
	idx := make([]int, 0, len(cols))
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		if i := t.ColumnIndex(c); i >= 0 {
			idx = append(idx, i)
			names = append(names, c)
		}
	}
	res := &Table{Name: t.name(), Columns: names, Rows: make([][]any, 0, t.Len())}
	for _, row := range t.rows() {
		r := make([]any, len(idx))
		for j, i := range idx {
			if i < len(row) {
				r[j] = row[i]
			}
		}
		res.Rows = append(res.Rows, r)
	}
	return res
}

// StringRows formats every cell for display.
func (t *Table) StringRows() [][]string {
	res := make([][]string, 0, t.Len())
	for _, row := range t.rows() {
		r := make([]string, len(t.Columns))
		for j := range t.Columns {
			if j < len(row) {
				r[j] = FormatValue(row[j])
			}
		}
		res = append(res, r)
	}
	return res
}

func (t *Table) clone() *Table {
	return &Table{Name: t.name(), Columns: t.columns(), Rows: slices.Clone(t.rows())}
}

func (t *Table) name() string {
	if t == nil {
		return ""
	}
	return t.Name
}

func (t *Table) columns() []string {
	if t == nil {
		return nil
	}
	return slices.Clone(t.Columns)
}

func (t *Table) rows() [][]any {
	if t == nil {
		return nil
	}
	return t.Rows
}

// Quantile computes the q-th quantile (0 <= q <= 1) of vals with linear
// interpolation. vals is not modified.
func Quantile(vals []float64, q float64) (float64, bool) {
	if len(vals) == 0 || q < 0 || q > 1 {
		return 0, false
	}
	sorted := slices.Clone(vals)
	slices.Sort(sorted)
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo], true
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo)), true
}

// Sum adds up numbers of any numeric type.
func Sum[T constraints.Integer | constraints.Float](vals []T) T {
	var s T
	for _, v := range vals {
		s += v
	}
	return s
}

// Round rounds x to the given number of decimal places.
func Round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

// ToFloat converts a driver value to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int16:
		return float64(n), true
	case int8:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(n)), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// FormatValue renders a driver value for reports. Floats use two decimals.
func FormatValue(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		return n
	case []byte:
		return string(n)
	case float64:
		return strconv.FormatFloat(n, 'f', 2, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', 2, 32)
	case time.Time:
		return n.UTC().Format(time.DateTime)
	default:
		return fmt.Sprint(n)
	}
}

// RawValue renders a driver value without rounding, for data exports.
func RawValue(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	case time.Time:
		return n.UTC().Format(time.RFC3339)
	default:
		return FormatValue(n)
	}
}
