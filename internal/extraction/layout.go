package extraction

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/zombor/cost-tracker/internal/invoice"
)

// ExplodePolicy decides what happens when exploded columns disagree on length
type ExplodePolicy string

const (
	// PolicyStrict rejects the layout on a length mismatch
	PolicyStrict ExplodePolicy = "strict"
	// PolicyTruncate keeps as many rows as the shortest column
	PolicyTruncate ExplodePolicy = "truncate"
)

// CellRef addresses one cell; negative indexes count from the end
type CellRef struct {
	Table int `yaml:"table"`
	Row   int `yaml:"row"`
	Col   int `yaml:"col"`
}

// Step is one text transformation. Remove deletes every occurrence of a
// substring; Split splits on a separator and keeps the part at Index.
type Step struct {
	Remove string `yaml:"remove,omitempty"`
	Split  string `yaml:"split,omitempty"`
	Index  int    `yaml:"index,omitempty"`
}

// FieldRule locates a document-level value: a constant or a cell plus steps
type FieldRule struct {
	Value *string  `yaml:"value,omitempty"`
	Cell  *CellRef `yaml:"cell,omitempty"`
	Steps []Step   `yaml:"steps,omitempty"`
}

// ColumnRule locates an item value by column header or fixed column.
// Every and Offset keep every n-th exploded line starting at Offset.
type ColumnRule struct {
	Header string `yaml:"header,omitempty"`
	Col    *int   `yaml:"col,omitempty"`
	Every  int    `yaml:"every,omitempty"`
	Offset int    `yaml:"offset,omitempty"`
	Steps  []Step `yaml:"steps,omitempty"`
}

// ItemsRule locates the line-item table of a layout
type ItemsRule struct {
	Table     int                          `yaml:"table"`
	HeaderRow int                          `yaml:"header_row"`
	FirstRow  int                          `yaml:"first_row"`
	RowLimit  int                          `yaml:"row_limit,omitempty"`
	Explode   bool                         `yaml:"explode,omitempty"`
	Policy    ExplodePolicy                `yaml:"policy,omitempty"`
	Columns   map[invoice.Field]ColumnRule `yaml:"columns"`
}

// Probe requires a cell to contain some text, compared accent-insensitively
type Probe struct {
	Cell     CellRef `yaml:"cell"`
	Contains string  `yaml:"contains"`
}

// Layout is a fixed hypothesis about where an invoice template keeps its fields
type Layout struct {
	Name      string                      `yaml:"name"`
	Signature []Probe                     `yaml:"signature,omitempty"`
	Header    map[invoice.Field]FieldRule `yaml:"header"`
	Items     ItemsRule                   `yaml:"items"`
}

// Validate checks that the layout defines every canonical raw field
func (l Layout) Validate() error {
	if l.Name == "" {
		return errors.New("layout name is required")
	}
	for _, f := range invoice.HeaderFields {
		rule, ok := l.Header[f]
		if !ok {
			return fmt.Errorf("layout %s: missing header field %s", l.Name, f)
		}
		if (rule.Value == nil) == (rule.Cell == nil) {
			return fmt.Errorf("layout %s: header field %s needs exactly one of value or cell", l.Name, f)
		}
	}
	for _, f := range invoice.ItemFields {
		rule, ok := l.Items.Columns[f]
		if !ok {
			return fmt.Errorf("layout %s: missing item field %s", l.Name, f)
		}
		if (rule.Header == "") == (rule.Col == nil) {
			return fmt.Errorf("layout %s: item field %s needs exactly one of header or col", l.Name, f)
		}
		if rule.Every < 0 || rule.Offset < 0 {
			return fmt.Errorf("layout %s: item field %s has a negative every/offset", l.Name, f)
		}
	}
	switch l.Items.Policy {
	case "", PolicyStrict, PolicyTruncate:
	default:
		return fmt.Errorf("layout %s: unknown explode policy %q", l.Name, l.Items.Policy)
	}
	return nil
}

// Extract applies the layout to a page's tables. It either returns at least
// one line item or a *MismatchError.
func (l Layout) Extract(tables []Table) ([]invoice.RawLineItem, error) {
	items, err := l.extract(tables)
	if err != nil {
		return nil, &MismatchError{Layout: l.Name, Reason: err.Error()}
	}
	return items, nil
}

func (l Layout) extract(tables []Table) ([]invoice.RawLineItem, error) {
	for _, probe := range l.Signature {
		text, err := cellAt(tables, probe.Cell)
		if err != nil {
			return nil, err
		}
		if !strings.Contains(fold(text), fold(probe.Contains)) {
			return nil, mismatchf("cell %v does not contain %q", probe.Cell, probe.Contains)
		}
	}

	header := make(map[invoice.Field]string, len(l.Header))
	for _, f := range invoice.HeaderFields {
		v, err := l.headerValue(tables, f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		header[f] = v
	}

	rows, err := l.itemRows(tables)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, mismatchf("no line items found")
	}

	items := make([]invoice.RawLineItem, 0, len(rows))
	for _, row := range rows {
		item := invoice.NewRawLineItem(invoice.OriginPDF)
		for f, v := range header {
			item.Values[f] = v
		}
		for f, v := range row {
			item.Values[f] = v
		}
		items = append(items, item)
	}
	return items, nil
}

func (l Layout) headerValue(tables []Table, f invoice.Field) (string, error) {
	rule := l.Header[f]
	if rule.Value != nil {
		return *rule.Value, nil
	}
	if rule.Cell == nil {
		return "", mismatchf("no rule")
	}
	text, err := cellAt(tables, *rule.Cell)
	if err != nil {
		return "", err
	}
	v, ok := applySteps(text, rule.Steps)
	if !ok {
		return "", mismatchf("steps do not apply to %q", text)
	}
	return strings.TrimSpace(v), nil
}

// itemRows returns one map of item values per product line
func (l Layout) itemRows(tables []Table) ([]map[invoice.Field]string, error) {
	ti, ok := index(len(tables), l.Items.Table)
	if !ok {
		return nil, mismatchf("item table %d not found among %d tables", l.Items.Table, len(tables))
	}
	table := tables[ti]

	cols, err := l.resolveColumns(table)
	if err != nil {
		return nil, err
	}

	last := len(table)
	if l.Items.RowLimit > 0 && l.Items.FirstRow+l.Items.RowLimit < last {
		last = l.Items.FirstRow + l.Items.RowLimit
	}
	if l.Items.FirstRow >= last || l.Items.FirstRow < 0 {
		return nil, mismatchf("item table has %d rows, items start at row %d", len(table), l.Items.FirstRow)
	}

	var rows []map[invoice.Field]string
	for r := l.Items.FirstRow; r < last; r++ {
		var (
			exploded map[invoice.Field][]string
			err      error
		)
		if l.Items.Explode {
			exploded, err = l.explodeRow(table[r], cols)
		} else {
			exploded, err = l.singleRow(table[r], cols)
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", r, err)
		}
		rows = append(rows, zip(exploded)...)
	}
	return rows, nil
}

// resolveColumns maps each item field onto a column index of table
func (l Layout) resolveColumns(table Table) (map[invoice.Field]int, error) {
	cols := make(map[invoice.Field]int, len(l.Items.Columns))
	var headers map[string]int
	for _, f := range invoice.ItemFields {
		rule := l.Items.Columns[f]
		if rule.Col != nil {
			cols[f] = *rule.Col
			continue
		}
		if headers == nil {
			hr, ok := index(len(table), l.Items.HeaderRow)
			if !ok {
				return nil, mismatchf("header row %d not found", l.Items.HeaderRow)
			}
			headers = make(map[string]int, len(table[hr]))
			for i, name := range table[hr] {
				key := fold(name)
				if _, dup := headers[key]; !dup {
					headers[key] = i
				}
			}
		}
		i, ok := headers[fold(rule.Header)]
		if !ok {
			return nil, mismatchf("column %q not found", rule.Header)
		}
		cols[f] = i
	}
	return cols, nil
}

func (l Layout) singleRow(row []string, cols map[invoice.Field]int) (map[invoice.Field][]string, error) {
	out := make(map[invoice.Field][]string, len(cols))
	for f, c := range cols {
		ci, ok := index(len(row), c)
		if !ok {
			return nil, mismatchf("column %d out of range", c)
		}
		out[f] = []string{itemValue(row[ci], l.Items.Columns[f].Steps)}
	}
	return out, nil
}

// explodeRow splits every column on newlines into parallel lists
func (l Layout) explodeRow(row []string, cols map[invoice.Field]int) (map[invoice.Field][]string, error) {
	out := make(map[invoice.Field][]string, len(cols))
	for f, c := range cols {
		ci, ok := index(len(row), c)
		if !ok {
			return nil, mismatchf("column %d out of range", c)
		}
		rule := l.Items.Columns[f]
		lines := strings.Split(row[ci], "\n")
		if rule.Every > 1 || rule.Offset > 0 {
			lines = stride(lines, rule.Offset, rule.Every)
		}
		values := make([]string, len(lines))
		for i, line := range lines {
			values[i] = itemValue(line, rule.Steps)
		}
		out[f] = values
	}

	n := -1
	for _, f := range invoice.ItemFields {
		values := out[f]
		switch {
		case n == -1:
			n = len(values)
		case len(values) < n:
			if l.Items.Policy != PolicyTruncate {
				return nil, mismatchf("exploded column %s has %d values, expected %d", f, len(values), n)
			}
			n = len(values)
		case len(values) > n && l.Items.Policy != PolicyTruncate:
			return nil, mismatchf("exploded column %s has %d values, expected %d", f, len(values), n)
		}
	}
	for f := range out {
		out[f] = out[f][:n]
	}
	return out, nil
}

// zip turns parallel value lists into rows, dropping rows with no values
func zip(columns map[invoice.Field][]string) []map[invoice.Field]string {
	n := 0
	for _, values := range columns {
		n = len(values)
		break
	}
	rows := make([]map[invoice.Field]string, 0, n)
	for i := 0; i < n; i++ {
		row := make(map[invoice.Field]string, len(columns))
		blank := true
		for f, values := range columns {
			if values[i] == "" {
				continue
			}
			row[f] = values[i]
			blank = false
		}
		if !blank {
			rows = append(rows, row)
		}
	}
	return rows
}

func stride(lines []string, offset, every int) []string {
	if every < 1 {
		every = 1
	}
	var out []string
	for i := offset; i < len(lines); i += every {
		out = append(out, lines[i])
	}
	return out
}

// itemValue applies steps leniently: an impossible step yields ""
func itemValue(text string, steps []Step) string {
	v, ok := applySteps(text, steps)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

func applySteps(text string, steps []Step) (string, bool) {
	for _, s := range steps {
		if s.Remove != "" {
			text = strings.ReplaceAll(text, s.Remove, "")
		}
		if s.Split != "" {
			parts := strings.Split(text, s.Split)
			i, ok := index(len(parts), s.Index)
			if !ok {
				return "", false
			}
			text = parts[i]
		}
	}
	return text, true
}

func cellAt(tables []Table, ref CellRef) (string, error) {
	ti, ok := index(len(tables), ref.Table)
	if !ok {
		return "", mismatchf("table %d not found among %d tables", ref.Table, len(tables))
	}
	text, ok := tables[ti].Cell(ref.Row, ref.Col)
	if !ok {
		return "", mismatchf("cell %d,%d not found in table %d", ref.Row, ref.Col, ref.Table)
	}
	return text, nil
}

// fold upper-cases s, strips diacritics and collapses whitespace so that
// "Descrição\ndo produto" matches "DESCRICAO DO PRODUTO"
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToUpper(strings.Join(strings.Fields(out), " "))
}
