package extraction

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zombor/cost-tracker/internal/invoice"
)

//go:embed layouts.yaml
var defaultLayouts []byte

// DefaultLayouts returns the built-in DANFE layouts in priority order
func DefaultLayouts() []Layout {
	layouts, err := LoadLayouts(bytes.NewReader(defaultLayouts))
	if err != nil {
		panic(fmt.Sprintf("built-in layouts are invalid: %v", err))
	}
	return layouts
}

// LoadLayouts decodes and validates a YAML list of layouts
func LoadLayouts(r io.Reader) ([]Layout, error) {
	var layouts []Layout
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&layouts); err != nil {
		return nil, fmt.Errorf("decoding layouts: %w", err)
	}
	if len(layouts) == 0 {
		return nil, errors.New("no layouts defined")
	}

	seen := make(map[string]bool, len(layouts))
	for _, l := range layouts {
		if err := l.Validate(); err != nil {
			return nil, err
		}
		if seen[l.Name] {
			return nil, fmt.Errorf("duplicate layout %s", l.Name)
		}
		seen[l.Name] = true
	}
	return layouts, nil
}

// LoadLayoutsFile reads layouts from a YAML file
func LoadLayoutsFile(path string) ([]Layout, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening layouts file: %w", err)
	}
	defer f.Close()

	return LoadLayouts(f)
}

// Match is the outcome of dispatching one PDF
type Match struct {
	// Layout is the accepted layout name, "" when exhausted
	Layout string
	Items  []invoice.RawLineItem
	// Attempts holds the mismatch of every rejected layout, in order
	Attempts []error
}

// Matched reports whether a layout was accepted
func (m Match) Matched() bool {
	return m.Layout != ""
}

// Err returns nil for a match, or an error wrapping ErrLayoutExhausted and
// every attempt
func (m Match) Err() error {
	if m.Matched() {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrLayoutExhausted, errors.Join(m.Attempts...))
}

// Dispatcher tries layouts in priority order and accepts the first that fits
type Dispatcher struct {
	layouts []Layout
}

// NewDispatcher creates a dispatcher over layouts, ordered most specific first
func NewDispatcher(layouts []Layout) *Dispatcher {
	return &Dispatcher{layouts: layouts}
}

// Layouts returns the layout names in the order they are tried
func (d *Dispatcher) Layouts() []string {
	names := make([]string, len(d.layouts))
	for i, l := range d.layouts {
		names[i] = l.Name
	}
	return names
}

// Dispatch picks the first layout whose extraction succeeds. Later layouts are
// never tried once one is accepted.
func (d *Dispatcher) Dispatch(tables []Table) Match {
	var m Match
	for _, l := range d.layouts {
		items, err := l.Extract(tables)
		if err != nil {
			m.Attempts = append(m.Attempts, err)
			continue
		}
		m.Layout = l.Name
		m.Items = items
		return m
	}
	return m
}
