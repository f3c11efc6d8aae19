package scoring

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"claims-backend/internal/claims"
)

//go:embed standards.yaml
var defaultTableYAML []byte

// Standard is one row of the standards-to-cost reference table.
type Standard struct {
	Type              string   `yaml:"type"`
	Description       string   `yaml:"description"`
	Category          string   `yaml:"category"`
	Severity          string   `yaml:"severity"`
	ReportTypes       []string `yaml:"reportTypes"`
	Billable          bool     `yaml:"billable"`
	CostCents         int64    `yaml:"costCents"`
	Hours             float64  `yaml:"hours"`
	StandardReference string   `yaml:"standardReference"`
	LineItem          string   `yaml:"lineItem"`
	Keywords          []string `yaml:"keywords"`
}

// AppliesTo reports whether the element is expected for the report type.
func (s Standard) AppliesTo(rt claims.ReportType) bool {
	if len(s.ReportTypes) == 0 {
		return true
	}
	for _, t := range s.ReportTypes {
		if claims.ParseReportType(t) == rt {
			return true
		}
	}
	return false
}

// Table is the parsed reference table keyed by element type.
type Table struct {
	RequiredFields []string
	elements       []Standard
	byType         map[string]Standard
}

type tableFile struct {
	RequiredFields []string   `yaml:"requiredFields"`
	Elements       []Standard `yaml:"elements"`
}

// DefaultTable returns the table compiled into the binary.
func DefaultTable() *Table {
	t, err := LoadTable(bytes.NewReader(defaultTableYAML))
	if err != nil {
		panic(fmt.Sprintf("scoring: embedded standards table invalid: %v", err))
	}
	return t
}

// LoadTableFile reads a table from disk. An empty path yields the default table.
func LoadTableFile(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultTable(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open standards table: %w", err)
	}
	defer f.Close()
	return LoadTable(f)
}

// LoadTable parses and validates a YAML table.
func LoadTable(r io.Reader) (*Table, error) {
	var raw tableFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode standards table: %w", err)
	}
	if len(raw.RequiredFields) == 0 {
		return nil, errors.New("standards table: requiredFields is empty")
	}
	for _, name := range raw.RequiredFields {
		if _, ok := fieldAccessors[name]; !ok {
			return nil, fmt.Errorf("standards table: unknown required field %q", name)
		}
	}

	t := &Table{
		RequiredFields: raw.RequiredFields,
		byType:         make(map[string]Standard, len(raw.Elements)),
	}
	for i, el := range raw.Elements {
		key := normalizeType(el.Type)
		if key == "" {
			return nil, fmt.Errorf("standards table: element %d has no type", i)
		}
		if _, dup := t.byType[key]; dup {
			return nil, fmt.Errorf("standards table: duplicate element type %q", key)
		}
		if claims.ParseCategory(el.Category) == claims.CategoryOther && !strings.EqualFold(el.Category, string(claims.CategoryOther)) {
			return nil, fmt.Errorf("standards table: %s has unknown category %q", key, el.Category)
		}
		if claims.ParseSeverity(el.Severity) != claims.Severity(strings.ToUpper(el.Severity)) {
			return nil, fmt.Errorf("standards table: %s has unknown severity %q", key, el.Severity)
		}
		if el.CostCents < 0 || el.Hours < 0 {
			return nil, fmt.Errorf("standards table: %s has a negative cost", key)
		}
		el.Type = key
		t.byType[key] = el
		t.elements = append(t.elements, el)
	}
	return t, nil
}

// Lookup finds an element by type.
func (t *Table) Lookup(elementType string) (Standard, bool) {
	s, ok := t.byType[normalizeType(elementType)]
	return s, ok
}

// Checklist returns the elements expected for a report type in table order.
func (t *Table) Checklist(rt claims.ReportType) []Standard {
	out := make([]Standard, 0, len(t.elements))
	for _, el := range t.elements {
		if el.AppliesTo(rt) {
			out = append(out, el)
		}
	}
	return out
}

func normalizeType(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// ElementTypes lists every element type in table order.
func (t *Table) ElementTypes() []string {
	out := make([]string, len(t.elements))
	for i, s := range t.elements {
		out[i] = s.Type
	}
	return out
}
