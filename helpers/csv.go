package helpers

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/spektr-org/reports/engine"
	"github.com/spektr-org/reports/schema"
)

// ============================================================================
// CSV HELPER — Parses CSV exports into entities
// ============================================================================
// Consumer reads the CSV from wherever it lives (file, S3, Sheets).
// This helper decodes the raw bytes into entities of one declared type:
// built-in columns (id, name, owner) fill the entity itself, declared
// attributes are decoded per kind and "custom:<id>" columns fill custom
// fields. Other columns are ignored.
// ============================================================================

type columnTarget uint8

const (
	skipColumn columnTarget = iota
	builtinColumn
	attributeColumn
	customColumn
)

type columnMapping struct {
	target columnTarget
	key    string
	kind   schema.ValueKind
}

// LoadCSV parses CSV bytes into entities of entityType. Every row needs an
// id; values that do not decode under their kind are errors.
func LoadCSV(data []byte, cfg *schema.Config, entityType string) ([]*engine.Entity, error) {
	et, ok := cfg.Type(entityType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", schema.ErrUnknownType, entityType)
	}

	reader := csv.NewReader(strings.NewReader(string(data)))

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV headers: %w", err)
	}

	mappings := make([]columnMapping, len(headers))
	hasID := false
	for i, h := range headers {
		h = strings.TrimSpace(h)
		if id, ok := strings.CutPrefix(h, schema.CustomColumnPrefix); ok {
			m := columnMapping{target: customColumn, key: id, kind: schema.KindText}
			if cf, ok := cfg.CustomField(entityType, id); ok {
				m.kind = cf.Kind
			}
			mappings[i] = m
			continue
		}
		key := schema.ToSnakeCase(h)
		switch key {
		case "id", "name", "owner":
			mappings[i] = columnMapping{target: builtinColumn, key: key}
			hasID = hasID || key == "id"
		default:
			if attr, ok := et.Attribute(key); ok {
				mappings[i] = columnMapping{target: attributeColumn, key: key, kind: attr.Kind}
			}
		}
	}
	if !hasID {
		return nil, fmt.Errorf("CSV for %s has no id column", entityType)
	}

	var entities []*engine.Entity
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			continue // skip malformed rows
		}

		e := &engine.Entity{Type: entityType, Fields: make(map[string]any)}
		for i, val := range row {
			if i >= len(mappings) {
				break
			}
			m := mappings[i]
			val = strings.TrimSpace(val)

			switch m.target {
			case builtinColumn:
				switch m.key {
				case "id":
					e.ID = val
				case "name":
					e.Name = val
				case "owner":
					e.Owner = val
				}
			case attributeColumn, customColumn:
				v, err := schema.ParseValue(m.kind, val)
				if err != nil {
					return nil, fmt.Errorf("line %d, column %s: %w", line, headers[i], err)
				}
				if v == nil {
					continue
				}
				if m.target == attributeColumn {
					e.Fields[m.key] = v
				} else {
					if e.Custom == nil {
						e.Custom = make(map[string]any)
					}
					e.Custom[m.key] = v
				}
			}
		}
		if e.ID == "" {
			return nil, fmt.Errorf("line %d: empty id", line)
		}
		entities = append(entities, e)
	}

	return entities, nil
}

// EnsureType declares entityType in cfg from the CSV columns when the
// configuration does not declare it yet.
func EnsureType(cfg *schema.Config, entityType string, data []byte) (*schema.EntityType, error) {
	if et, ok := cfg.Type(entityType); ok {
		return et, nil
	}
	et, err := schema.DiscoverFromCSV(data, schema.DefaultDiscoverOptions(entityType))
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", entityType, err)
	}
	cfg.Types = append(cfg.Types, *et)
	found, _ := cfg.Type(entityType)
	return found, nil
}
