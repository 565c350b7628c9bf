// Package reports implements the report generation core: the metadata
// flattener, the recursive tree walker, the three record pipelines
// (dataverse, dataset, user), and the assembler that drives them across
// configured accounts.
package reports

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dataverse-reports/dataverse-reports/internal/dataverse"
)

// ErrUnknownTypeClass is returned by Flatten for a field whose typeClass is
// not one of primitive, controlledVocabulary, or compound. Callers log the
// field and skip it; the error never fails a record.
var ErrUnknownTypeClass = errors.New("unrecognized metadata typeClass")

// Separators of the flattened display format. Vocabulary and primitive lists
// join with listSep, compound child values join with childSep, compound
// sub-records join with recordSep. One trailing childSep is stripped per
// sub-record and one trailing recordSep from the final string.
const (
	listSep   = ", "
	childSep  = " - "
	recordSep = " ; "
)

// Flatten converts one typed metadata field into a single display string.
// The shape of the field's value follows from its (typeClass, multiple) pair:
//
//	primitive, single:             bare scalar, returned as-is
//	primitive, multiple:           list of strings, joined with ", "
//	controlledVocabulary, either:  list of strings, joined with ", "
//	compound, single:              one sub-record of named child fields
//	compound, multiple:            list of such sub-records
//
// Compound sub-records flatten to one line each: child values joined with
// " - ", non-multiple children contributing their raw value and multiple
// children recursing. Lines join with " ; ". Empty values never panic; the
// separator strips are guarded.
func Flatten(field dataverse.MetadataField) (string, error) {
	switch field.TypeClass {
	case dataverse.ClassPrimitive:
		if !field.Multiple {
			return scalarValue(field.Value), nil
		}
		return flattenStringList(field)

	case dataverse.ClassControlledVocabulary:
		// Controlled vocabularies serialize as a string list regardless of
		// cardinality.
		return flattenStringList(field)

	case dataverse.ClassCompound:
		return flattenCompound(field)

	default:
		return "", fmt.Errorf("field %s: %w: %s", field.TypeName, ErrUnknownTypeClass, field.TypeClass)
	}
}

// flattenStringList joins a list-valued field with ", ".
func flattenStringList(field dataverse.MetadataField) (string, error) {
	var values []string
	if err := json.Unmarshal(field.Value, &values); err != nil {
		// Some installations serialize a single-valued vocabulary as a bare
		// string; accept that shape too.
		var single string
		if err2 := json.Unmarshal(field.Value, &single); err2 == nil {
			return single, nil
		}
		return "", fmt.Errorf("field %s: failed to decode value list: %w", field.TypeName, err)
	}
	return strings.Join(values, listSep), nil
}

// flattenCompound flattens one compound field, single or multiple. A
// non-multiple compound is usually one sub-record object, but some payloads
// wrap it in a one-element list; both shapes are accepted.
func flattenCompound(field dataverse.MetadataField) (string, error) {
	var rawRecords []json.RawMessage
	if isJSONArray(field.Value) {
		if err := json.Unmarshal(field.Value, &rawRecords); err != nil {
			return "", fmt.Errorf("field %s: failed to decode compound list: %w", field.TypeName, err)
		}
	} else {
		rawRecords = []json.RawMessage{field.Value}
	}

	var b strings.Builder
	for _, raw := range rawRecords {
		children, err := decodeSubRecord(raw)
		if err != nil {
			return "", fmt.Errorf("field %s: %w", field.TypeName, err)
		}
		b.WriteString(flattenSubRecord(field.TypeName, children))
		b.WriteString(recordSep)
	}
	return strings.TrimSuffix(b.String(), recordSep), nil
}

// flattenSubRecord composes the line for one compound sub-record: child
// contributions joined with " - ", one trailing " - " stripped. A child with
// an unrecognized typeClass contributes nothing and is logged.
func flattenSubRecord(parentName string, children []compoundChild) string {
	var b strings.Builder
	for _, child := range children {
		if !child.Field.Multiple {
			b.WriteString(scalarValue(child.Field.Value))
		} else {
			value, err := Flatten(child.Field)
			if err != nil {
				slog.Debug("skipping compound child value",
					"field", parentName, "child", child.Name, "error", err)
			} else {
				b.WriteString(value)
			}
		}
		b.WriteString(childSep)
	}
	return strings.TrimSuffix(b.String(), childSep)
}

// compoundChild is one named child field of a compound sub-record.
type compoundChild struct {
	Name  string
	Field dataverse.MetadataField
}

// decodeSubRecord decodes one compound sub-record object, preserving the key
// order of the wire payload. A plain map would randomize child order and make
// output differ from run to run against an unchanged tree.
func decodeSubRecord(raw json.RawMessage) ([]compoundChild, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to decode compound sub-record: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("compound sub-record is not an object (got %v)", tok)
	}

	var children []compoundChild
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to decode compound child name: %w", err)
		}
		name, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("compound child name is not a string (got %v)", keyTok)
		}

		var field dataverse.MetadataField
		if err := dec.Decode(&field); err != nil {
			return nil, fmt.Errorf("failed to decode compound child %s: %w", name, err)
		}
		children = append(children, compoundChild{Name: name, Field: field})
	}

	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("failed to decode compound sub-record: %w", err)
	}
	return children, nil
}

// scalarValue renders a raw JSON scalar as display text: strings unquoted,
// numbers and booleans in their literal form, null and absent values empty.
func scalarValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	text := strings.TrimSpace(string(raw))
	if text == "null" {
		return ""
	}
	return text
}

// isJSONArray reports whether a raw value's first token opens an array.
func isJSONArray(raw json.RawMessage) bool {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}
