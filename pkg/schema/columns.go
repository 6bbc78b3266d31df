// Package schema maps remote table schemas onto PostgreSQL tables and
// inspects which tables already exist in the target database.
//
// A remote table schema is a JSON Schema document whose top-level
// properties "key" and "value" describe the primary key columns and the
// payload columns of each record. Parse flattens both objects into typed
// Columns; Column.Decode converts a raw JSON field into a value pgx can
// encode for that column type.
package schema

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/ajitpratap0/dapsync/pkg/errors"
)

// ColumnType is a PostgreSQL column type.
type ColumnType string

const (
	TypeSmallInt  ColumnType = "smallint"
	TypeInteger   ColumnType = "integer"
	TypeBigInt    ColumnType = "bigint"
	TypeDouble    ColumnType = "double precision"
	TypeBoolean   ColumnType = "boolean"
	TypeText      ColumnType = "text"
	TypeTimestamp ColumnType = "timestamp with time zone"
	TypeDate      ColumnType = "date"
	TypeJSONB     ColumnType = "jsonb"
)

// Column describes one target column.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
	Key      bool
}

// TableSchema is the flattened form of a remote table schema.
type TableSchema struct {
	Version int64
	Keys    []Column
	Values  []Column
}

// Columns returns key columns followed by value columns.
func (t *TableSchema) Columns() []Column {
	cols := make([]Column, 0, len(t.Keys)+len(t.Values))
	cols = append(cols, t.Keys...)
	return append(cols, t.Values...)
}

// ColumnNames returns the names of Columns in order.
func (t *TableSchema) ColumnNames() []string {
	cols := t.Columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// KeyNames returns the names of the key columns.
func (t *TableSchema) KeyNames() []string {
	names := make([]string, len(t.Keys))
	for i, c := range t.Keys {
		names[i] = c.Name
	}
	return names
}

// AddedColumns returns the columns of next that are absent from t.
func (t *TableSchema) AddedColumns(next *TableSchema) []Column {
	existing := make(map[string]struct{}, len(t.Keys)+len(t.Values))
	for _, c := range t.Columns() {
		existing[c.Name] = struct{}{}
	}
	var added []Column
	for _, c := range next.Columns() {
		if _, ok := existing[c.Name]; !ok {
			added = append(added, c)
		}
	}
	return added
}

// jsonSchema is the subset of JSON Schema used by the export API.
type jsonSchema struct {
	Type       json.RawMessage        `json:"type"`
	Format     string                 `json:"format"`
	Enum       []json.RawMessage      `json:"enum"`
	Ref        string                 `json:"$ref"`
	Properties map[string]*jsonSchema `json:"properties"`
	Required   []string               `json:"required"`
	OneOf      []*jsonSchema          `json:"oneOf"`
	AnyOf      []*jsonSchema          `json:"anyOf"`
	Defs       map[string]*jsonSchema `json:"$defs"`
	Defines    map[string]*jsonSchema `json:"definitions"`
}

// Parse flattens a JSON Schema document into a TableSchema.
func Parse(document []byte, version int64) (*TableSchema, error) {
	var root jsonSchema
	if err := json.Unmarshal(document, &root); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid table schema document")
	}

	defs := make(map[string]*jsonSchema, len(root.Defs)+len(root.Defines))
	for name, s := range root.Defines {
		defs["#/definitions/"+name] = s
	}
	for name, s := range root.Defs {
		defs["#/$defs/"+name] = s
	}

	key := root.Properties["key"]
	if key == nil || len(key.Properties) == 0 {
		return nil, errors.New(errors.ErrorTypeData, "table schema has no key properties")
	}

	ts := &TableSchema{Version: version}
	ts.Keys = flatten(key, defs, true)
	if value := root.Properties["value"]; value != nil {
		ts.Values = flatten(value, defs, false)
	}
	return ts, nil
}

// flatten turns the properties of an object schema into columns sorted by name.
func flatten(obj *jsonSchema, defs map[string]*jsonSchema, key bool) []Column {
	required := make(map[string]struct{}, len(obj.Required))
	for _, r := range obj.Required {
		required[r] = struct{}{}
	}

	names := make([]string, 0, len(obj.Properties))
	for name := range obj.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	cols := make([]Column, 0, len(names))
	for _, name := range names {
		colType, nullable := columnType(obj.Properties[name], defs, 0)
		_, isRequired := required[name]
		cols = append(cols, Column{
			Name:     name,
			Type:     colType,
			Nullable: !key && (nullable || !isRequired),
			Key:      key,
		})
	}
	return cols
}

// columnType resolves a property schema to a column type and nullability.
func columnType(s *jsonSchema, defs map[string]*jsonSchema, depth int) (ColumnType, bool) {
	if s == nil || depth > 8 {
		return TypeJSONB, true
	}
	if s.Ref != "" {
		return columnType(defs[s.Ref], defs, depth+1)
	}

	variants := s.OneOf
	if len(variants) == 0 {
		variants = s.AnyOf
	}
	if len(variants) > 0 {
		return variantType(variants, defs, depth)
	}

	types := typeNames(s.Type)
	nullable := false
	var concrete []string
	for _, t := range types {
		if t == "null" {
			nullable = true
			continue
		}
		concrete = append(concrete, t)
	}

	switch {
	case len(concrete) == 0 && len(s.Enum) > 0:
		return TypeText, nullable
	case len(concrete) != 1:
		return TypeJSONB, nullable
	}

	switch concrete[0] {
	case "integer":
		switch s.Format {
		case "int16":
			return TypeSmallInt, nullable
		case "int32":
			return TypeInteger, nullable
		default:
			return TypeBigInt, nullable
		}
	case "number":
		return TypeDouble, nullable
	case "boolean":
		return TypeBoolean, nullable
	case "string":
		switch s.Format {
		case "date-time":
			return TypeTimestamp, nullable
		case "date":
			return TypeDate, nullable
		default:
			return TypeText, nullable
		}
	default:
		return TypeJSONB, nullable
	}
}

// variantType collapses oneOf/anyOf: a single non-null variant keeps its
// type, anything wider is stored as jsonb.
func variantType(variants []*jsonSchema, defs map[string]*jsonSchema, depth int) (ColumnType, bool) {
	nullable := false
	var picked []ColumnType
	for _, v := range variants {
		if v != nil && v.Ref == "" {
			if names := typeNames(v.Type); len(names) == 1 && names[0] == "null" {
				nullable = true
				continue
			}
		}
		t, n := columnType(v, defs, depth+1)
		nullable = nullable || n
		picked = append(picked, t)
	}
	if len(picked) == 1 {
		return picked[0], nullable
	}
	return TypeJSONB, nullable
}

// typeNames reads "type" given either as a string or an array of strings.
func typeNames(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	if raw[0] == '[' {
		var many []string
		if err := json.Unmarshal(raw, &many); err == nil {
			return many
		}
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}
	}
	return nil
}

// bitSize is the integer width of the type.
func (t ColumnType) bitSize() int {
	switch t {
	case TypeSmallInt:
		return 16
	case TypeInteger:
		return 32
	default:
		return 64
	}
}

// Decode converts a raw JSON field into a Go value for the column type.
// A missing or null field decodes to nil.
func (c Column) Decode(raw []byte) (interface{}, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch c.Type {
	case TypeSmallInt, TypeInteger, TypeBigInt:
		n, err := strconv.ParseInt(unquote(raw), 10, c.Type.bitSize())
		if err != nil {
			return nil, c.decodeError(raw, err)
		}
		switch c.Type {
		case TypeSmallInt:
			return int16(n), nil
		case TypeInteger:
			return int32(n), nil
		default:
			return n, nil
		}
	case TypeDouble:
		f, err := strconv.ParseFloat(unquote(raw), 64)
		if err != nil {
			return nil, c.decodeError(raw, err)
		}
		return f, nil
	case TypeBoolean:
		b, err := strconv.ParseBool(unquote(raw))
		if err != nil {
			return nil, c.decodeError(raw, err)
		}
		return b, nil
	case TypeTimestamp:
		ts, err := time.Parse(time.RFC3339Nano, unquote(raw))
		if err != nil {
			return nil, c.decodeError(raw, err)
		}
		return ts, nil
	case TypeDate:
		d, err := time.Parse("2006-01-02", unquote(raw))
		if err != nil {
			return nil, c.decodeError(raw, err)
		}
		return d, nil
	case TypeText:
		if raw[0] == '"' {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, c.decodeError(raw, err)
			}
			return s, nil
		}
		return string(raw), nil
	default:
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, nil
	}
}

func (c Column) decodeError(raw []byte, err error) error {
	preview := string(raw)
	if len(preview) > 64 {
		preview = preview[:64] + "..."
	}
	return errors.Wrap(err, errors.ErrorTypeData, fmt.Sprintf("cannot decode %q as %s", preview, c.Type)).
		WithDetail("column", c.Name)
}

// unquote strips surrounding JSON string quotes without unescaping.
func unquote(raw []byte) string {
	s := string(raw)
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}
