package replicator

import (
	"github.com/goccy/go-json"

	"github.com/ajitpratap0/dapsync/pkg/dap"
	"github.com/ajitpratap0/dapsync/pkg/errors"
	"github.com/ajitpratap0/dapsync/pkg/schema"
)

// rowValues decodes a record into column values in TableSchema.Columns order.
func rowValues(ts *schema.TableSchema, rec *dap.Record) ([]interface{}, error) {
	row := make([]interface{}, 0, len(ts.Keys)+len(ts.Values))

	keys, err := keyValues(ts, rec)
	if err != nil {
		return nil, err
	}
	row = append(row, keys...)

	for _, c := range ts.Values {
		v, err := decodeField(c, rec.Value)
		if err != nil {
			return nil, err
		}
		if v == nil && !c.Nullable {
			return nil, errors.Newf(errors.ErrorTypeData, "missing value for non-nullable column %s", c.Name)
		}
		row = append(row, v)
	}
	return row, nil
}

// keyValues decodes the primary key of a record in TableSchema.Keys order.
func keyValues(ts *schema.TableSchema, rec *dap.Record) ([]interface{}, error) {
	keys := make([]interface{}, 0, len(ts.Keys))
	for _, c := range ts.Keys {
		v, err := decodeField(c, rec.Key)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, errors.Newf(errors.ErrorTypeData, "record has no value for key column %s", c.Name)
		}
		keys = append(keys, v)
	}
	return keys, nil
}

func decodeField(c schema.Column, fields map[string]json.RawMessage) (interface{}, error) {
	raw, ok := fields[c.Name]
	if !ok {
		return nil, nil
	}
	return c.Decode(raw)
}
