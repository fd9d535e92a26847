package main

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/ajitpratap0/datastore/pkg/errors"
	"github.com/ajitpratap0/datastore/pkg/types"
)

// decodeRecords reads one JSON object per line. Integral numbers become
// int64 values and all other numbers float64.
func decodeRecords(r io.Reader, fn func(types.Record) error) error {
	dec := json.NewDecoder(bufio.NewReader(r))
	dec.UseNumber()
	for line := 1; ; line++ {
		var fields map[string]any
		if err := dec.Decode(&fields); err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, errors.ErrorTypeValidation, "invalid JSON record").
				WithDetail("record", line)
		}
		rec := make(types.Record, len(fields))
		for name, x := range fields {
			v, err := jsonValue(x)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeValidation, "invalid JSON record").
					WithDetail("record", line).
					WithDetail("column", name)
			}
			rec[name] = v
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

func jsonValue(x any) (types.Value, error) {
	switch v := x.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return types.Int64Value(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return types.Null, errors.Wrap(err, errors.ErrorTypeValidation, "invalid number")
		}
		return types.Float64Value(f), nil
	case map[string]any:
		uri, ok := v["uri"].(string)
		if !ok {
			return types.Null, errors.New(errors.ErrorTypeValidation, "objects must be links with a uri")
		}
		link := types.Link{URI: uri}
		link.DisplayText, _ = v["display_text"].(string)
		link.MimeType, _ = v["mime_type"].(string)
		return types.LinkValue(link), nil
	case []any:
		return types.Null, errors.New(errors.ErrorTypeValidation, "arrays are not supported")
	default:
		return types.FromAny(v)
	}
}

// parseKey parses a key bound of the given type. An empty string is
// unbounded.
func parseKey(s string, keyType types.Type) (types.Value, error) {
	if s == "" {
		return types.Null, nil
	}
	switch keyType.Family {
	case types.FamilyInt:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return types.Null, errors.Wrap(err, errors.ErrorTypeValidation, "key bound is not an integer").
				WithDetail("bound", s)
		}
		return types.Int64Value(i), nil
	case types.FamilyStr:
		return types.String(s), nil
	default:
		return types.Null, errors.Newf(errors.ErrorTypeValidation, "unsupported key type %s", keyType)
	}
}

// parseColumns turns "name" and "name=output" entries into a projection. No
// entries selects every column.
func parseColumns(entries []string) map[string]string {
	if len(entries) == 0 {
		return nil
	}
	columns := make(map[string]string, len(entries))
	for _, e := range entries {
		name, out, _ := strings.Cut(e, "=")
		columns[name] = out
	}
	return columns
}
