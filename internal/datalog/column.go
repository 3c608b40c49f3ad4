package datalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
)

// ColumnKind identifies which of the three value columns a row populates.
type ColumnKind int

const (
	ColumnInt ColumnKind = iota
	ColumnFloat
	ColumnString
)

// Codec is the type-directed mapping between a log variable's Go value type
// and the three-column schema (spec §4.E / §6). Implement it for a type that
// needs custom round-tripping, most notably an enum, which must reconstruct
// its member from the underlying int it was stored as; everything else is
// covered by DefaultCodec.
type Codec[T any] interface {
	// Encode returns which column the value belongs in and that column's
	// value; the other two return values are ignored by the caller.
	Encode(value T) (kind ColumnKind, intVal int64, floatVal float64, strVal string, err error)
	Decode(intVal sql.NullInt64, floatVal sql.NullFloat64, strVal sql.NullString) (T, error)
}

// defaultCodec implements the type-directed mapping named by spec §4.E:
// bool and the integer kinds go to value_int, float32/float64 to
// value_float, string to value_str, and anything else (structs, slices,
// maps) is JSON-encoded into value_str.
type defaultCodec[T any] struct{}

// DefaultCodec returns the type-directed codec used when a log variable is
// constructed without an explicit one.
func DefaultCodec[T any]() Codec[T] { return defaultCodec[T]{} }

func (defaultCodec[T]) Encode(value T) (ColumnKind, int64, float64, string, error) {
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			return ColumnInt, 1, 0, "", nil
		}
		return ColumnInt, 0, 0, "", nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return ColumnInt, v.Int(), 0, "", nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return ColumnInt, int64(v.Uint()), 0, "", nil
	case reflect.Float32, reflect.Float64:
		return ColumnFloat, 0, v.Float(), "", nil
	case reflect.String:
		return ColumnString, 0, 0, v.String(), nil
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return 0, 0, 0, "", fmt.Errorf("json-encode log value: %w", err)
		}
		return ColumnString, 0, 0, string(data), nil
	}
}

func (defaultCodec[T]) Decode(intVal sql.NullInt64, floatVal sql.NullFloat64, strVal sql.NullString) (T, error) {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil {
		return zero, fmt.Errorf("data log: cannot decode into a nil interface type")
	}
	switch t.Kind() {
	case reflect.Bool:
		out := reflect.New(t).Elem()
		out.SetBool(intVal.Int64 != 0)
		return out.Interface().(T), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		out := reflect.New(t).Elem()
		out.SetInt(intVal.Int64)
		return out.Interface().(T), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		out := reflect.New(t).Elem()
		out.SetUint(uint64(intVal.Int64))
		return out.Interface().(T), nil
	case reflect.Float32, reflect.Float64:
		out := reflect.New(t).Elem()
		out.SetFloat(floatVal.Float64)
		return out.Interface().(T), nil
	case reflect.String:
		out := reflect.New(t).Elem()
		out.SetString(strVal.String)
		return out.Interface().(T), nil
	default:
		var result T
		if strVal.Valid && strVal.String != "" {
			if err := json.Unmarshal([]byte(strVal.String), &result); err != nil {
				return zero, fmt.Errorf("json-decode log value: %w", err)
			}
		}
		return result, nil
	}
}
