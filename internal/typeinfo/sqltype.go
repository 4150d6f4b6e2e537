// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typeinfo

import (
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// SQLType is a SQL type tag written after a "|" in a declaration or an
// expression. A tagged value is converted before it is sent to the driver.
type SQLType int

const (
	NoSQLType SQLType = iota
	Varchar
	Char
	NVarchar
	LongVarchar
	Clob
	Integer
	SmallInt
	TinyInt
	BigInt
	Boolean
	Bit
	Double
	Float
	Real
	Decimal
	Numeric
	Date
	Time
	Timestamp
	Blob
	Binary
	VarBinary
	Null
	Other
)

var sqlTypeNames = map[string]SQLType{
	"VARCHAR":     Varchar,
	"CHAR":        Char,
	"NVARCHAR":    NVarchar,
	"LONGVARCHAR": LongVarchar,
	"CLOB":        Clob,
	"INTEGER":     Integer,
	"SMALLINT":    SmallInt,
	"TINYINT":     TinyInt,
	"BIGINT":      BigInt,
	"BOOLEAN":     Boolean,
	"BIT":         Bit,
	"DOUBLE":      Double,
	"FLOAT":       Float,
	"REAL":        Real,
	"DECIMAL":     Decimal,
	"NUMERIC":     Numeric,
	"DATE":        Date,
	"TIME":        Time,
	"TIMESTAMP":   Timestamp,
	"BLOB":        Blob,
	"BINARY":      Binary,
	"VARBINARY":   VarBinary,
	"NULL":        Null,
	"OTHER":       Other,
}

// ParseSQLType returns the tag with the given name. The empty name gives
// NoSQLType.
func ParseSQLType(name string) (SQLType, error) {
	if name == "" {
		return NoSQLType, nil
	}
	t, ok := sqlTypeNames[name]
	if !ok {
		return NoSQLType, fmt.Errorf("unknown SQL type %q", name)
	}
	return t, nil
}

func (t SQLType) String() string {
	for name, v := range sqlTypeNames {
		if v == t {
			return name
		}
	}
	return ""
}

var (
	stringType  = reflect.TypeOf("")
	int64Type   = reflect.TypeOf(int64(0))
	float64Type = reflect.TypeOf(float64(0))
	boolType    = reflect.TypeOf(false)
)

// Convert converts a value to be bound as a parameter of the SQL type t. Nil
// is kept as nil and NoSQLType and Other leave the value unchanged.
func (t SQLType) Convert(v any) (any, error) {
	sv, ok := deref(v)
	if !ok || t == Null {
		return nil, nil
	}
	var target reflect.Type
	switch t {
	case NoSQLType, Other:
		return sv.Interface(), nil
	case Varchar, Char, NVarchar, LongVarchar, Clob, Decimal, Numeric:
		return formatText(sv)
	case Integer, SmallInt, TinyInt, BigInt:
		target = int64Type
	case Boolean, Bit:
		target = boolType
	case Double, Float, Real:
		target = float64Type
	case Date, Time, Timestamp:
		target = timeType
	case Blob, Binary, VarBinary:
		if sv.Kind() == reflect.String {
			return []byte(sv.String()), nil
		}
		target = bytesType
	default:
		return nil, fmt.Errorf("internal error: unknown SQL type %d", t)
	}
	cv, err := Decode(sv.Interface(), target)
	if err != nil {
		return nil, fmt.Errorf("cannot convert value for %s: %s", t, err)
	}
	return cv.Interface(), nil
}

// formatText renders a value as text.
func formatText(sv reflect.Value) (any, error) {
	switch sv.Kind() {
	case reflect.String:
		return sv.String(), nil
	case reflect.Bool:
		return strconv.FormatBool(sv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(sv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(sv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(sv.Float(), 'f', -1, sv.Type().Bits()), nil
	case reflect.Slice:
		if sv.Type().Elem().Kind() == reflect.Uint8 {
			return string(sv.Bytes()), nil
		}
	}
	if tm, ok := sv.Interface().(time.Time); ok {
		return tm.Format(time.RFC3339Nano), nil
	}
	if s, ok := sv.Interface().(fmt.Stringer); ok {
		return s.String(), nil
	}
	return nil, fmt.Errorf("cannot convert %s to text", sv.Type())
}
