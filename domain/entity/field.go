package entity

import (
	"fmt"
	"math"
	"strconv"
)

// Kind classifies the value stored in a field.
type Kind int

// Kind values.
const (
	KindString Kind = iota
	KindInt
	KindUint
	KindFloat
	KindBool
	KindTime
	KindBytes
	KindReference
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindBytes:
		return "bytes"
	case KindReference:
		return "reference"
	default:
		return "string"
	}
}

// Field is one attribute of an entity type: the name used in documents and
// the relational column it is read from. Reference fields name a belongs-to
// relation whose column holds the referenced entity's key.
type Field struct {
	name   string
	column string
	kind   Kind
}

// NewField creates a Field.
func NewField(name, column string, kind Kind) Field {
	return Field{name: name, column: column, kind: kind}
}

// Name returns the field name.
func (f Field) Name() string { return f.name }

// Column returns the relational column name.
func (f Field) Column() string { return f.column }

// Kind returns the field kind.
func (f Field) Kind() Kind { return f.kind }

// IsReference reports whether the field points at another entity.
func (f Field) IsReference() bool { return f.kind == KindReference }

// Row is one relational row keyed by column name.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ToKey converts a scanned key value to int64.
func ToKey(v any) (int64, error) {
	switch k := v.(type) {
	case int64:
		return k, nil
	case int:
		return int64(k), nil
	case int32:
		return int64(k), nil
	case int16:
		return int64(k), nil
	case int8:
		return int64(k), nil
	case uint:
		return uintKey(uint64(k))
	case uint64:
		return uintKey(k)
	case uint32:
		return int64(k), nil
	case uint16:
		return int64(k), nil
	case uint8:
		return int64(k), nil
	case float64:
		if k < math.MinInt64 || k >= math.MaxInt64 {
			return 0, fmt.Errorf("key %v overflows int64", k)
		}
		if k != float64(int64(k)) {
			return 0, fmt.Errorf("key %v is not integral", k)
		}
		return int64(k), nil
	case []byte:
		return strconv.ParseInt(string(k), 10, 64)
	case string:
		return strconv.ParseInt(k, 10, 64)
	case nil:
		return 0, fmt.Errorf("key is null")
	default:
		return 0, fmt.Errorf("unsupported key type %T", v)
	}
}

func uintKey(k uint64) (int64, error) {
	if k > math.MaxInt64 {
		return 0, fmt.Errorf("key %d overflows int64", k)
	}
	return int64(k), nil
}
