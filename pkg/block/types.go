package block

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// Type tags the value type of a DataBlock column.
type Type int8

const (
	TypeInt32 Type = iota
	TypeInt64
	TypeFloat
	TypeDouble
	TypeBoolean
	TypeText
)

func (t Type) String() string {
	switch t {
	case TypeInt32:
		return "INT32"
	case TypeInt64:
		return "INT64"
	case TypeFloat:
		return "FLOAT"
	case TypeDouble:
		return "DOUBLE"
	case TypeBoolean:
		return "BOOLEAN"
	case TypeText:
		return "TEXT"
	default:
		return fmt.Sprintf("Type(%d)", int8(t))
	}
}

// ArrowType returns the Arrow data type used to store columns of this type.
func (t Type) ArrowType() arrow.DataType {
	switch t {
	case TypeInt32:
		return arrow.PrimitiveTypes.Int32
	case TypeInt64:
		return arrow.PrimitiveTypes.Int64
	case TypeFloat:
		return arrow.PrimitiveTypes.Float32
	case TypeDouble:
		return arrow.PrimitiveTypes.Float64
	case TypeBoolean:
		return arrow.FixedWidthTypes.Boolean
	case TypeText:
		return arrow.BinaryTypes.String
	default:
		return nil
	}
}

// TypeFromArrow maps an Arrow data type back to its column tag.
func TypeFromArrow(dt arrow.DataType) (Type, error) {
	switch dt.ID() {
	case arrow.INT32:
		return TypeInt32, nil
	case arrow.INT64:
		return TypeInt64, nil
	case arrow.FLOAT32:
		return TypeFloat, nil
	case arrow.FLOAT64:
		return TypeDouble, nil
	case arrow.BOOL:
		return TypeBoolean, nil
	case arrow.STRING:
		return TypeText, nil
	default:
		return 0, fmt.Errorf("unsupported arrow type: %s", dt)
	}
}

// Field names and types one value column.
type Field struct {
	Name string
	Type Type
}

// Fields builds positional fields named value0, value1, ... for the given types.
func Fields(types ...Type) []Field {
	fields := make([]Field, len(types))
	for i, t := range types {
		fields[i] = Field{Name: fmt.Sprintf("value%d", i), Type: t}
	}
	return fields
}

func arrowSchema(fields []Field) *arrow.Schema {
	af := make([]arrow.Field, 0, len(fields)+1)
	af = append(af, arrow.Field{Name: TimeColumnName, Type: arrow.PrimitiveTypes.Int64})
	for _, f := range fields {
		af = append(af, arrow.Field{Name: f.Name, Type: f.Type.ArrowType(), Nullable: true})
	}
	return arrow.NewSchema(af, nil)
}
