package graphdef

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/netlower/status"
)

// DataType is the name of a source graph element type, e.g. "DT_FLOAT".
type DataType string

const (
	DTFloat  DataType = "DT_FLOAT"
	DTHalf   DataType = "DT_HALF"
	DTDouble DataType = "DT_DOUBLE"
	DTInt8   DataType = "DT_INT8"
	DTInt16  DataType = "DT_INT16"
	DTInt32  DataType = "DT_INT32"
	DTInt64  DataType = "DT_INT64"
	DTUint8  DataType = "DT_UINT8"
	DTUint16 DataType = "DT_UINT16"
	DTBool   DataType = "DT_BOOL"
)

var dataTypeToDType = map[DataType]dtypes.DType{
	DTFloat:  dtypes.Float32,
	DTHalf:   dtypes.Float16,
	DTDouble: dtypes.Float64,
	DTInt8:   dtypes.Int8,
	DTInt16:  dtypes.Int16,
	DTInt32:  dtypes.Int32,
	DTInt64:  dtypes.Int64,
	DTUint8:  dtypes.Uint8,
	DTUint16: dtypes.Uint16,
	DTBool:   dtypes.Bool,
}

// DType converts the source data type to a GoMLX dtype.
func (dt DataType) DType() (dtypes.DType, error) {
	dtype, found := dataTypeToDType[dt]
	if !found {
		return dtypes.InvalidDType, status.InvalidArgumentf("unsupported/unknown data type %q", string(dt))
	}
	return dtype, nil
}

var dtypeToDataType = func() map[dtypes.DType]DataType {
	m := make(map[dtypes.DType]DataType, len(dataTypeToDType))
	for dt, dtype := range dataTypeToDType {
		m[dtype] = dt
	}
	return m
}()

// DataTypeFor is the reverse of DataType.DType: it returns the source data type for a GoMLX dtype.
func DataTypeFor(dtype dtypes.DType) (DataType, error) {
	dt, found := dtypeToDataType[dtype]
	if !found {
		return "", status.InvalidArgumentf("dtype %s has no source data type", dtype)
	}
	return dt, nil
}
