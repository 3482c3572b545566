package lower

import (
	"strings"

	"github.com/gomlx/netlower/graphdef"
	"github.com/gomlx/netlower/status"
	"github.com/pkg/errors"
)

// PrecisionMode is the numeric precision the network is built for.
type PrecisionMode int

const (
	FP32 PrecisionMode = iota
	FP16
	INT8
)

var precisionModeNames = []string{"FP32", "FP16", "INT8"}

// String implements fmt.Stringer.
func (m PrecisionMode) String() string {
	if m >= 0 && int(m) < len(precisionModeNames) {
		return precisionModeNames[m]
	}
	return "PrecisionMode(?)"
}

// ParsePrecisionMode parses "FP32", "FP16" or "INT8" (case-insensitive). An empty string is FP32.
func ParsePrecisionMode(s string) (PrecisionMode, error) {
	if s == "" {
		return FP32, nil
	}
	for ii, name := range precisionModeNames {
		if strings.EqualFold(s, name) {
			return PrecisionMode(ii), nil
		}
	}
	return FP32, status.InvalidArgumentf("unknown precision mode %q, valid values are %q", s, precisionModeNames)
}

// Config holds the options of a lowering pass.
type Config struct {
	// Precision the network is built for. In INT8, every tensor needs a quantization range, either
	// from calibration or from the ranges collected during the pass.
	Precision PrecisionMode

	// UseCalibration indicates INT8 ranges will come from a calibration step, so ranges are not derived
	// from constants and missing ranges are not reported.
	UseCalibration bool
}

// ConfigFromGraph returns the Config stored in the graph descriptor.
func ConfigFromGraph(g *graphdef.Graph) (Config, error) {
	precision, err := ParsePrecisionMode(g.Precision)
	if err != nil {
		return Config{}, errors.WithMessage(err, "graph precision")
	}
	return Config{Precision: precision, UseCalibration: g.UseCalibration}, nil
}

// int8WithoutCalibration is true when INT8 ranges must be collected by the pass itself.
func (c Config) int8WithoutCalibration() bool {
	return c.Precision == INT8 && !c.UseCalibration
}
