package benchmarks

import (
	"flag"
	"fmt"
	"testing"

	"github.com/gomlx/netlower/graphdef"
	"github.com/gomlx/netlower/lower"
	"github.com/gomlx/netlower/network"
	"github.com/janpfeifer/go-benchmarks"
	"github.com/janpfeifer/must"
)

// Lowering benchmarks. They are disabled unless --bench_duration is set, e.g.:
//
//	go test ./internal/benchmarks -test.v -test.run=TestBenchLowering -bench_duration=10s

var (
	flagBenchDuration = flag.Duration("bench_duration", 0, "Benchmark duration, typically use 10 seconds. If left as 0, benchmark tests are disabled")

	// Number of convolution blocks of the benchmarked graphs.
	convStackDepths = []int{1, 8, 32, 128}
	convChannels    = 16
)

func floatConst(name string, dims ...int) *graphdef.NodeDef {
	return &graphdef.NodeDef{Name: name, Op: "Const", Attrs: map[string]graphdef.AttrValue{
		"dtype": graphdef.Type(graphdef.DTFloat),
		"value": graphdef.TensorAttr(&graphdef.Tensor{DType: graphdef.DTFloat, Dims: dims, FloatVal: []float32{0.01}}),
	}}
}

// convStackGraph builds depth blocks of Conv2D 3x3 (SAME) + BiasAdd + Relu over a NHWC image.
func convStackGraph(depth int) *graphdef.Graph {
	floatT := graphdef.Type(graphdef.DTFloat)
	nodes := []*graphdef.NodeDef{{
		Name: lower.InputPHPrefix + "0",
		Op:   "Placeholder",
		Attrs: map[string]graphdef.AttrValue{
			"dtype": floatT,
			"shape": graphdef.Shape(-1, 32, 32, convChannels),
		},
	}}
	x := nodes[0].Name
	for ii := range depth {
		prefix := fmt.Sprintf("block%03d/", ii)
		kernel := floatConst(prefix+"kernel", 3, 3, convChannels, convChannels)
		bias := floatConst(prefix+"bias", convChannels)
		conv := &graphdef.NodeDef{Name: prefix + "conv", Op: "Conv2D", Inputs: []string{x, kernel.Name},
			Attrs: map[string]graphdef.AttrValue{
				"T":       floatT,
				"strides": graphdef.Ints(1, 1, 1, 1),
				"padding": graphdef.Str("SAME"),
			}}
		biasAdd := &graphdef.NodeDef{Name: prefix + "bias_add", Op: "BiasAdd", Inputs: []string{conv.Name, bias.Name},
			Attrs: map[string]graphdef.AttrValue{"T": floatT}}
		relu := &graphdef.NodeDef{Name: prefix + "relu", Op: "Relu", Inputs: []string{biasAdd.Name},
			Attrs: map[string]graphdef.AttrValue{"T": floatT}}
		nodes = append(nodes, kernel, bias, conv, biasAdd, relu)
		x = relu.Name
	}
	nodes = append(nodes, &graphdef.NodeDef{Name: lower.OutputPHPrefix + "0", Op: "Identity", Inputs: []string{x},
		Attrs: map[string]graphdef.AttrValue{"T": floatT}})
	return &graphdef.Graph{Nodes: nodes}
}

func TestBenchLowering(t *testing.T) {
	if testing.Short() {
		fmt.Printf("Skipping lowering benchmark test: --short is set\n")
		t.SkipNow()
	}
	if *flagBenchDuration == 0 {
		fmt.Printf("Skipping lowering benchmark test: --bench_duration is not set\n")
		t.SkipNow()
	}
	for _, precision := range []lower.PrecisionMode{lower.FP32, lower.INT8} {
		cfg := lower.Config{Precision: precision}
		for depthIdx, depth := range convStackDepths {
			g := convStackGraph(depth)
			// Lower once outside the benchmark, so failures are reported as such.
			c := must.M1(lower.ConvertGraph(g, network.New(), cfg, nil))
			numLayers := len(c.Network().Layers())

			benchFn := benchmarks.NamedFunction{
				Name: fmt.Sprintf("%s/%s/depth=%03d/layers=%d", t.Name(), precision, depth, numLayers),
				Func: func() {
					_ = must.M1(lower.ConvertGraph(g, network.New(), cfg, nil))
				},
			}
			benchmarks.New(benchFn).
				WithWarmUps(10).
				WithDuration(*flagBenchDuration).
				WithHeader(precision == lower.FP32 && depthIdx == 0).
				Done()
		}
	}
}
