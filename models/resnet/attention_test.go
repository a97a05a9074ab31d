// Copyright 2026 The CroIK Authors. SPDX-License-Identifier: Apache-2.0

package resnet

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireOpenUnitInterval checks that all values of the tensor are in (0, 1).
func requireOpenUnitInterval(t *testing.T, tensor *tensors.Tensor) {
	for i, v := range tensors.MustCopyFlatData[float32](tensor) {
		require.Truef(t, v > 0 && v < 1, "value #%d is %g, not in (0, 1)", i, v)
	}
}

func TestChannelAttention(t *testing.T) {
	backend := graphtest.BuildTestBackend()

	t.Run("ChannelsFirst", func(t *testing.T) {
		ctx := context.New()
		gotT := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			x := ctx.RandomNormal(g, shapes.Make(dtypes.Float32, 2, 32, 8, 8))
			return ChannelAttention(ctx, x, 16, images.ChannelsFirst)
		})
		require.NoError(t, gotT.Shape().Check(dtypes.Float32, 2, 32, 1, 1))
		requireOpenUnitInterval(t, gotT)

		// The bottleneck is shared by the average and max descriptors.
		require.NoError(t, ctx.GetVariableByScopeAndName("/fc_1/conv", "weights").Shape().Check(dtypes.Float32, 2, 32, 1, 1))
		require.NoError(t, ctx.GetVariableByScopeAndName("/fc_2/conv", "weights").Shape().Check(dtypes.Float32, 32, 2, 1, 1))
		assert.Equal(t, 2, ctx.NumVariables()-countRngVariables(ctx))
	})

	t.Run("ChannelsLast-SmallChannels", func(t *testing.T) {
		// With fewer channels than the ratio, the hidden layer has 1 unit.
		ctx := context.New()
		gotT := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			x := ctx.RandomNormal(g, shapes.Make(dtypes.Float32, 3, 4, 4, 8))
			return ChannelAttention(ctx, x, 16, images.ChannelsLast)
		})
		require.NoError(t, gotT.Shape().Check(dtypes.Float32, 3, 1, 1, 8))
		requireOpenUnitInterval(t, gotT)
		require.NoError(t, ctx.GetVariableByScopeAndName("/fc_1/conv", "weights").Shape().Check(dtypes.Float32, 1, 1, 8, 1))
	})

	require.Panics(t, func() {
		_ = context.MustExecOnce(backend, context.New(), func(ctx *context.Context, g *Graph) *Node {
			return ChannelAttention(ctx, Ones(g, shapes.Make(dtypes.Float32, 1, 4, 2, 2)), 0, images.ChannelsFirst)
		})
	})
}

func TestSpatialAttention(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, kernelSize := range []int{3, 7} {
		ctx := context.New()
		gotT := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			x := ctx.RandomNormal(g, shapes.Make(dtypes.Float32, 2, 16, 32, 32))
			return SpatialAttention(ctx, x, kernelSize, images.ChannelsFirst)
		})
		require.NoError(t, gotT.Shape().Check(dtypes.Float32, 2, 1, 32, 32))
		requireOpenUnitInterval(t, gotT)
		require.NoError(t, ctx.GetVariableByScopeAndName("/conv", "weights").Shape().
			Check(dtypes.Float32, 1, 2, kernelSize, kernelSize))
	}

	require.Panics(t, func() {
		_ = context.MustExecOnce(backend, context.New(), func(ctx *context.Context, g *Graph) *Node {
			return SpatialAttention(ctx, Ones(g, shapes.Make(dtypes.Float32, 1, 4, 8, 8)), 4, images.ChannelsFirst)
		})
	})
}

func TestCrossAttention(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := MustNewConfig(8, 10)

	// Both maps are computed with the same modules: with equal inputs, the gated outputs are equal.
	ctx := context.New()
	results := context.MustExecOnceN(backend, ctx, func(ctx *context.Context, g *Graph) []*Node {
		x := ctx.RandomNormal(g, shapes.Make(dtypes.Float32, 2, 16, 8, 8))
		gated1, gated2 := crossAttention(ctx, x, x, cfg)
		return []*Node{gated1, gated2, x}
	})
	require.NoError(t, results[0].Shape().Check(dtypes.Float32, 2, 16, 8, 8))
	assert.Equal(t, results[0].Value(), results[1].Value())
	assert.NotEqual(t, results[0].Value(), results[2].Value())

	// Only one set of attention variables: fc_1, fc_2 and the spatial convolution.
	assert.NotNil(t, ctx.GetVariableByScopeAndName("/channel_attention/fc_1/conv", "weights"))
	assert.NotNil(t, ctx.GetVariableByScopeAndName("/channel_attention/fc_2/conv", "weights"))
	assert.NotNil(t, ctx.GetVariableByScopeAndName("/spatial_attention/conv", "weights"))
	assert.Equal(t, 3, ctx.NumVariables()-countRngVariables(ctx))

	// With different inputs, each branch is gated by the map of the other one.
	results = context.MustExecOnceN(backend, ctx.Reuse(), func(ctx *context.Context, g *Graph) []*Node {
		x1 := ctx.RandomNormal(g, shapes.Make(dtypes.Float32, 2, 16, 8, 8))
		x2 := MulScalar(x1, 2)
		gated1, gated2 := crossAttention(ctx, x1, x2, cfg)
		map1, map2 := AttentionMap(ctx, x1, cfg), AttentionMap(ctx, x2, cfg)
		return []*Node{
			ReduceAllMax(Abs(Sub(gated1, Mul(x1, map2)))),
			ReduceAllMax(Abs(Sub(gated2, Mul(x2, map1)))),
		}
	})
	assert.InDelta(t, float32(0), results[0].Value(), 1e-5)
	assert.InDelta(t, float32(0), results[1].Value(), 1e-5)
}

// countRngVariables returns the number of variables holding random number generator state.
func countRngVariables(ctx *context.Context) int {
	var count int
	for v := range ctx.IterVariables() {
		if v.Name() == context.RNGStateVariableName {
			count++
		}
	}
	return count
}
