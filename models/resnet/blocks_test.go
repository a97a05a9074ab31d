// Copyright 2026 The CroIK Authors. SPDX-License-Identifier: Apache-2.0

package resnet

import (
	"path"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlocks(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := MustNewConfig(8, 10)
	ctx := context.New()

	testCases := []struct {
		name           string
		block          BlockFn
		input          []int
		planes, stride int
		want           []int
		downsample     bool
	}{
		{"basic-identity", BasicBlock, []int{2, 16, 8, 8}, 16, 1, []int{2, 16, 8, 8}, false},
		{"basic-stride2", BasicBlock, []int{2, 16, 8, 8}, 32, 2, []int{2, 32, 4, 4}, true},
		{"basic-channels", BasicBlock, []int{2, 16, 8, 8}, 32, 1, []int{2, 32, 8, 8}, true},
		{"bottleneck-expand", Bottleneck, []int{2, 16, 8, 8}, 16, 1, []int{2, 64, 8, 8}, true},
		{"bottleneck-identity", Bottleneck, []int{2, 64, 8, 8}, 16, 1, []int{2, 64, 8, 8}, false},
		{"bottleneck-stride2", Bottleneck, []int{2, 64, 8, 8}, 32, 2, []int{2, 128, 4, 4}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gotT := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
				ctx = ctx.In(path.Base(t.Name()))
				x := ctx.RandomNormal(g, shapes.Make(dtypes.Float32, tc.input...))
				return tc.block(ctx, x, tc.planes, tc.stride, cfg)
			})
			require.NoError(t, gotT.Shape().Check(dtypes.Float32, tc.want...))
			downsample := ctx.GetVariableByScopeAndName("/"+tc.name+"/downsample/conv", "weights")
			assert.Equal(t, tc.downsample, downsample != nil)

			// Blocks end with a ReLU.
			for _, v := range gotT.Value().([][][][]float32)[0][0][0] {
				assert.GreaterOrEqual(t, v, float32(0))
			}
		})
	}
}

func TestStage(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := MustNewConfig(20, 10)
	ctx := context.New()
	gotT := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		x := Ones(g, shapes.Make(dtypes.Float32, 2, 16, 16, 16))
		return Stage(ctx.In("stage"), x, 32, cfg.BlocksPerStage(), 2, cfg)
	})
	require.NoError(t, gotT.Shape().Check(dtypes.Float32, 2, 32, 8, 8))

	// Only the first block changes the shape, so only it has a projection shortcut.
	for blockIdx, scope := range []string{"/stage/block_00", "/stage/block_01", "/stage/block_02"} {
		kernel := ctx.GetVariableByScopeAndName(scope+"/conv_1/conv", "weights")
		require.NotNilf(t, kernel, "missing block #%d", blockIdx)
		assert.Equal(t, blockIdx == 0, ctx.GetVariableByScopeAndName(scope+"/downsample/conv", "weights") != nil)
	}
	assert.Nil(t, ctx.GetVariableByScopeAndName("/stage/block_03/conv_1/conv", "weights"))

	require.Panics(t, func() {
		_ = context.MustExecOnce(backend, context.New(), func(ctx *context.Context, g *Graph) *Node {
			return Stage(ctx, Ones(g, shapes.Make(dtypes.Float32, 2, 16, 8, 8)), 16, 0, 1, cfg)
		})
	})
}
