// Copyright 2026 The CroIK Authors. SPDX-License-Identifier: Apache-2.0

package resnet

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

// BlockFn builds one residual block with the given "planes" and stride. The output has
// planes*expansion channels.
type BlockFn func(ctx *context.Context, x *Node, planes, stride int, cfg *Config) *Node

// BasicBlock is the residual unit with two 3x3 convolutions:
//
//	relu(bn(conv3x3(relu(bn(conv3x3(x, stride))))) + shortcut(x))
//
// The shortcut is the identity, unless the stride or the number of channels change, in which case
// it is a strided 1x1 convolution followed by batch normalization.
func BasicBlock(ctx *context.Context, x *Node, planes, stride int, cfg *Config) *Node {
	residual := shortcut(ctx, x, planes, stride, cfg)
	out := convBatchNorm(ctx.In("conv_1"), x, cfg, planes, 3, stride, true)
	out = convBatchNorm(ctx.In("conv_2"), out, cfg, planes, 3, 1, false)
	return activations.Relu(Add(out, residual))
}

// Bottleneck is the residual unit with a 1x1 reduction, a (strided) 3x3 convolution and a 1x1
// expansion to planes*BottleneckExpansion channels, each followed by batch normalization.
func Bottleneck(ctx *context.Context, x *Node, planes, stride int, cfg *Config) *Node {
	residual := shortcut(ctx, x, planes*BottleneckExpansion, stride, cfg)
	out := convBatchNorm(ctx.In("conv_1"), x, cfg, planes, 1, 1, true)
	out = convBatchNorm(ctx.In("conv_2"), out, cfg, planes, 3, stride, true)
	out = convBatchNorm(ctx.In("conv_3"), out, cfg, planes*BottleneckExpansion, 1, 1, false)
	return activations.Relu(Add(out, residual))
}

// shortcut returns x if it can be added directly to the block output, or its projection
// (the "downsample" path) otherwise.
func shortcut(ctx *context.Context, x *Node, outChannels, stride int, cfg *Config) *Node {
	inChannels := x.Shape().Dimensions[channelsAxisOf(x, cfg)]
	if stride == 1 && inChannels == outChannels {
		return x
	}
	return convBatchNorm(ctx.In("downsample"), x, cfg, outChannels, 1, stride, false)
}

// blockFn returns the BlockFn for the configured block type.
func (cfg *Config) blockFn() BlockFn {
	switch cfg.Block {
	case BlockBasic:
		return BasicBlock
	case BlockBottleneck:
		return Bottleneck
	}
	exceptions.Panicf("invalid block type %q", cfg.Block)
	return nil
}

// Stage stacks numBlocks residual blocks of the configured type. The first block uses the given stride
// (and a projection shortcut if needed), the remaining ones have stride 1.
//
// Block i is created under the scope "block_%02d" of ctx.
func Stage(ctx *context.Context, x *Node, planes, numBlocks, stride int, cfg *Config) *Node {
	if numBlocks < 1 {
		exceptions.Panicf("a stage needs at least one block, got numBlocks=%d", numBlocks)
	}
	block := cfg.blockFn()
	for blockIdx := range numBlocks {
		blockStride := 1
		if blockIdx == 0 {
			blockStride = stride
		}
		x = block(ctx.Inf("block_%02d", blockIdx), x, planes, blockStride, cfg)
	}
	assertChannels(x, cfg, planes*cfg.Expansion())
	return x
}

// trunkStage builds stage stageIdx (0-based) of a trunk, in the scope "stage_<stageIdx+1>" of ctx.
func trunkStage(ctx *context.Context, x *Node, stageIdx int, cfg *Config) *Node {
	return Stage(ctx.Inf("stage_%d", stageIdx+1), x, StageChannels[stageIdx], cfg.BlocksPerStage(),
		StageStrides[stageIdx], cfg)
}
