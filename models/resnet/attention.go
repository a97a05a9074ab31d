// Copyright 2026 The CroIK Authors. SPDX-License-Identifier: Apache-2.0

package resnet

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

// ChannelAttention returns a per-channel scale in (0, 1) for the feature map x.
//
// The global average-pooled and max-pooled descriptors of x are each passed through the same
// bottleneck (1x1 convolution to max(channels/ratio, 1) channels, ReLU, 1x1 convolution back to
// channels, no biases), summed and mapped through a sigmoid.
//
// The result has the rank of x with all spatial dimensions set to 1: `[batch, channels, 1, 1]` for
// images.ChannelsFirst, so it can be multiplied directly by x.
//
// Variables are created under the "fc_1" and "fc_2" scopes of ctx. Calling it again on the same scope
// (to share the weights) requires ctx.Reuse().
func ChannelAttention(ctx *context.Context, x *Node, ratio int, channelsAxis images.ChannelsAxisConfig) *Node {
	if ratio < 1 {
		exceptions.Panicf("ChannelAttention ratio must be >= 1, got %d", ratio)
	}
	channels := x.Shape().Dimensions[images.GetChannelsAxis(x, channelsAxis)]
	hidden := max(channels/ratio, 1)
	spatialAxes := images.GetSpatialAxes(x, channelsAxis)

	sharedFC := func(ctx *context.Context, descriptor *Node) *Node {
		descriptor = Conv1x1(ctx.In("fc_1"), descriptor, hidden, 1, channelsAxis)
		descriptor = activations.Relu(descriptor)
		return Conv1x1(ctx.In("fc_2"), descriptor, channels, 1, channelsAxis)
	}
	avgOut := sharedFC(ctx, ReduceAndKeep(x, ReduceMean, spatialAxes...))
	maxOut := sharedFC(ctx.Reuse(), ReduceAndKeep(x, ReduceMax, spatialAxes...))
	return Sigmoid(Add(avgOut, maxOut))
}

// SpatialAttention returns a per-location scale in (0, 1) for the feature map x, with one channel and
// the same spatial dimensions as x: `[batch, 1, height, width]` for images.ChannelsFirst.
//
// The channel-wise mean and max of x are concatenated into a 2-channel map and convolved
// (kernelSize x kernelSize, padding kernelSize/2, no bias) into one channel, followed by a sigmoid.
func SpatialAttention(ctx *context.Context, x *Node, kernelSize int, channelsAxis images.ChannelsAxisConfig) *Node {
	if kernelSize < 1 || kernelSize%2 == 0 {
		exceptions.Panicf("SpatialAttention kernel size must be odd and positive, got %d", kernelSize)
	}
	channelsAxisIdx := images.GetChannelsAxis(x, channelsAxis)
	avgOut := ReduceAndKeep(x, ReduceMean, channelsAxisIdx)
	maxOut := ReduceAndKeep(x, ReduceMax, channelsAxisIdx)
	pooled := Concatenate([]*Node{avgOut, maxOut}, channelsAxisIdx)
	return Sigmoid(convolution(ctx, pooled, channelsAxis, 1, kernelSize, 1, 1, true))
}

// AttentionMap gates x by its ChannelAttention and turns the result into a SpatialAttention map:
//
//	SpatialAttention(ChannelAttention(x) * x)
//
// It uses the "channel_attention" and "spatial_attention" scopes of ctx.
func AttentionMap(ctx *context.Context, x *Node, cfg *Config) *Node {
	scale := ChannelAttention(ctx.In("channel_attention"), x, cfg.AttentionRatio, cfg.ChannelsAxis)
	return SpatialAttention(ctx.In("spatial_attention"), Mul(scale, x), cfg.SpatialKernelSize, cfg.ChannelsAxis)
}

// crossAttention gates each of the two branches by the attention map of the other one. Both maps are
// computed with the same attention modules (the same weights), stored under ctx.
func crossAttention(ctx *context.Context, x1, x2 *Node, cfg *Config) (gated1, gated2 *Node) {
	fromBranch2 := AttentionMap(ctx, x2, cfg)
	fromBranch1 := AttentionMap(ctx.Reuse(), x1, cfg)
	return Mul(x1, fromBranch2), Mul(x2, fromBranch1)
}
