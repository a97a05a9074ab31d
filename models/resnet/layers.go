// Copyright 2026 The CroIK Authors. SPDX-License-Identifier: Apache-2.0

package resnet

// This file holds the convolution, normalization and pooling helpers shared by all models.

import (
	"math"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
)

// KaimingNormalFanOut returns a variable initializer for convolution kernels that samples from
// `N(0, sqrt(2/fanOut))`, where fanOut is `kernel_height * kernel_width * output_channels`.
//
// channelsAxis tells the layout of the kernel: `[out, in, <spatial...>]` for images.ChannelsFirst and
// `[<spatial...>, in, out]` for images.ChannelsLast. Rank 2 shapes are taken as `[in, out]`, and
// variables of rank <= 1 (biases) are initialized to zero.
//
// It uses the context random state, so results are reproducible with Context.SetRNGStateFromSeed.
func KaimingNormalFanOut(ctx *context.Context, channelsAxis images.ChannelsAxisConfig) context.VariableInitializer {
	return func(g *Graph, shape shapes.Shape) *Node {
		if !shape.DType.IsFloat() || shape.Rank() <= 1 {
			return Zeros(g, shape)
		}
		stddev := math.Sqrt(2.0 / float64(kernelFanOut(shape, channelsAxis)))
		return MulScalar(ctx.RandomNormal(g, shape), stddev)
	}
}

// kernelFanOut returns the receptive field size times the number of output channels.
func kernelFanOut(shape shapes.Shape, channelsAxis images.ChannelsAxisConfig) int {
	rank := shape.Rank()
	if rank == 2 {
		return shape.Dimensions[1]
	}
	if channelsAxis == images.ChannelsFirst {
		fanOut := shape.Dimensions[0]
		for _, dim := range shape.Dimensions[2:] {
			fanOut *= dim
		}
		return fanOut
	}
	fanOut := shape.Dimensions[rank-1]
	for _, dim := range shape.Dimensions[:rank-2] {
		fanOut *= dim
	}
	return fanOut
}

// convolution without bias, with kernels initialized with KaimingNormalFanOut.
// If pad is true, each spatial side is padded with kernelSize/2, which keeps the spatial size for odd kernels
// (before striding). With groups > 1 the input and output channels are split into that many independent groups.
// The kernel variable "weights" is created under the "conv" sub-scope of ctx.
func convolution(ctx *context.Context, x *Node, channelsAxis images.ChannelsAxisConfig,
	outChannels, kernelSize, stride, groups int, pad bool) *Node {
	inChannels := x.Shape().Dimensions[images.GetChannelsAxis(x, channelsAxis)]
	if groups < 1 || inChannels%groups != 0 || outChannels%groups != 0 {
		exceptions.Panicf("invalid convolution groups=%d for %d input channels and %d output channels",
			groups, inChannels, outChannels)
	}
	numSpatialDims := x.Rank() - 2
	kernelShape := shapes.Make(x.DType())
	if channelsAxis == images.ChannelsFirst {
		kernelShape.Dimensions = append(kernelShape.Dimensions, outChannels, inChannels/groups)
		for range numSpatialDims {
			kernelShape.Dimensions = append(kernelShape.Dimensions, kernelSize)
		}
	} else {
		for range numSpatialDims {
			kernelShape.Dimensions = append(kernelShape.Dimensions, kernelSize)
		}
		kernelShape.Dimensions = append(kernelShape.Dimensions, inChannels/groups, outChannels)
	}
	kernel := ctx.In("conv").
		WithInitializer(KaimingNormalFanOut(ctx, channelsAxis)).
		VariableWithShape("weights", kernelShape).
		ValueGraph(x.Graph())

	conv := Convolve(x, kernel).
		ChannelsAxis(channelsAxis).
		Strides(stride).
		ChannelGroupCount(groups)
	if pad && kernelSize > 1 {
		paddings := make([][2]int, numSpatialDims)
		for axis := range paddings {
			paddings[axis] = [2]int{kernelSize / 2, kernelSize / 2}
		}
		conv = conv.PaddingPerDim(paddings)
	} else {
		conv = conv.NoPadding()
	}
	return conv.Done()
}

// Conv3x3 is a 3x3 convolution with padding 1, the given stride and no bias.
// The number of input channels is taken from x.
func Conv3x3(ctx *context.Context, x *Node, outChannels, stride int, channelsAxis images.ChannelsAxisConfig) *Node {
	return convolution(ctx, x, channelsAxis, outChannels, 3, stride, 1, true)
}

// Conv1x1 is a 1x1 convolution with the given stride, no padding and no bias.
func Conv1x1(ctx *context.Context, x *Node, outChannels, stride int, channelsAxis images.ChannelsAxisConfig) *Node {
	return convolution(ctx, x, channelsAxis, outChannels, 1, stride, 1, false)
}

// BatchNorm normalizes x over every axis except the channels axis, using the momentum and epsilon in cfg.
// Variables are created under the "batch_normalization" sub-scope of ctx.
func BatchNorm(ctx *context.Context, x *Node, cfg *Config) *Node {
	return batchnorm.New(ctx, x, channelsAxisOf(x, cfg)).
		Momentum(cfg.BatchNormMomentum).
		Epsilon(cfg.BatchNormEpsilon).
		Done()
}

// convBatchNorm applies a convolution followed by batch normalization and, optionally, a ReLU.
func convBatchNorm(ctx *context.Context, x *Node, cfg *Config, outChannels, kernelSize, stride int, relu bool) *Node {
	x = convolution(ctx, x, cfg.ChannelsAxis, outChannels, kernelSize, stride, 1, kernelSize > 1)
	x = BatchNorm(ctx, x, cfg)
	if relu {
		x = activations.Relu(x)
	}
	return x
}

// Stem is the first layer of every trunk: 3x3 convolution to StemChannels, batch normalization and ReLU.
func Stem(ctx *context.Context, images *Node, cfg *Config) *Node {
	images.AssertRank(4)
	return convBatchNorm(ctx, images, cfg, StemChannels, 3, 1, true)
}

// poolAndFlatten applies the final FinalPoolWindow x FinalPoolWindow average pooling and flattens
// the result to `[batch_size, features]`.
func poolAndFlatten(x *Node, cfg *Config) *Node {
	batchSize := x.Shape().Dimensions[0]
	x = MeanPool(x).ChannelsAxis(cfg.ChannelsAxis).Window(FinalPoolWindow).NoPadding().Done()
	return Reshape(x, batchSize, -1)
}

// classifier is the linear layer (with bias) mapping pooled features to class scores.
// The features must have cfg.FeatureChannels() elements per example, that is, the last feature
// map must be FinalPoolWindow x FinalPoolWindow (32x32 input images).
func classifier(ctx *context.Context, features *Node, cfg *Config) *Node {
	features.AssertDims(features.Shape().Dimensions[0], cfg.FeatureChannels())
	logits := layers.Dense(ctx, features, true, cfg.NumClasses)
	logits.AssertDims(features.Shape().Dimensions[0], cfg.NumClasses)
	return logits
}

func channelsAxisOf(x *Node, cfg *Config) int {
	return images.GetChannelsAxis(x, cfg.ChannelsAxis)
}

// assertChannels panics if x doesn't have the given number of channels.
func assertChannels(x *Node, cfg *Config, channels int) {
	if got := x.Shape().Dimensions[channelsAxisOf(x, cfg)]; got != channels {
		exceptions.Panicf("expected feature map with %d channels, got shape %s", channels, x.Shape())
	}
}
