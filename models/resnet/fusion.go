// Copyright 2026 The CroIK Authors. SPDX-License-Identifier: Apache-2.0

package resnet

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

// FusionOutputs are the outputs of FusionModule.
type FusionOutputs struct {
	// Logits shaped `[batch_size, num_classes]`.
	Logits *Node

	// FeatureMap is the fused feature map (before pooling), with the channels of one of the inputs.
	FeatureMap *Node
}

// FusionModule fuses two feature maps with the same shape (C channels each) into class scores:
//
//  1. Concatenate on the channels axis (2C channels).
//  2. Depthwise 3x3 convolution (one group per channel), batch normalization and ReLU.
//  3. 1x1 convolution to C channels, batch normalization and ReLU.
//  4. Average pooling with window spatial, flattened.
//  5. Linear layer (with bias) to numClasses.
//
// The flattened pooled features must have C elements, that is, spatial must cover the whole feature map.
//
// Variables are created under the "depthwise", "pointwise" and "classifier" scopes of ctx.
func FusionModule(ctx *context.Context, x, y *Node, numClasses, spatial int, cfg *Config) *FusionOutputs {
	if !x.Shape().Equal(y.Shape()) {
		exceptions.Panicf("FusionModule inputs must have the same shape, got %s and %s", x.Shape(), y.Shape())
	}
	if numClasses < 1 || spatial < 1 {
		exceptions.Panicf("FusionModule requires numClasses >= 1 and spatial >= 1, got %d and %d", numClasses, spatial)
	}
	channelsAxis := channelsAxisOf(x, cfg)
	channels := x.Shape().Dimensions[channelsAxis]
	batchSize := x.Shape().Dimensions[0]

	fused := Concatenate([]*Node{x, y}, channelsAxis)
	depthwiseCtx := ctx.In("depthwise")
	fused = convolution(depthwiseCtx, fused, cfg.ChannelsAxis, 2*channels, 3, 1, 2*channels, true)
	fused = activations.Relu(BatchNorm(depthwiseCtx, fused, cfg))
	fused = convBatchNorm(ctx.In("pointwise"), fused, cfg, channels, 1, 1, true)

	pooled := MeanPool(fused).ChannelsAxis(cfg.ChannelsAxis).Window(spatial).NoPadding().Done()
	pooled = Reshape(pooled, batchSize, -1)
	if pooled.Shape().Dimensions[1] != channels {
		exceptions.Panicf("FusionModule spatial window %d doesn't cover the feature map %s: pooled features shaped %s",
			spatial, fused.Shape(), pooled.Shape())
	}
	return &FusionOutputs{
		Logits:     layers.Dense(ctx.In("classifier"), pooled, true, numClasses),
		FeatureMap: fused,
	}
}
