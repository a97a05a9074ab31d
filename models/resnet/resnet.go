// Copyright 2026 The CroIK Authors. SPDX-License-Identifier: Apache-2.0

// Package resnet implements CIFAR-style residual networks and their two-branch variants used for
// feature fusion and cross-branch knowledge transfer:
//
//   - ResNet: stem, 3 residual stages (16, 32 and 64 channels), average pooling and a linear classifier.
//   - FFLResNet: two branches gated by each other's ChannelAttention+SpatialAttention maps, before and
//     after their (not weight-tied) residual stages, each with its own classifier.
//   - SelfCrossResNet: two independent trunks that, after each stage, project their feature maps to
//     the shape of every later stage (FusionLayer), and report the accumulated "cross-fusion knowledge".
//
// Plus the building blocks: Conv3x3, BasicBlock, Bottleneck, Stage, ChannelAttention, SpatialAttention
// and the standalone FusionModule.
//
// The models are configured with Config, which can be read from the context hyperparameters with
// ConfigFromContext. Images are by default shaped `[batch_size, 3, height, width]` (images.ChannelsFirst),
// with height = width = 32 for the CIFAR-style stem.
//
// The *ModelGraph functions implement train.ModelFn, and SelectModelFn picks one based on the "model"
// hyperparameter.
package resnet

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"k8s.io/klog/v2"
)

// ResNet builds the single-branch residual network and returns the class scores (logits) shaped
// `[batch_size, cfg.NumClasses]`.
//
// Variables are created under the "stem", "stage_1", "stage_2", "stage_3" and "classifier" scopes of ctx.
func ResNet(ctx *context.Context, cfg *Config, images *Node) *Node {
	cfg.mustValidate()
	klog.V(1).Infof("resnet.ResNet: %s", cfg)
	x := Stem(ctx.In("stem"), images, cfg)
	for stageIdx := range StageChannels {
		x = trunkStage(ctx, x, stageIdx, cfg)
		klog.V(2).Infof("resnet.ResNet stage %d: %s", stageIdx+1, x.Shape())
	}
	return classifier(ctx.In("classifier"), poolAndFlatten(x, cfg), cfg)
}

// ResNetModelGraph implements train.ModelFn for ResNet, configured by the context hyperparameters
// (see ConfigFromContext).
//
// inputs: only one tensor, the images. It returns the logits.
func ResNetModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	return modelGraphWithConfig(mustConfigFromContext(ctx), ModelResNet)(ctx, spec, inputs)
}
