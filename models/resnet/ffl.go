// Copyright 2026 The CroIK Authors. SPDX-License-Identifier: Apache-2.0

package resnet

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"k8s.io/klog/v2"
)

// FFLOutputs are the outputs of FFLResNet.
type FFLOutputs struct {
	// Logits of each branch, shaped `[batch_size, num_classes]`.
	Logits [2]*Node

	// FeatureMaps holds the outputs of the last stage of branch 1 and branch 2, before the final
	// attention gating.
	FeatureMaps []*Node
}

// FFLResNet builds the two-branch "feature fusion learning" network.
//
// Both branches start from the same stem (same weights, same input), so it is computed once and
// its output feeds both branches. In training mode the stem batch normalization moving averages are
// thus updated once per step, with the batch statistics both branches would have seen, where a
// per-branch recomputation would update them twice. Each branch is then gated by
// the attention map (see AttentionMap) computed on the other branch, goes through its own 3
// residual stages, is gated again by a second attention pair computed on the other branch's
// last-stage output, and is classified by its own linear layer.
//
// Variables are created under "stem", "input_attention", "branch_1", "branch_2", "output_attention",
// "classifier_1" and "classifier_2" scopes of ctx.
func FFLResNet(ctx *context.Context, cfg *Config, images *Node) *FFLOutputs {
	cfg.mustValidate()
	klog.V(1).Infof("resnet.FFLResNet: %s", cfg)

	// The stem is shared: both branches would compute the exact same values.
	stem := Stem(ctx.In("stem"), images, cfg)
	klog.V(2).Infof("resnet.FFLResNet stem: %s", stem.Shape())
	x1, x2 := crossAttention(ctx.In("input_attention"), stem, stem, cfg)

	branch1, branch2 := ctx.In("branch_1"), ctx.In("branch_2")
	for stageIdx := range StageChannels {
		x1 = trunkStage(branch1, x1, stageIdx, cfg)
		x2 = trunkStage(branch2, x2, stageIdx, cfg)
		klog.V(2).Infof("resnet.FFLResNet stage %d: branch_1 %s, branch_2 %s", stageIdx+1, x1.Shape(), x2.Shape())
	}
	outputs := &FFLOutputs{FeatureMaps: []*Node{x1, x2}}

	x1, x2 = crossAttention(ctx.In("output_attention"), x1, x2, cfg)
	outputs.Logits[0] = classifier(ctx.In("classifier_1"), poolAndFlatten(x1, cfg), cfg)
	outputs.Logits[1] = classifier(ctx.In("classifier_2"), poolAndFlatten(x2, cfg), cfg)
	return outputs
}

// FFLModelGraph implements train.ModelFn for FFLResNet, configured by the context hyperparameters
// (see ConfigFromContext).
//
// inputs: only one tensor, the images. It returns `[logits_1, logits_2, feature_map_1, feature_map_2]`.
func FFLModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	return modelGraphWithConfig(mustConfigFromContext(ctx), ModelFFLResNet)(ctx, spec, inputs)
}
