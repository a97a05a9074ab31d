// Copyright 2026 The CroIK Authors. SPDX-License-Identifier: Apache-2.0

package resnet

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"k8s.io/klog/v2"
)

// SelfCrossOutputs are the outputs of SelfCrossResNet.
type SelfCrossOutputs struct {
	// Logits of each trunk, shaped `[batch_size, num_classes]`.
	Logits [2]*Node

	// CrossFusionKnowledge has one entry per stage, with the flattened (`[batch_size, features]`)
	// stage output of each trunk plus the knowledge projected into that stage by the previous stages.
	CrossFusionKnowledge [][2]*Node

	// FeatureMaps are the last-stage outputs of each trunk.
	FeatureMaps [2]*Node
}

// FusionLayer projects a feature map to the shape of a later stage: a convolution with kernel size
// and stride equal to minification (no padding, no bias) to outChannels, batch normalization and ReLU.
func FusionLayer(ctx *context.Context, x *Node, outChannels, minification int, cfg *Config) *Node {
	if minification < 1 {
		exceptions.Panicf("FusionLayer minification must be >= 1, got %d", minification)
	}
	x = convolution(ctx, x, cfg.ChannelsAxis, outChannels, minification, minification, 1, false)
	return activations.Relu(BatchNorm(ctx, x, cfg))
}

// SelfCrossResNet builds two independent trunks (scopes "net_1" and "net_2", each with its own stem,
// stages, fusion layers and classifier).
//
// After stage s, each trunk projects its output with a FusionLayer to the shape of every later
// stage t (scope "fusion_<s>_to_<t>"). The cross-fusion knowledge of stage s is the stage output plus
// everything previous stages projected into it, flattened. The projections are only reported,
// they are not fed back into the trunks.
func SelfCrossResNet(ctx *context.Context, cfg *Config, images *Node) *SelfCrossOutputs {
	cfg.mustValidate()
	klog.V(1).Infof("resnet.SelfCrossResNet: %s", cfg)
	batchSize := images.Shape().Dimensions[0]
	numStages := len(StageChannels)

	nets := [2]*context.Context{ctx.In("net_1"), ctx.In("net_2")}
	var x [2]*Node
	for net := range nets {
		x[net] = Stem(nets[net].In("stem"), images, cfg)
	}

	// knowledge[net][from][to-from-1] is the projection of stage "from" output to stage "to".
	var knowledge [2][][]*Node
	outputs := &SelfCrossOutputs{CrossFusionKnowledge: make([][2]*Node, 0, numStages)}
	for stageIdx := range numStages {
		var stageKnowledge [2]*Node
		for net := range nets {
			x[net] = trunkStage(nets[net], x[net], stageIdx, cfg)
			accumulated := x[net]
			for from := range stageIdx {
				accumulated = Add(accumulated, knowledge[net][from][stageIdx-from-1])
			}
			stageKnowledge[net] = Reshape(accumulated, batchSize, -1)
		}
		klog.V(2).Infof("resnet.SelfCrossResNet stage %d: net_1 %s, net_2 %s",
			stageIdx+1, x[0].Shape(), x[1].Shape())
		outputs.CrossFusionKnowledge = append(outputs.CrossFusionKnowledge, stageKnowledge)

		for net := range nets {
			projections := make([]*Node, 0, numStages-stageIdx-1)
			minification := 1
			for to := stageIdx + 1; to < numStages; to++ {
				minification *= StageStrides[to]
				projections = append(projections, FusionLayer(
					nets[net].Inf("fusion_%d_to_%d", stageIdx+1, to+1), x[net],
					StageChannels[to]*cfg.Expansion(), minification, cfg))
			}
			knowledge[net] = append(knowledge[net], projections)
		}
	}

	outputs.FeatureMaps = x
	for net := range nets {
		outputs.Logits[net] = classifier(nets[net].In("classifier"), poolAndFlatten(x[net], cfg), cfg)
	}
	return outputs
}

// SelfCrossModelGraph implements train.ModelFn for SelfCrossResNet, configured by the context
// hyperparameters (see ConfigFromContext).
//
// inputs: only one tensor, the images. It returns
// `[logits_1, logits_2, feature_map_1, feature_map_2, knowledge_1_net_1, knowledge_1_net_2, ...]`,
// with one knowledge pair per stage.
func SelfCrossModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	return modelGraphWithConfig(mustConfigFromContext(ctx), ModelCrossResNet)(ctx, spec, inputs)
}
