// Copyright 2026 The CroIK Authors. SPDX-License-Identifier: Apache-2.0

package resnet

import (
	"fmt"
	"maps"
	"slices"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// ParamModel is the context hyperparameter that selects the model built by SelectModelFn.
const ParamModel = "model"

// Model names accepted by NewModelFn and SelectModelFn.
const (
	ModelResNet      = "resnet"
	ModelFFLResNet   = "ffl_resnet"
	ModelCrossResNet = "cross_resnet"
)

var (
	// ValidModels maps the model names to their train.ModelFn, configured by the context hyperparameters.
	ValidModels = map[string]train.ModelFn{
		ModelResNet:      ResNetModelGraph,
		ModelFFLResNet:   FFLModelGraph,
		ModelCrossResNet: SelfCrossModelGraph,
	}
)

// ModelNames returns the sorted names of ValidModels.
func ModelNames() []string {
	return slices.Sorted(maps.Keys(ValidModels))
}

// SelectModelFn returns the train.ModelFn selected by the hyperparameter "model" (ParamModel, default
// ModelResNet). The returned function reads its Config from the context it is given.
func SelectModelFn(ctx *context.Context) (train.ModelFn, error) {
	modelType := context.GetParamOr(ctx, ParamModel, ModelResNet)
	modelFn, found := ValidModels[modelType]
	if !found {
		return nil, errors.Errorf("parameter %q must take one value from %v, got %q", ParamModel, ModelNames(), modelType)
	}
	return modelFn, nil
}

// NewModelFn returns a train.ModelFn that builds the given model with a fixed configuration, ignoring
// the context hyperparameters.
func NewModelFn(model string, cfg *Config) (train.ModelFn, error) {
	if _, found := ValidModels[model]; !found {
		return nil, errors.Errorf("unknown model %q, valid values are %v", model, ModelNames())
	}
	if cfg == nil {
		return nil, errors.New("resnet.NewModelFn: nil Config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "resnet.NewModelFn(%q)", model)
	}
	return modelGraphWithConfig(cfg, model), nil
}

// OutputNames returns the names of the outputs of the train.ModelFn of the given model, in order.
// It returns nil for unknown models.
func OutputNames(model string) []string {
	switch model {
	case ModelResNet:
		return []string{"logits"}
	case ModelFFLResNet:
		return []string{"logits_1", "logits_2", "feature_map_1", "feature_map_2"}
	case ModelCrossResNet:
		names := []string{"logits_1", "logits_2", "feature_map_1", "feature_map_2"}
		for stageIdx := range StageChannels {
			names = append(names,
				fmt.Sprintf("knowledge_%d_net_1", stageIdx+1),
				fmt.Sprintf("knowledge_%d_net_2", stageIdx+1))
		}
		return names
	}
	return nil
}

// mustConfigFromContext is ConfigFromContext, but panics on error.
func mustConfigFromContext(ctx *context.Context) *Config {
	cfg, err := ConfigFromContext(ctx)
	if err != nil {
		exceptions.Panicf("%v", err)
	}
	return cfg
}

// modelGraphWithConfig returns the train.ModelFn for the model, flattening its outputs in the order
// given by OutputNames.
func modelGraphWithConfig(cfg *Config, model string) train.ModelFn {
	return func(ctx *context.Context, spec any, inputs []*Node) []*Node {
		if len(inputs) != 1 {
			exceptions.Panicf("model %q takes only the images as input, got %d inputs", model, len(inputs))
		}
		images := inputs[0]
		switch model {
		case ModelResNet:
			return []*Node{ResNet(ctx, cfg, images)}
		case ModelFFLResNet:
			out := FFLResNet(ctx, cfg, images)
			return append(out.Logits[:], out.FeatureMaps...)
		case ModelCrossResNet:
			out := SelfCrossResNet(ctx, cfg, images)
			results := append(out.Logits[:], out.FeatureMaps[:]...)
			for _, knowledge := range out.CrossFusionKnowledge {
				results = append(results, knowledge[:]...)
			}
			return results
		}
		exceptions.Panicf("unknown model %q", model)
		return nil
	}
}
