// Copyright 2026 The CroIK Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"math/rand/v2"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/nanxiaotong/CroIK/models/resnet"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ModelScope is the convention scope used for model creation.
const ModelScope = "model"

// ImageSize is the height and width of the synthetic images.
const ImageSize = 32

// options for inspect.
type options struct {
	BatchSize int

	// Seed for the synthetic images and the variables initialization.
	Seed uint64

	// Training builds the model in training mode.
	Training bool

	// CheckpointPath, if not empty, is where variables are loaded from (if it exists) and saved to.
	CheckpointPath string
	CheckpointKeep int

	// ParamsSet are the hyperparameters set in the command line: they are not overwritten by the values
	// stored in the checkpoint.
	ParamsSet []string
}

// inspection holds the result of running a model once.
type inspection struct {
	Model       string
	Config      *resnet.Config
	OutputNames []string
	Outputs     []*tensors.Tensor

	// NumVariables, NumParameters and Memory of the variables under the model scope.
	NumVariables, NumParameters int
	Memory                      uintptr

	// Modules breaks down the variables per model component, sorted by name.
	Modules []*moduleStats

	// CheckpointDir is set if a checkpoint was saved.
	CheckpointDir string
}

// inspect builds the model selected by the hyperparameters in ctx, runs it on a batch of synthetic
// images and returns its outputs.
func inspect(backend backends.Backend, ctx *context.Context, opts *options) (*inspection, error) {
	if opts.BatchSize < 1 {
		return nil, errors.Errorf("batch size must be >= 1, got %d", opts.BatchSize)
	}
	if err := ctx.SetRNGStateFromSeed(int64(opts.Seed)); err != nil {
		return nil, errors.WithMessagef(err, "failed to set RNG seed %d", opts.Seed)
	}

	var checkpoint *checkpoints.Handler
	if opts.CheckpointPath != "" {
		var err error
		checkpoint, err = checkpoints.Build(ctx).
			Dir(opts.CheckpointPath).
			Keep(opts.CheckpointKeep).
			ExcludeParams(opts.ParamsSet...).
			Done()
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to load checkpoint from %q", opts.CheckpointPath)
		}
		klog.V(1).Infof("Checkpointing model to %q", checkpoint.Dir())
	}

	// Hyperparameters are read after the checkpoint is loaded, so the model matches the saved one.
	modelFn, err := resnet.SelectModelFn(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := resnet.ConfigFromContext(ctx)
	if err != nil {
		return nil, err
	}
	model := context.GetParamOr(ctx, resnet.ParamModel, resnet.ModelResNet)
	report := &inspection{
		Model:       model,
		Config:      cfg,
		OutputNames: resnet.OutputNames(model),
	}

	modelCtx := ctx.In(ModelScope)
	modelExec, err := context.NewExec(backend, modelCtx, func(ctx *context.Context, batch *Node) []*Node {
		ctx.SetTraining(batch.Graph(), opts.Training)
		return modelFn(ctx, nil, []*Node{batch})
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create executor for model %q", model)
	}
	defer modelExec.Finalize()
	report.Outputs, err = modelExec.Exec(syntheticImages(cfg, opts.BatchSize, opts.Seed))
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to execute model %q", model)
	}
	if len(report.Outputs) != len(report.OutputNames) {
		return nil, errors.Errorf("model %q returned %d outputs, expected %d (%v)",
			model, len(report.Outputs), len(report.OutputNames), report.OutputNames)
	}

	if err := report.collectModules(modelCtx); err != nil {
		return nil, err
	}

	if checkpoint != nil {
		if err := checkpoint.Save(); err != nil {
			return nil, errors.WithMessagef(err, "failed to save checkpoint to %q", checkpoint.Dir())
		}
		report.CheckpointDir = checkpoint.Dir()
	}
	return report, nil
}

// syntheticImages returns a batch of images with normally distributed pixels, in the layout of cfg.
func syntheticImages(cfg *resnet.Config, batchSize int, seed uint64) *tensors.Tensor {
	shape := shapes.Make(dtypes.Float32, batchSize, 3, ImageSize, ImageSize)
	if cfg.ChannelsAxis == images.ChannelsLast {
		shape = shapes.Make(dtypes.Float32, batchSize, ImageSize, ImageSize, 3)
	}
	rng := rand.New(rand.NewPCG(seed, seed))
	imagesT := tensors.FromShape(shape)
	tensors.MustMutableFlatData[float32](imagesT, func(flat []float32) {
		for i := range flat {
			flat[i] = float32(rng.NormFloat64())
		}
	})
	return imagesT
}
