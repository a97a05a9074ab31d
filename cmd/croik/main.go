// Copyright 2026 The CroIK Authors. SPDX-License-Identifier: Apache-2.0

// croik builds one of the residual network models (single branch, feature fusion or self-cross),
// runs it on a synthetic batch of images and reports its outputs, variables and hyperparameters.
//
// The model and its configuration are selected with the -set flag, e.g.:
//
//	croik -set="model=ffl_resnet;resnet_depth=32;resnet_num_classes=100" -modules
//
// If -checkpoint is given, the variables are loaded from (if present) and saved to that directory.
package main

import (
	"flag"
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/nanxiaotong/CroIK/models/resnet"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagBatchSize  = flag.Int("batch", 2, "Batch size of the synthetic images fed to the model.")
	flagSeed       = flag.Uint64("seed", 42, "Seed used to generate the synthetic images and to initialize the variables.")
	flagTraining   = flag.Bool("training", false, "Build the model in training mode (batch normalization uses the batch statistics).")
	flagCheckpoint = flag.String("checkpoint", "", "Directory to load and save checkpoints from. If left empty, no checkpoints are used.")
	flagKeep       = flag.Int("checkpoint_keep", 3, "Number of checkpoints to keep, if --checkpoint is set.")
	flagSummary    = flag.Bool("summary", true, "Display a summary of the model sizes.")
	flagOutputs    = flag.Bool("outputs", true, "Lists the outputs of the model.")
	flagParams     = flag.Bool("params", false, "Lists the hyperparameters.")
	flagModules    = flag.Bool("modules", false, "Lists the parameters per module: stem, stages, attention, fusion layers and classifiers.")
)

// createDefaultContext sets the context with default hyperparameters.
func createDefaultContext() *context.Context {
	ctx := context.New()
	resnet.SetDefaultParams(ctx)
	ctx.SetParams(map[string]any{
		resnet.ParamModel:      resnet.ModelResNet,
		resnet.ParamNumClasses: 100,
	})
	return ctx
}

func main() {
	ctx := createDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))
	klog.V(1).Infof("Hyperparameters:\n%s", commandline.SprintContextSettings(ctx))

	opts := &options{
		BatchSize:      *flagBatchSize,
		Seed:           *flagSeed,
		Training:       *flagTraining,
		CheckpointPath: *flagCheckpoint,
		CheckpointKeep: *flagKeep,
		ParamsSet:      paramsSet,
	}
	var report *inspection
	err := exceptions.TryCatch[error](func() {
		var err error
		report, err = inspect(backends.MustNew(), ctx, opts)
		if err != nil {
			panic(err)
		}
	})
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}

	if *flagSummary {
		fmt.Println(report.SummaryTable())
	}
	if *flagOutputs {
		fmt.Println(report.OutputsTable())
	}
	if *flagParams {
		fmt.Println(Params(ctx))
	}
	if *flagModules {
		fmt.Println(report.ModulesTable())
	}
}
