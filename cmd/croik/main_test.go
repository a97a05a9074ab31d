// Copyright 2026 The CroIK Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"testing"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/nanxiaotong/CroIK/models/resnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	if _, found := os.LookupEnv(backends.ConfigEnvVar); !found {
		// For testing, we use the CPU backend (and avoid GPU if not explicitly requested).
		must.M(os.Setenv(backends.ConfigEnvVar, "xla:cpu"))
	}
}

func TestInspect(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testing in short mode")
		return
	}
	backend := graphtest.BuildTestBackend()

	for _, model := range resnet.ModelNames() {
		t.Run(model, func(t *testing.T) {
			ctx := createDefaultContext()
			must.M1(commandline.ParseContextSettings(ctx, "model="+model+";resnet_depth=8;resnet_num_classes=10"))
			report, err := inspect(backend, ctx, &options{BatchSize: 2, Seed: 1})
			require.NoError(t, err)
			assert.Equal(t, model, report.Model)
			require.Len(t, report.Outputs, len(resnet.OutputNames(model)))
			require.NoError(t, report.Outputs[0].Shape().Check(dtypes.Float32, 2, 10))
			assert.Greater(t, report.NumParameters, 0)

			assert.Contains(t, report.SummaryTable(), model)
			assert.Contains(t, report.OutputsTable(), report.OutputNames[0])
			assert.Contains(t, Params(ctx), resnet.ParamDepth)
			modules := report.ModulesTable()
			assert.Contains(t, modules, "stage_1")
			assert.Contains(t, modules, "classifier")
		})
	}
}

func TestInspectCheckpoint(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testing in short mode")
		return
	}
	backend := graphtest.BuildTestBackend()
	checkpointDir := t.TempDir()

	// First run initializes the variables with seed 1 and saves them.
	ctx := createDefaultContext()
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, "resnet_depth=8;resnet_num_classes=10"))
	first, err := inspect(backend, ctx, &options{BatchSize: 1, Seed: 1, CheckpointPath: checkpointDir, CheckpointKeep: 1, ParamsSet: paramsSet})
	require.NoError(t, err)
	require.NotEmpty(t, first.CheckpointDir)

	// Second run with default hyperparameters and a fresh context: the loaded
	// variables and hyperparameters reproduce the same logits.
	ctx = createDefaultContext()
	second, err := inspect(backend, ctx, &options{BatchSize: 1, Seed: 1, CheckpointPath: checkpointDir, CheckpointKeep: 1})
	require.NoError(t, err)
	assert.Equal(t, 8, second.Config.Depth)
	assert.Equal(t, 10, second.Config.NumClasses)
	assert.InDeltaSlice(t,
		tensors.MustCopyFlatData[float32](first.Outputs[0]),
		tensors.MustCopyFlatData[float32](second.Outputs[0]), 1e-5)
}

func TestInspectErrors(t *testing.T) {
	backend := graphtest.BuildTestBackend()

	ctx := createDefaultContext()
	ctx.SetParam(resnet.ParamModel, "vgg")
	_, err := inspect(backend, ctx, &options{BatchSize: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vgg")

	ctx = createDefaultContext()
	ctx.SetParam(resnet.ParamDepth, 12)
	_, err = inspect(backend, ctx, &options{BatchSize: 1})
	require.Error(t, err)

	_, err = inspect(backend, createDefaultContext(), &options{BatchSize: 0})
	require.Error(t, err)
}

func TestModules(t *testing.T) {
	assert.Equal(t, "stem", moduleName("/model", "/model/stem/conv"))
	assert.Equal(t, "stage_2", moduleName("/model", "/model/stage_2/block_00/conv_1/batch_normalization"))
	assert.Equal(t, "branch_1/stage_3", moduleName("/model", "/model/branch_1/stage_3/block_00/downsample/conv"))
	assert.Equal(t, "net_2/fusion_1_to_3", moduleName("/model", "/model/net_2/fusion_1_to_3/conv"))
	assert.Equal(t, "output_attention", moduleName("/model", "/model/output_attention/channel_attention/fc_1/conv"))

	if testing.Short() {
		t.Skip("skipping testing in short mode")
		return
	}
	backend := graphtest.BuildTestBackend()
	ctx := createDefaultContext()
	must.M1(commandline.ParseContextSettings(ctx, "model=cross_resnet;resnet_depth=8;resnet_num_classes=10"))
	report, err := inspect(backend, ctx, &options{BatchSize: 1, Seed: 1})
	require.NoError(t, err)

	// Modules add up to the whole model, and each trunk has its own copy of each component.
	var numVariables, numParameters int
	names := make(map[string]bool)
	for _, module := range report.Modules {
		numVariables += module.NumVariables
		numParameters += module.NumParameters
		names[module.Name] = true
		assert.Greaterf(t, module.RMS(), 0.0, "module %s", module.Name)
	}
	assert.Equal(t, report.NumVariables, numVariables)
	assert.Equal(t, report.NumParameters, numParameters)
	for _, net := range []string{"net_1", "net_2"} {
		for _, component := range []string{"stem", "stage_1", "stage_2", "stage_3", "fusion_1_to_2", "fusion_1_to_3", "fusion_2_to_3", "classifier"} {
			assert.Truef(t, names[net+"/"+component], "missing module %s/%s", net, component)
		}
	}
	assert.Len(t, report.Modules, 16)
}
