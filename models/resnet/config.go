// Copyright 2026 The CroIK Authors. SPDX-License-Identifier: Apache-2.0

package resnet

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
)

// Block types for the residual stages.
const (
	// BlockBasic is the 2-convolution residual unit (expansion 1).
	BlockBasic = "basic"

	// BlockBottleneck is the 1x1-3x3-1x1 residual unit (expansion 4).
	BlockBottleneck = "bottleneck"
)

// BottleneckExpansion is the ratio of output channels to "planes" in a Bottleneck block.
const BottleneckExpansion = 4

const (
	// ParamDepth is the context hyperparameter for the network depth, it must be of the form 6n+2.
	ParamDepth = "resnet_depth"

	// ParamNumClasses is the context hyperparameter for the number of classes of the classifiers.
	ParamNumClasses = "resnet_num_classes"

	// ParamBlock selects the residual block type: BlockBasic or BlockBottleneck.
	ParamBlock = "resnet_block"

	// ParamChannelsFirst selects the `[batch, channels, height, width]` layout if true (the default),
	// and `[batch, height, width, channels]` otherwise.
	ParamChannelsFirst = "resnet_channels_first"

	// ParamAttentionRatio is the reduction ratio of the ChannelAttention bottleneck.
	ParamAttentionRatio = "resnet_attention_ratio"

	// ParamSpatialKernelSize is the kernel size of the SpatialAttention convolution.
	ParamSpatialKernelSize = "resnet_spatial_kernel_size"

	// ParamBatchNormMomentum is the momentum of the batch normalization moving averages.
	ParamBatchNormMomentum = "resnet_bn_momentum"

	// ParamBatchNormEpsilon is added to the variance in batch normalization.
	ParamBatchNormEpsilon = "resnet_bn_epsilon"
)

// Default values used by NewConfig and ConfigFromContext.
const (
	DefaultDepth             = 32
	DefaultNumClasses        = 1000
	DefaultAttentionRatio    = 16
	DefaultSpatialKernelSize = 7
	DefaultBatchNormMomentum = 0.9
	DefaultBatchNormEpsilon  = 1e-5
)

// StemChannels is the number of channels output by the first convolution.
const StemChannels = 16

// FinalPoolWindow is the window of the average pooling before the classifiers: an 8x8 feature map
// (for 32x32 inputs) is reduced to 1x1.
const FinalPoolWindow = 8

var (
	// StageChannels holds the "planes" of each of the 3 residual stages.
	StageChannels = []int{16, 32, 64}

	// StageStrides holds the stride of the first block of each stage.
	StageStrides = []int{1, 2, 2}
)

// Config holds the construction-time configuration of the models.
//
// Create it with NewConfig or ConfigFromContext, and optionally change the fields before building
// a model. All model builders validate it.
type Config struct {
	// Depth of the network: it must satisfy (Depth-2) % 6 == 0 and Depth >= 8.
	Depth int

	// NumClasses output by each classifier.
	NumClasses int

	// Block type: BlockBasic or BlockBottleneck.
	Block string

	// ChannelsAxis selects the layout of images and feature maps. Default is images.ChannelsFirst.
	ChannelsAxis images.ChannelsAxisConfig

	// AttentionRatio is the reduction ratio of the ChannelAttention shared bottleneck.
	AttentionRatio int

	// SpatialKernelSize of the SpatialAttention convolution. It must be odd.
	SpatialKernelSize int

	// BatchNormMomentum and BatchNormEpsilon configure every batch normalization layer.
	BatchNormMomentum, BatchNormEpsilon float64
}

// NewConfig returns a configuration with the given depth and number of classes, and defaults for
// everything else. It returns an error if the depth is not of the form 6n+2 (n >= 1).
func NewConfig(depth, numClasses int) (*Config, error) {
	cfg := &Config{
		Depth:             depth,
		NumClasses:        numClasses,
		Block:             BlockBasic,
		ChannelsAxis:      images.ChannelsFirst,
		AttentionRatio:    DefaultAttentionRatio,
		SpatialKernelSize: DefaultSpatialKernelSize,
		BatchNormMomentum: DefaultBatchNormMomentum,
		BatchNormEpsilon:  DefaultBatchNormEpsilon,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustNewConfig is like NewConfig, but panics on error.
func MustNewConfig(depth, numClasses int) *Config {
	return must.M1(NewConfig(depth, numClasses))
}

// SetDefaultParams sets all the hyperparameters read by ConfigFromContext to their default values.
func SetDefaultParams(ctx *context.Context) {
	ctx.SetParams(map[string]any{
		ParamDepth:             DefaultDepth,
		ParamNumClasses:        DefaultNumClasses,
		ParamBlock:             BlockBasic,
		ParamChannelsFirst:     true,
		ParamAttentionRatio:    DefaultAttentionRatio,
		ParamSpatialKernelSize: DefaultSpatialKernelSize,
		ParamBatchNormMomentum: DefaultBatchNormMomentum,
		ParamBatchNormEpsilon:  DefaultBatchNormEpsilon,
	})
}

// ConfigFromContext builds a Config from the hyperparameters set in ctx (see the Param* constants),
// using the defaults for those not set.
func ConfigFromContext(ctx *context.Context) (*Config, error) {
	cfg := &Config{
		Depth:             context.GetParamOr(ctx, ParamDepth, DefaultDepth),
		NumClasses:        context.GetParamOr(ctx, ParamNumClasses, DefaultNumClasses),
		Block:             context.GetParamOr(ctx, ParamBlock, BlockBasic),
		ChannelsAxis:      images.ChannelsFirst,
		AttentionRatio:    context.GetParamOr(ctx, ParamAttentionRatio, DefaultAttentionRatio),
		SpatialKernelSize: context.GetParamOr(ctx, ParamSpatialKernelSize, DefaultSpatialKernelSize),
		BatchNormMomentum: context.GetParamOr(ctx, ParamBatchNormMomentum, DefaultBatchNormMomentum),
		BatchNormEpsilon:  context.GetParamOr(ctx, ParamBatchNormEpsilon, DefaultBatchNormEpsilon),
	}
	if !context.GetParamOr(ctx, ParamChannelsFirst, true) {
		cfg.ChannelsAxis = images.ChannelsLast
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "invalid hyperparameters in scope %q", ctx.Scope())
	}
	return cfg, nil
}

// Validate the configuration.
func (cfg *Config) Validate() error {
	if cfg.Depth < 8 || (cfg.Depth-2)%6 != 0 {
		return errors.Errorf("depth should be 6n+2 with n >= 1 (8, 14, 20, 32, ...), got %d", cfg.Depth)
	}
	if cfg.NumClasses < 1 {
		return errors.Errorf("number of classes must be >= 1, got %d", cfg.NumClasses)
	}
	if cfg.Block != BlockBasic && cfg.Block != BlockBottleneck {
		return errors.Errorf("invalid block type %q, valid values are %q and %q", cfg.Block, BlockBasic, BlockBottleneck)
	}
	if cfg.ChannelsAxis != images.ChannelsFirst && cfg.ChannelsAxis != images.ChannelsLast {
		return errors.Errorf("invalid channels axis configuration %v", cfg.ChannelsAxis)
	}
	if cfg.AttentionRatio < 1 {
		return errors.Errorf("attention ratio must be >= 1, got %d", cfg.AttentionRatio)
	}
	if cfg.SpatialKernelSize < 1 || cfg.SpatialKernelSize%2 == 0 {
		return errors.Errorf("spatial attention kernel size must be odd and positive, got %d", cfg.SpatialKernelSize)
	}
	if cfg.BatchNormMomentum <= 0 || cfg.BatchNormMomentum >= 1 {
		return errors.Errorf("batch normalization momentum must be in (0, 1), got %g", cfg.BatchNormMomentum)
	}
	if cfg.BatchNormEpsilon <= 0 {
		return errors.Errorf("batch normalization epsilon must be > 0, got %g", cfg.BatchNormEpsilon)
	}
	return nil
}

// mustValidate is called by the graph building functions.
func (cfg *Config) mustValidate() {
	if cfg == nil {
		exceptions.Panicf("resnet: nil Config")
	}
	if err := cfg.Validate(); err != nil {
		exceptions.Panicf("resnet: %v", err)
	}
}

// BlocksPerStage is the number of residual blocks in each of the 3 stages: (Depth-2)/6.
func (cfg *Config) BlocksPerStage() int {
	return (cfg.Depth - 2) / 6
}

// Expansion returns the ratio of output channels to "planes" of the configured block type.
func (cfg *Config) Expansion() int {
	if cfg.Block == BlockBottleneck {
		return BottleneckExpansion
	}
	return 1
}

// FeatureChannels is the number of channels of the last stage, the input of the classifiers.
func (cfg *Config) FeatureChannels() int {
	return StageChannels[len(StageChannels)-1] * cfg.Expansion()
}

// String implements fmt.Stringer.
func (cfg *Config) String() string {
	layout := "channels-first"
	if cfg.ChannelsAxis == images.ChannelsLast {
		layout = "channels-last"
	}
	return fmt.Sprintf("resnet.Config{depth=%d (%d %s blocks/stage), classes=%d, %s, attention ratio=%d, spatial kernel=%d, bn momentum=%g, bn epsilon=%g}",
		cfg.Depth, cfg.BlocksPerStage(), cfg.Block, cfg.NumClasses, layout,
		cfg.AttentionRatio, cfg.SpatialKernelSize, cfg.BatchNormMomentum, cfg.BatchNormEpsilon)
}
