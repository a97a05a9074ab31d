// Copyright 2026 The CroIK Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// SummaryTable renders the model name, configuration and sizes.
func (r *inspection) SummaryTable() string {
	table := newPlainTable(lipgloss.Right, lipgloss.Left)
	table.Row("model", r.Model)
	table.Row("depth", fmt.Sprintf("%d (%d %s blocks per stage)", r.Config.Depth, r.Config.BlocksPerStage(), r.Config.Block))
	table.Row("classes", humanize.Comma(int64(r.Config.NumClasses)))
	table.Row("# variables", humanize.Comma(int64(r.NumVariables)))
	table.Row("# parameters", humanize.Comma(int64(r.NumParameters)))
	table.Row("# bytes", humanize.Bytes(uint64(r.Memory)))
	if r.CheckpointDir != "" {
		table.Row("checkpoint", r.CheckpointDir)
	}
	return titleStyle.Render("Summary") + "\n" + table.Render()
}

// OutputsTable renders the name, shape and value statistics of each output of the model.
func (r *inspection) OutputsTable() string {
	table := newPlainTable(lipgloss.Left, lipgloss.Left, lipgloss.Right)
	table.Headers("Output", "Shape", "Mean", "Min", "Max")
	for i, output := range r.Outputs {
		mean, minV, maxV := tensorStats(output)
		table.Row(r.OutputNames[i], output.Shape().String(),
			fmt.Sprintf("%.4g", mean), fmt.Sprintf("%.4g", minV), fmt.Sprintf("%.4g", maxV))
	}
	return titleStyle.Render("Outputs") + "\n" + table.Render()
}

// tensorStats returns the mean, min and max of a float32 tensor.
func tensorStats(t *tensors.Tensor) (mean, minV, maxV float64) {
	values := tensors.MustCopyFlatData[float32](t)
	if len(values) == 0 {
		return
	}
	minV, maxV = float64(values[0]), float64(values[0])
	for _, v := range values {
		mean += float64(v)
		minV = min(minV, float64(v))
		maxV = max(maxV, float64(v))
	}
	mean /= float64(len(values))
	return
}

// Params renders the hyperparameters of all scopes.
func Params(ctx *context.Context) string {
	table := newPlainTable(lipgloss.Left)
	table.Headers("Scope", "Name", "Type", "Value")
	var rows [][]string
	ctx.EnumerateParams(func(scope, key string, value any) {
		rows = append(rows, []string{scope, key, fmt.Sprintf("%T", value), fmt.Sprintf("%v", value)})
	})
	sortRows(rows)
	for _, row := range rows {
		table.Row(row...)
	}
	return titleStyle.Render("Hyperparameters") + "\n" + table.Render()
}

// sortRows by the first and second columns.
func sortRows(rows [][]string) {
	slices.SortFunc(rows, func(a, b []string) int {
		if cmp := strings.Compare(a[0], b[0]); cmp != 0 {
			return cmp
		}
		return strings.Compare(a[1], b[1])
	})
}
