// Copyright 2026 The CroIK Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// moduleStats aggregates the variables of one model component: the stem, a stage, an attention
// pair, a fusion layer or a classifier, per branch (or trunk) for the two-branch models.
type moduleStats struct {
	Name                        string
	NumVariables, NumParameters int
	Memory                      uintptr

	sumSquares float64
	numFloats  int
}

// RMS is the root-mean-square of the float32 parameters of the module.
func (m *moduleStats) RMS() float64 {
	if m.numFloats == 0 {
		return 0
	}
	return math.Sqrt(m.sumSquares / float64(m.numFloats))
}

// moduleName returns the component a variable scope belongs to, relative to the model scope:
// the first scope element, plus the second one for the per-branch ("branch_*") and
// per-trunk ("net_*") scopes. E.g.: "/model/net_1/stage_2/block_00/conv_1/conv" -> "net_1/stage_2".
func moduleName(modelScope, scope string) string {
	rel := strings.TrimPrefix(strings.TrimPrefix(scope, modelScope), context.ScopeSeparator)
	parts := strings.Split(rel, context.ScopeSeparator)
	if len(parts) > 1 && (strings.HasPrefix(parts[0], "branch_") || strings.HasPrefix(parts[0], "net_")) {
		return parts[0] + context.ScopeSeparator + parts[1]
	}
	return parts[0]
}

// collectModules counts the variables under the model scope, in total and per component.
func (r *inspection) collectModules(modelCtx *context.Context) error {
	byName := make(map[string]*moduleStats)
	var firstErr error
	modelCtx.EnumerateVariablesInScope(func(v *context.Variable) {
		name := moduleName(modelCtx.Scope(), v.Scope())
		module, found := byName[name]
		if !found {
			module = &moduleStats{Name: name}
			byName[name] = module
			r.Modules = append(r.Modules, module)
		}
		shape := v.Shape()
		module.NumVariables++
		module.NumParameters += shape.Size()
		module.Memory += shape.Memory()
		r.NumVariables++
		r.NumParameters += shape.Size()
		r.Memory += shape.Memory()

		if shape.DType != dtypes.Float32 || firstErr != nil {
			return
		}
		value, err := v.Value()
		if err != nil {
			firstErr = errors.WithMessagef(err, "failed to read variable %s", v.ParameterName())
			return
		}
		for _, x := range tensors.MustCopyFlatData[float32](value) {
			module.sumSquares += float64(x) * float64(x)
		}
		module.numFloats += shape.Size()
	})
	slices.SortFunc(r.Modules, func(a, b *moduleStats) int { return strings.Compare(a.Name, b.Name) })
	return firstErr
}

// ModulesTable renders the number of variables, parameters, memory, share of the parameters and
// RMS of each model component.
func (r *inspection) ModulesTable() string {
	table := newPlainTable(lipgloss.Left, lipgloss.Right)
	table.Headers("Module", "# Variables", "# Parameters", "Bytes", "Share", "RMS")
	for _, module := range r.Modules {
		share := 100 * float64(module.NumParameters) / float64(max(r.NumParameters, 1))
		table.Row(module.Name,
			humanize.Comma(int64(module.NumVariables)),
			humanize.Comma(int64(module.NumParameters)),
			humanize.Bytes(uint64(module.Memory)),
			fmt.Sprintf("%.1f%%", share),
			fmt.Sprintf("%.3g", module.RMS()))
	}
	return titleStyle.Render(fmt.Sprintf("Parameters of %q per module", r.Model)) + "\n" + table.Render()
}
