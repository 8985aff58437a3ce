// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scdd

import (
	"io"
	"log"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"gonum.org/v1/gonum/stat"
)

var olsConfig = &glm.Config{
	Family:         glm.NewFamily(glm.GaussianFamily),
	FitMethod:      "IRLS",
	ConcurrentIRLS: 1000,
	Log:            log.New(io.Discard, "", 0),
}

func normalize(a []float64) {
	mean, std := stat.MeanStdDev(a, nil)
	for i, x := range a {
		a[i] = (x - mean) / std
	}
}

// detectionRateResiduals regresses the per-sample detection-rate
// covariate out of the log-expression values and returns the
// residuals, removing confounding by sequencing depth before the
// permutation test. Falls back to mean-centering if the regression
// cannot be fit (e.g. constant detection rates).
func detectionRateResiduals(values, detrate []float64) (res []float64) {
	defer func() {
		if recover() != nil {
			// typically "matrix singular or near-singular with condition number +Inf"
			res = centered(values)
		}
	}()

	_, std := stat.MeanStdDev(detrate, nil)
	if !(std > 0) {
		return centered(values)
	}

	outcome := append([]statmodel.Dtype(nil), values...)
	constants := make([]statmodel.Dtype, len(values))
	for i := range constants {
		constants[i] = 1
	}
	covariate := append([]statmodel.Dtype(nil), detrate...)
	normalize(covariate)

	data := [][]statmodel.Dtype{outcome, constants, covariate}
	names := []string{"outcome", "constants", "detrate"}
	dataset := statmodel.NewDataset(data, names)

	model, err := glm.NewGLM(dataset, "outcome", names[1:], olsConfig)
	if err != nil {
		return centered(values)
	}
	params := model.Fit().Params()

	res = make([]float64, len(values))
	for i, v := range values {
		res[i] = v - params[0] - params[1]*covariate[i]
	}
	return res
}

func centered(values []float64) []float64 {
	mean := stat.Mean(values, nil)
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v - mean
	}
	return out
}
