// Package gbdt implements a histogram-based gradient-boosted decision tree
// binary classifier with leaf-wise growth, row and column subsampling, and
// early stopping on a validation set.
package gbdt

import "fmt"

// Params are the boosting hyperparameters.
type Params struct {
	NumRounds           int
	MaxDepth            int // <= 0 means unlimited
	NumLeaves           int
	LearningRate        float64
	Subsample           float64
	ColSample           float64
	Seed                uint64
	MinDataInLeaf       int
	MinSumHessian       float64
	Lambda              float64
	MaxBins             int
	ScalePosWeight      float64
	EarlyStoppingRounds int // <= 0 disables early stopping
}

// DefaultParams returns the hyperparameters used for production training.
func DefaultParams() Params {
	return Params{
		NumRounds:           50,
		MaxDepth:            6,
		NumLeaves:           31,
		LearningRate:        0.1,
		Subsample:           0.8,
		ColSample:           0.8,
		Seed:                42,
		MinDataInLeaf:       20,
		MinSumHessian:       1e-3,
		Lambda:              0,
		MaxBins:             255,
		ScalePosWeight:      1,
		EarlyStoppingRounds: 10,
	}
}

// Validate checks parameter ranges.
func (p Params) Validate() error {
	switch {
	case p.NumRounds <= 0:
		return fmt.Errorf("num rounds must be positive, got %d", p.NumRounds)
	case p.NumLeaves < 2:
		return fmt.Errorf("num leaves must be at least 2, got %d", p.NumLeaves)
	case p.LearningRate <= 0:
		return fmt.Errorf("learning rate must be positive, got %g", p.LearningRate)
	case p.Subsample <= 0 || p.Subsample > 1:
		return fmt.Errorf("subsample must be in (0, 1], got %g", p.Subsample)
	case p.ColSample <= 0 || p.ColSample > 1:
		return fmt.Errorf("column sample must be in (0, 1], got %g", p.ColSample)
	case p.MaxBins < 2 || p.MaxBins > 256:
		return fmt.Errorf("max bins must be in [2, 256], got %d", p.MaxBins)
	case p.ScalePosWeight <= 0:
		return fmt.Errorf("scale_pos_weight must be positive, got %g", p.ScalePosWeight)
	case p.Lambda < 0:
		return fmt.Errorf("lambda must be non-negative, got %g", p.Lambda)
	}
	return nil
}
