package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Scaler standardises features to zero mean and unit variance. Constant
// features keep a scale of 1.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler computes per-column mean and population standard deviation.
func FitScaler(X [][]float64) (*Scaler, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("fit scaler: empty matrix")
	}
	d := len(X[0])
	s := &Scaler{Mean: make([]float64, d), Scale: make([]float64, d)}

	for _, row := range X {
		if len(row) != d {
			return nil, fmt.Errorf("fit scaler: ragged matrix (%d vs %d columns)", len(row), d)
		}
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	n := float64(len(X))
	for j := range s.Mean {
		s.Mean[j] /= n
	}
	for _, row := range X {
		for j, v := range row {
			dv := v - s.Mean[j]
			s.Scale[j] += dv * dv
		}
	}
	for j := range s.Scale {
		s.Scale[j] = math.Sqrt(s.Scale[j] / n)
		if s.Scale[j] == 0 {
			s.Scale[j] = 1
		}
	}
	return s, nil
}

// Transform returns a standardised copy of X.
func (s *Scaler) Transform(X [][]float64) ([][]float64, error) {
	out := make([][]float64, len(X))
	for i, row := range X {
		if len(row) != len(s.Mean) {
			return nil, fmt.Errorf("transform: row %d has %d columns, scaler has %d", i, len(row), len(s.Mean))
		}
		r := make([]float64, len(row))
		for j, v := range row {
			r[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = r
	}
	return out, nil
}

// Save writes the scaler as JSON.
func (s *Scaler) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadScaler reads a scaler written by Save.
func LoadScaler(path string) (*Scaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Scaler
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode scaler %s: %w", path, err)
	}
	if len(s.Mean) != len(s.Scale) {
		return nil, fmt.Errorf("decode scaler %s: mean and scale lengths differ", path)
	}
	return &s, nil
}

// Standardized wraps a learner so that a scaler is fitted on the training
// data only and applied before every fit and prediction.
func Standardized(l Learner) Learner {
	return LearnerFunc(func(ctx context.Context, X [][]float64, y []int) (Model, error) {
		s, err := FitScaler(X)
		if err != nil {
			return nil, err
		}
		scaled, err := s.Transform(X)
		if err != nil {
			return nil, err
		}
		m, err := l.Fit(ctx, scaled, y)
		if err != nil {
			return nil, err
		}
		return &ScaledModel{Scaler: s, Model: m}, nil
	})
}

// ScaledModel standardises inputs before delegating to Model.
type ScaledModel struct {
	Scaler *Scaler
	Model  Model
}

// Predict scales X and calls the inner model. Inner errors pass through
// unchanged.
func (m *ScaledModel) Predict(ctx context.Context, X [][]float64) ([]int, error) {
	scaled, err := m.Scaler.Transform(X)
	if err != nil {
		return nil, err
	}
	return m.Model.Predict(ctx, scaled)
}
