package telemetry

import (
	"context"
	"time"

	"github.com/Zerofisher/canids/classifier"
)

// InstrumentLearner times every Fit of l and instruments the models it
// returns. Errors pass through unchanged.
func (m *Metrics) InstrumentLearner(stage string, l classifier.Learner) classifier.Learner {
	if m == nil {
		return l
	}
	return classifier.LearnerFunc(func(ctx context.Context, X [][]float64, y []int) (classifier.Model, error) {
		start := time.Now()
		model, err := l.Fit(ctx, X, y)
		m.ModelCall(stage, "fit", time.Since(start), err)
		if err != nil {
			return nil, err
		}
		return m.InstrumentModel(stage, model), nil
	})
}

// InstrumentModel times every Predict of model. Errors pass through unchanged.
func (m *Metrics) InstrumentModel(stage string, model classifier.Model) classifier.Model {
	if m == nil {
		return model
	}
	return classifier.ModelFunc(func(ctx context.Context, X [][]float64) ([]int, error) {
		start := time.Now()
		pred, err := model.Predict(ctx, X)
		m.ModelCall(stage, "predict", time.Since(start), err)
		return pred, err
	})
}
