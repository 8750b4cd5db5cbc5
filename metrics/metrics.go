// Package metrics scores predictions against ground truth: per-class
// precision, recall and F1, accuracy, a confusion matrix, and the same
// restricted to segments such as interfaces.
package metrics

import "fmt"

// ClassScore holds the scores of one class or one average.
type ClassScore struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Report is the evaluation of one prediction vector.
type Report struct {
	// Codes are every class code of the label set, in label order.
	Codes   []int        `json:"codes"`
	Classes []ClassScore `json:"classes"`
	// Confusion[i][j] counts rows of true class Codes[i] predicted as Codes[j].
	Confusion   [][]int    `json:"confusion"`
	Accuracy    float64    `json:"accuracy"`
	MacroAvg    ClassScore `json:"macro_avg"`
	WeightedAvg ClassScore `json:"weighted_avg"`
	Total       int        `json:"total"`
}

// Compute scores yPred against yTrue. labels names each class code and
// every code is reported, so a class absent from both vectors keeps an
// all-zero row. Divisions by zero score 0.
func Compute(yTrue, yPred []int, labels []string) (*Report, error) {
	if len(yTrue) != len(yPred) {
		return nil, fmt.Errorf("compute metrics: %d truths but %d predictions", len(yTrue), len(yPred))
	}
	for _, ys := range [][]int{yTrue, yPred} {
		for i, c := range ys {
			if c < 0 || c >= len(labels) {
				return nil, fmt.Errorf("compute metrics: row %d: class %d has no label", i, c)
			}
		}
	}

	k := len(labels)
	r := &Report{Total: len(yTrue), Codes: make([]int, k)}
	for c := range r.Codes {
		r.Codes[c] = c
	}
	r.Confusion = make([][]int, k)
	for i := range r.Confusion {
		r.Confusion[i] = make([]int, k)
	}
	correct := 0
	for i := range yTrue {
		r.Confusion[yTrue[i]][yPred[i]]++
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	if r.Total > 0 {
		r.Accuracy = float64(correct) / float64(r.Total)
	}

	r.Classes = make([]ClassScore, k)
	for i, c := range r.Codes {
		tp := r.Confusion[i][i]
		support, predicted := 0, 0
		for j := 0; j < k; j++ {
			support += r.Confusion[i][j]
			predicted += r.Confusion[j][i]
		}
		s := ClassScore{Label: labels[c], Support: support}
		s.Precision = ratio(tp, predicted)
		s.Recall = ratio(tp, support)
		if s.Precision+s.Recall > 0 {
			s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
		}
		r.Classes[i] = s
	}

	r.MacroAvg = ClassScore{Label: "macro avg", Support: r.Total}
	r.WeightedAvg = ClassScore{Label: "weighted avg", Support: r.Total}
	for _, s := range r.Classes {
		r.MacroAvg.Precision += s.Precision / float64(k)
		r.MacroAvg.Recall += s.Recall / float64(k)
		r.MacroAvg.F1 += s.F1 / float64(k)
		if r.Total > 0 {
			w := float64(s.Support) / float64(r.Total)
			r.WeightedAvg.Precision += s.Precision * w
			r.WeightedAvg.Recall += s.Recall * w
			r.WeightedAvg.F1 += s.F1 * w
		}
	}
	return r, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Class returns the scores of a label, if it is in the label set.
func (r *Report) Class(label string) (ClassScore, bool) {
	for _, s := range r.Classes {
		if s.Label == label {
			return s, true
		}
	}
	return ClassScore{}, false
}
