// Package report renders classification reports for cascade runs.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Zerofisher/canids/metrics"
)

// Data holds all data for report generation.
type Data struct {
	// Meta
	RunID       string
	GeneratedAt time.Time
	Name        string
	Variant     string
	FeatureSet  string
	Backend     string

	// Row counts after filtering
	TrainRows int
	TestRows  int

	Sections []*Section
}

// Section is one scored prediction vector: a stage, optionally restricted to
// a segment such as an interface.
type Section struct {
	Title   string // e.g. Binary, Multi
	Segment string // empty for the whole test set
	Report  *metrics.Report
}

// Heading returns the section title with its segment.
func (s *Section) Heading() string {
	if s.Segment == "" {
		return s.Title
	}
	return fmt.Sprintf("%s [%s]", s.Title, s.Segment)
}

// Generate starts a report for a run.
func Generate(name string) *Data {
	return &Data{
		RunID:       uuid.NewString(),
		GeneratedAt: time.Now(),
		Name:        name,
	}
}

// Add appends a section.
func (d *Data) Add(title, segment string, r *metrics.Report) {
	d.Sections = append(d.Sections, &Section{Title: title, Segment: segment, Report: r})
}

// Section returns the first section with the given title and segment.
func (d *Data) Section(title, segment string) (*Section, bool) {
	for _, s := range d.Sections {
		if s.Title == title && s.Segment == segment {
			return s, true
		}
	}
	return nil, false
}

// WriteFile writes the report to path in the given format.
func WriteFile(path string, d *Data, format string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	switch format {
	case "markdown", "md":
		err = WriteMarkdown(f, d)
	case "text", "":
		err = WriteText(f, d)
	default:
		err = fmt.Errorf("unknown report format: %s", format)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// ────────────────────────────────────────────────────────────────────────────────
// Text
// ────────────────────────────────────────────────────────────────────────────────

// WriteText renders the classic precision/recall/F1 table for every section,
// followed by its confusion matrix.
func WriteText(w io.Writer, d *Data) error {
	var b strings.Builder
	writeHeader(&b, d)
	for _, s := range d.Sections {
		fmt.Fprintf(&b, "\n== %s ==\n\n", s.Heading())
		writeScores(&b, s.Report)
		b.WriteString("\n")
		writeConfusion(&b, s.Report)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeHeader(b *strings.Builder, d *Data) {
	fmt.Fprintf(b, "Report:     %s\n", d.Name)
	fmt.Fprintf(b, "Run ID:     %s\n", d.RunID)
	fmt.Fprintf(b, "Generated:  %s\n", d.GeneratedAt.Format(time.RFC3339))
	if d.Variant != "" {
		fmt.Fprintf(b, "Variant:    %s\n", d.Variant)
	}
	if d.FeatureSet != "" {
		fmt.Fprintf(b, "Features:   %s\n", d.FeatureSet)
	}
	if d.Backend != "" {
		fmt.Fprintf(b, "Backend:    %s\n", d.Backend)
	}
	if d.TrainRows > 0 || d.TestRows > 0 {
		fmt.Fprintf(b, "Rows:       train %d, test %d\n", d.TrainRows, d.TestRows)
	}
}

func labelWidth(r *metrics.Report) int {
	w := len("weighted avg")
	for _, c := range r.Classes {
		w = max(w, len(c.Label))
	}
	return w
}

func writeScores(b *strings.Builder, r *metrics.Report) {
	w := labelWidth(r)
	fmt.Fprintf(b, "%*s %10s %10s %10s %10s\n\n", w, "", "precision", "recall", "f1-score", "support")
	for _, c := range r.Classes {
		fmt.Fprintf(b, "%*s %10.4f %10.4f %10.4f %10d\n", w, c.Label, c.Precision, c.Recall, c.F1, c.Support)
	}
	b.WriteString("\n")
	fmt.Fprintf(b, "%*s %10s %10s %10.4f %10d\n", w, "accuracy", "", "", r.Accuracy, r.Total)
	for _, avg := range []metrics.ClassScore{r.MacroAvg, r.WeightedAvg} {
		fmt.Fprintf(b, "%*s %10.4f %10.4f %10.4f %10d\n", w, avg.Label, avg.Precision, avg.Recall, avg.F1, avg.Support)
	}
}

func writeConfusion(b *strings.Builder, r *metrics.Report) {
	w := labelWidth(r)
	cell := 8
	for _, c := range r.Classes {
		cell = max(cell, len(c.Label)+1)
	}
	fmt.Fprintf(b, "%*s", w, "true \\ pred")
	for _, c := range r.Classes {
		fmt.Fprintf(b, "%*s", cell, c.Label)
	}
	b.WriteString("\n")
	for i, c := range r.Classes {
		fmt.Fprintf(b, "%*s", w, c.Label)
		for _, n := range r.Confusion[i] {
			fmt.Fprintf(b, "%*d", cell, n)
		}
		b.WriteString("\n")
	}
}

// ────────────────────────────────────────────────────────────────────────────────
// Markdown
// ────────────────────────────────────────────────────────────────────────────────

// WriteMarkdown renders the report as Markdown tables.
func WriteMarkdown(w io.Writer, d *Data) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", d.Name)
	fmt.Fprintf(&b, "- Run ID: `%s`\n", d.RunID)
	fmt.Fprintf(&b, "- Generated: %s\n", d.GeneratedAt.Format(time.RFC3339))
	if d.Variant != "" {
		fmt.Fprintf(&b, "- Variant: %s\n", d.Variant)
	}
	if d.FeatureSet != "" {
		fmt.Fprintf(&b, "- Features: %s\n", d.FeatureSet)
	}
	if d.Backend != "" {
		fmt.Fprintf(&b, "- Backend: %s\n", d.Backend)
	}

	for _, s := range d.Sections {
		r := s.Report
		fmt.Fprintf(&b, "\n## %s\n\n", s.Heading())
		fmt.Fprintf(&b, "Accuracy: **%.4f** over %d rows\n\n", r.Accuracy, r.Total)
		b.WriteString("| Class | Precision | Recall | F1 | Support |\n|---|---:|---:|---:|---:|\n")
		for _, c := range append(append([]metrics.ClassScore(nil), r.Classes...), r.MacroAvg, r.WeightedAvg) {
			fmt.Fprintf(&b, "| %s | %.4f | %.4f | %.4f | %d |\n", c.Label, c.Precision, c.Recall, c.F1, c.Support)
		}

		b.WriteString("\n| true \\ pred |")
		for _, c := range r.Classes {
			fmt.Fprintf(&b, " %s |", c.Label)
		}
		b.WriteString("\n|---|")
		for range r.Classes {
			b.WriteString("---:|")
		}
		b.WriteString("\n")
		for i, c := range r.Classes {
			fmt.Fprintf(&b, "| %s |", c.Label)
			for _, n := range r.Confusion[i] {
				fmt.Fprintf(&b, " %d |", n)
			}
			b.WriteString("\n")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
