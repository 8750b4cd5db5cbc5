// Package filter selects feature rows: the train/test retention policies
// applied before model consumption, and ad-hoc row filters using expr-lang/expr.
package filter

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/Zerofisher/canids/pkg/model"
)

// RowEnv is the environment for expression evaluation.
type RowEnv struct {
	Interface     string  `expr:"interface"`
	Timestamp     float64 `expr:"timestamp"`
	ArbitrationID int     `expr:"arbitration_id"`
	DLC           int     `expr:"dlc"`
	Data          string  `expr:"data"`
	Label         string  `expr:"label"`
	Class         int     `expr:"class"`
	Attack        bool    `expr:"attack"`
}

// CompiledFilter holds a compiled row expression.
type CompiledFilter struct {
	source  string
	program *vm.Program
	labels  model.LabelMap
}

// Compile compiles a row filter expression, e.g.
//
//	id >= 0x700 && label == "Fuzzing"
//	interface in {"B-CAN", "C-CAN"}
func Compile(filterStr string, labels model.LabelMap) (*CompiledFilter, error) {
	processed := preprocessFilter(filterStr)

	program, err := expr.Compile(processed, expr.Env(RowEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile filter '%s': %w", filterStr, err)
	}
	return &CompiledFilter{source: filterStr, program: program, labels: labels}, nil
}

// String returns the source expression.
func (c *CompiledFilter) String() string { return c.source }

// Match evaluates the expression for one row. Evaluation errors count as no
// match.
func (c *CompiledFilter) Match(r *model.Row) bool {
	result, err := expr.Run(c.program, c.env(r))
	if err != nil {
		return false
	}
	b, ok := result.(bool)
	return ok && b
}

// Apply returns a new table holding the matching rows.
func (c *CompiledFilter) Apply(t *model.Table) *model.Table {
	return t.Where(c.Match)
}

func (c *CompiledFilter) env(r *model.Row) RowEnv {
	label, _ := c.labels.Name(r.Label)
	return RowEnv{
		Interface:     r.Interface,
		Timestamp:     r.Timestamp,
		ArbitrationID: int(r.ArbitrationID),
		DLC:           r.DLC,
		Data:          r.Data,
		Label:         label,
		Class:         r.Class,
		Attack:        r.Class == model.ClassAttack,
	}
}

// Short field names accepted in filters.
var fieldAliases = map[string]string{
	"id":     "arbitration_id",
	"can.id": "arbitration_id",
	"iface":  "interface",
	"ts":     "timestamp",
}

// preprocessFilter rewrites shorthand field names and set literals.
func preprocessFilter(filter string) string {
	words := tokenizeFilter(filter)
	for i, word := range words {
		if repl, ok := fieldAliases[strings.ToLower(word)]; ok && !quoted(words, i) {
			words[i] = repl
		}
	}
	filter = strings.Join(words, "")

	// "in {x, y}" -> "in [x, y]"
	filter = strings.ReplaceAll(filter, "{", "[")
	filter = strings.ReplaceAll(filter, "}", "]")
	return filter
}

// quoted reports whether token i is inside a string literal.
func quoted(tokens []string, i int) bool {
	n := 0
	for _, tok := range tokens[:i] {
		n += strings.Count(tok, `"`)
	}
	return n%2 == 1
}

// tokenizeFilter breaks a filter string into tokens while preserving every
// character, so that joining the tokens restores the input.
func tokenizeFilter(filter string) []string {
	var tokens []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, ch := range filter {
		switch ch {
		case ' ', '\t', '\n', '(', ')', '[', ']', '{', '}', ',', '!', '=', '>', '<', '&', '|':
			flush()
			tokens = append(tokens, string(ch))
		default:
			current.WriteRune(ch)
		}
	}
	flush()
	return tokens
}
