package ranking

import (
	"fmt"

	"github.com/sells-group/ranklab/internal/expr"
	"github.com/sells-group/ranklab/internal/model"
)

// ValidationError reports a formula that references a name outside its
// allowed set, or a structurally invalid metric definition. It is raised at
// definition time, before any candidate data exists or any external call is
// made.
type ValidationError struct {
	MetricKey string
	Formula   string
	Name      string // first unknown variable, empty for structural errors
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("ranking: formula %q on metric %q references unknown variable %q", e.Formula, e.MetricKey, e.Name)
	}
	return fmt.Sprintf("ranking: metric %q: %s", e.MetricKey, e.Reason)
}

// ValidateFormulas statically checks every formula metric in the ordered
// metric sequence. A formula may reference, by key or label, only metrics
// strictly before it in the sequence, plus the reserved name "score". The
// constants pi and e are always legal and never checked. Formulas are parsed
// but never evaluated, so this terminates even on expressions that would fail
// numerically.
func ValidateFormulas(metrics []model.Metric) error {
	// allowed accumulates the keys and labels of metrics already seen.
	allowed := map[string]bool{model.ScoreVar: true}

	for _, m := range metrics {
		if m.Type != model.MetricFormula {
			if m.Formula != "" {
				return &ValidationError{MetricKey: m.Key, Reason: "formula supplied on non-formula metric"}
			}
			allowed[m.Key] = true
			if m.Label != "" {
				allowed[m.Label] = true
			}
			continue
		}

		if m.Formula == "" {
			return &ValidationError{MetricKey: m.Key, Reason: "formula metric has no formula"}
		}

		parsed, err := expr.Parse(m.Formula)
		if err != nil {
			return &ValidationError{MetricKey: m.Key, Formula: m.Formula, Reason: fmt.Sprintf("invalid expression: %v", err)}
		}

		for _, name := range parsed.Vars() {
			if !allowed[name] {
				return &ValidationError{MetricKey: m.Key, Formula: m.Formula, Name: name}
			}
		}

		// A formula metric's own key/label becomes available to later formulas.
		allowed[m.Key] = true
		if m.Label != "" {
			allowed[m.Label] = true
		}
	}

	return nil
}
