package policy

import "github.com/yairfalse/valvo/types"

// Classifier maps rule names to severity tiers via a fixed table loaded
// at process start
type Classifier struct {
	table map[string]types.Severity
}

// NewClassifier builds a classifier from a severity table. The table is
// copied so later mutation of the argument cannot change classification.
func NewClassifier(table map[string]types.Severity) *Classifier {
	copied := make(map[string]types.Severity, len(table))
	for rule, sev := range table {
		copied[rule] = sev
	}
	return &Classifier{table: copied}
}

// Classify returns the severity tier for a rule. Unknown rules classify as
// MEDIUM: unrecognized violations get human attention rather than a silent
// auto-fix or silent suppression.
func (c *Classifier) Classify(ruleName string) types.Severity {
	if sev, ok := c.table[ruleName]; ok {
		return sev
	}
	return types.SeverityMedium
}
