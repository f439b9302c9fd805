package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yairfalse/valvo/config"
	"github.com/yairfalse/valvo/types"
)

func TestClassifyMatchesTable(t *testing.T) {
	table := config.DefaultSeverity()
	c := NewClassifier(table)

	for rule, want := range table {
		assert.Equal(t, want, c.Classify(rule), "rule %s", rule)
	}
}

func TestClassifyKnownTiers(t *testing.T) {
	c := NewClassifier(config.DefaultSeverity())

	assert.Equal(t, types.SeverityLow, c.Classify("required-tags"))
	assert.Equal(t, types.SeverityLow, c.Classify("restricted-ssh"))
	assert.Equal(t, types.SeverityMedium, c.Classify("s3-bucket-public-write-prohibited"))
	assert.Equal(t, types.SeverityHigh, c.Classify("root-account-mfa-enabled"))
}

func TestClassifyUnknownRuleDefaultsToMedium(t *testing.T) {
	c := NewClassifier(config.DefaultSeverity())

	// Unknown rules must get human attention: never LOW (silent auto-fix)
	// and never HIGH (silent suppression).
	assert.Equal(t, types.SeverityMedium, c.Classify("some-brand-new-rule"))
	assert.Equal(t, types.SeverityMedium, c.Classify(""))
}

func TestClassifierCopiesTable(t *testing.T) {
	table := map[string]types.Severity{"my-rule": types.SeverityLow}
	c := NewClassifier(table)

	table["my-rule"] = types.SeverityHigh

	assert.Equal(t, types.SeverityLow, c.Classify("my-rule"))
}
