package remediation

import "fmt"

// guardedRules are rule families whose remediation touches network
// exposure. Revoking ingress on a production security group can cut off
// live traffic, so these are never auto-remediated in production.
var guardedRules = map[string]bool{
	"restricted-ssh": true,
	"restricted-rdp": true,
}

// SafetyPolicy vetoes remediation classes per environment
type SafetyPolicy struct {
	environments *EnvironmentResolver
}

// NewSafetyPolicy creates a safety policy over the given environment
// resolver
func NewSafetyPolicy(environments *EnvironmentResolver) *SafetyPolicy {
	return &SafetyPolicy{environments: environments}
}

// Check returns whether remediating this rule in this account is vetoed,
// and a human-readable reason when it is. A veto is the intended outcome,
// not a failure: the engine escalates instead of acting.
func (p *SafetyPolicy) Check(ruleName, accountID string) (vetoed bool, reason string) {
	if !guardedRules[ruleName] {
		return false, ""
	}

	if p.environments.IsProduction(accountID) {
		return true, fmt.Sprintf(
			"automated ingress remediation for %s is blocked in production account %s; escalating for manual review",
			ruleName, accountID)
	}

	return false, ""
}
