package types

// Result statuses for one processed event
const (
	StatusProcessed = "processed"
	StatusSkipped   = "skipped"
	StatusExcepted  = "excepted"
)

// Action labels describing what the router did with a violation
const (
	ActionAutoRemediate = "auto_remediate"
	ActionNotify        = "notify"
	ActionLogOnly       = "log_only"
	ActionNone          = "none"
)

// Result is what a caller gets back from processing one event: enough
// context to audit the decision without reading logs.
type Result struct {
	Status      string   `json:"status"`
	Message     string   `json:"message"`
	RuleName    string   `json:"rule_name,omitempty"`
	ResourceID  string   `json:"resource_id,omitempty"`
	AccountID   string   `json:"account_id,omitempty"`
	Severity    Severity `json:"severity,omitempty"`
	Action      string   `json:"action,omitempty"`
	Environment string   `json:"environment,omitempty"`
}

// ActionForSeverity maps a severity tier to the action label the router
// will take for it
func ActionForSeverity(s Severity) string {
	switch s {
	case SeverityLow:
		return ActionAutoRemediate
	case SeverityMedium:
		return ActionNotify
	case SeverityHigh:
		return ActionLogOnly
	default:
		return ActionNone
	}
}

// RemediationRequest is the payload shape sent to the remediation engine
// and the notification service
type RemediationRequest struct {
	Action         string          `json:"action"`
	ComplianceData ViolationRecord `json:"compliance_data"`
	InvokedAt      string          `json:"invoked_at,omitempty"`
}

// Request actions
const (
	RequestRemediate = "remediate"
	RequestNotify    = "notify"
)
