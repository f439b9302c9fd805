package types

import "time"

// Exception statuses as written by the waiver management API
const (
	ExceptionPending  = "pending"
	ExceptionApproved = "approved"
	ExceptionRejected = "rejected"
)

// ExceptionRecord is an enforcement waiver for one (account, resource, rule)
// triple. The core only reads these; the waiver API owns their lifecycle.
type ExceptionRecord struct {
	AccountID    string `json:"account_id"`
	ResourceID   string `json:"resource_id"`
	RuleName     string `json:"rule_name"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
	RequestedBy  string `json:"requested_by,omitempty"`
	ApprovedBy   string `json:"approved_by,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"` // epoch seconds, zero means no expiry
	DurationDays int    `json:"duration_days,omitempty"`
}

// Grants reports whether this exception waives enforcement at instant now.
// Only approved, unexpired exceptions grant a waiver.
func (e *ExceptionRecord) Grants(now time.Time) bool {
	if e.Status != ExceptionApproved {
		return false
	}
	if e.ExpiresAt != 0 && e.ExpiresAt <= now.Unix() {
		return false
	}
	return true
}
