package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yairfalse/valvo/types"
)

// ErrInvalidEvent marks envelopes that are not compliance change
// notifications or are missing required identity fields. Callers recover
// from it locally (skip with success), they do not retry.
var ErrInvalidEvent = errors.New("invalid compliance event")

// MessageTypeComplianceChange is the only message type the normalizer accepts
const MessageTypeComplianceChange = "ComplianceChangeNotification"

// Envelope is the inbound EventBridge event carrying a Config compliance change
type Envelope struct {
	Account string `json:"account"`
	Region  string `json:"region"`
	Time    string `json:"time"`
	ID      string `json:"id"`
	Detail  Detail `json:"detail"`
}

// Detail is the Config-specific part of the envelope
type Detail struct {
	MessageType         string           `json:"messageType"`
	ResourceID          string           `json:"resourceId"`
	ResourceType        string           `json:"resourceType"`
	ConfigRuleName      string           `json:"configRuleName"`
	NewEvaluationResult EvaluationResult `json:"newEvaluationResult"`
}

// EvaluationResult is the new compliance verdict for the resource
type EvaluationResult struct {
	ComplianceType string `json:"complianceType"`
	Annotation     string `json:"annotation"`
}

// Normalize parses a raw event into a canonical ViolationRecord. It is a
// pure transform: no network calls, no clock reads beyond the fallback
// timestamp. COMPLIANT records are returned as-is; the caller decides to
// short-circuit on them.
func Normalize(raw []byte) (*types.ViolationRecord, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	return NormalizeEnvelope(&env)
}

// NormalizeEnvelope converts an already-decoded envelope
func NormalizeEnvelope(env *Envelope) (*types.ViolationRecord, error) {
	if env.Detail.MessageType != MessageTypeComplianceChange {
		return nil, fmt.Errorf("%w: message type %q", ErrInvalidEvent, env.Detail.MessageType)
	}

	record := &types.ViolationRecord{
		AccountID:       env.Account,
		Region:          env.Region,
		ResourceID:      env.Detail.ResourceID,
		ResourceType:    env.Detail.ResourceType,
		RuleName:        env.Detail.ConfigRuleName,
		ComplianceState: env.Detail.NewEvaluationResult.ComplianceType,
		Annotation:      env.Detail.NewEvaluationResult.Annotation,
		EventID:         env.ID,
		Timestamp:       env.Time,
	}

	if record.Timestamp == "" {
		record.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	if !record.HasIdentity() {
		return nil, fmt.Errorf("%w: missing identity fields", ErrInvalidEvent)
	}

	return record, nil
}
