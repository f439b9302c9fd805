package types

// Severity is the enforcement tier assigned to a violation
type Severity string

const (
	SeverityLow    Severity = "LOW"    // auto-remediate
	SeverityMedium Severity = "MEDIUM" // notify
	SeverityHigh   Severity = "HIGH"   // log only, manual review
)

// Compliance states reported by the evaluation service
const (
	StateCompliant    = "COMPLIANT"
	StateNonCompliant = "NON_COMPLIANT"
)

// ViolationRecord is the canonical unit of work flowing through the pipeline.
// It is built once by the normalizer, enriched by the exception resolver and
// classifier, and written exactly once to the history store.
type ViolationRecord struct {
	AccountID        string   `json:"account_id"`
	Region           string   `json:"region"`
	ResourceID       string   `json:"resource_id"`
	ResourceType     string   `json:"resource_type"`
	RuleName         string   `json:"rule_name"`
	ComplianceState  string   `json:"compliance_type"`
	Annotation       string   `json:"annotation,omitempty"`
	EventID          string   `json:"event_id"`
	Timestamp        string   `json:"timestamp"`
	Severity         Severity `json:"severity,omitempty"`
	ExceptionApplied bool     `json:"exception_applied,omitempty"`
	ExceptionReason  string   `json:"exception_reason,omitempty"`
}

// IsNonCompliant reports whether this record needs enforcement at all
func (v *ViolationRecord) IsNonCompliant() bool {
	return v.ComplianceState == StateNonCompliant
}

// HasIdentity reports whether the record carries the fields every
// downstream step depends on
func (v *ViolationRecord) HasIdentity() bool {
	return v.AccountID != "" && v.Region != "" && v.ResourceID != "" && v.RuleName != ""
}

// ResourceKind is the closed set of resource types the tag remediation
// knows how to handle. Anything else maps to ResourceKindUnsupported.
type ResourceKind int

const (
	ResourceKindUnsupported ResourceKind = iota
	ResourceKindEC2Instance
	ResourceKindS3Bucket
	ResourceKindLambdaFunction
)

// KindOf maps an AWS Config resource type string to a ResourceKind
func KindOf(resourceType string) ResourceKind {
	switch resourceType {
	case "AWS::EC2::Instance":
		return ResourceKindEC2Instance
	case "AWS::S3::Bucket":
		return ResourceKindS3Bucket
	case "AWS::Lambda::Function":
		return ResourceKindLambdaFunction
	default:
		return ResourceKindUnsupported
	}
}

// String returns the kind as a short label for logs
func (k ResourceKind) String() string {
	switch k {
	case ResourceKindEC2Instance:
		return "ec2-instance"
	case ResourceKindS3Bucket:
		return "s3-bucket"
	case ResourceKindLambdaFunction:
		return "lambda-function"
	default:
		return "unsupported"
	}
}
