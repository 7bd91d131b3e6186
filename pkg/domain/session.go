package domain

import "time"

// PatternType names a class of detected user friction.
type PatternType string

// Friction pattern classes emitted by the classifier.
const (
	PatternPerformanceDegradation PatternType = "performance_degradation"
	PatternAffordanceConfusion    PatternType = "affordance_confusion"
	PatternCognitiveOverload      PatternType = "cognitive_overload"
	PatternExpectationMismatch    PatternType = "expectation_mismatch"
)

// FrictionPattern is a scored, evidenced classification of behaviour
// indicating user difficulty. Severity is normalised to [0,1]. Evidence
// holds human-readable justifications drawn directly from the contributing
// events, in event order.
type FrictionPattern struct {
	PatternType   PatternType `json:"patternType"`
	Severity      float64     `json:"severity"`
	InstanceCount int         `json:"instanceCount"`
	Evidence      []string    `json:"evidence"`
}

// SessionSummary carries the derived metrics for a reconstructed session.
type SessionSummary struct {
	SessionID      string    `json:"sessionId"`
	StartTime      time.Time `json:"startTime"`
	EndTime        time.Time `json:"endTime"`
	DurationMs     int64     `json:"durationMs"`
	EventCount     int       `json:"eventCount"`
	PageViews      int       `json:"pageViews"`
	Interactions   int       `json:"interactions"`
	FrictionEvents int       `json:"frictionEvents"`
	Complete       bool      `json:"complete"`
}

// IntentHypothesis is a free-text guess at what the user was trying to do,
// produced by the external intent-inference collaborator.
type IntentHypothesis struct {
	Hypothesis         string   `json:"hypothesis"`
	Confidence         float64  `json:"confidence"`
	SupportingEvidence []string `json:"supportingEvidence"`
}

// InsightSummary is the full read-side response for a session: friction
// patterns and session metrics are always present; intent hypotheses may be
// empty when the inference collaborator is unavailable (a degraded but valid
// response, not a failure).
type InsightSummary struct {
	SessionID        string             `json:"sessionId"`
	GeneratedAt      time.Time          `json:"generatedAt"`
	Session          SessionSummary     `json:"session"`
	FrictionPatterns []FrictionPattern  `json:"frictionPatterns"`
	IntentHypotheses []IntentHypothesis `json:"intentHypotheses"`
	Recommendations  []string           `json:"recommendations"`
	ConfidenceScore  float64            `json:"confidenceScore"`
}
