// Package friction evaluates deterministic rules over a reconstructed
// session to emit scored friction patterns.
//
// Classification is pure and total: identical input sessions produce
// identical pattern lists, and any well-formed session (including an empty
// one) classifies without error. The non-deterministic intent-inference
// collaborator lives outside this package.
package friction

import (
	"fmt"
	"time"

	"github.com/intentlabs/intent-telemetry/pkg/domain"
	"github.com/intentlabs/intent-telemetry/pkg/reconstruct"
)

// Thresholds tune the detectors. Zero fields select defaults.
type Thresholds struct {
	// SlowLoadMs is the page load time above which a load counts as slow.
	SlowLoadMs float64
	// LatencyMs is the interaction latency above which a latency event
	// counts as an overrun.
	LatencyMs float64
	// IdleGapMs is the pause between consecutive events that counts as a
	// stall for the cognitive overload detector.
	IdleGapMs float64
	// ReversalBurst is the reversal count treated as systematic
	// backtracking rather than incidental navigation.
	ReversalBurst int
}

// Default thresholds.
const (
	DefaultSlowLoadMs    = 3000
	DefaultLatencyMs     = 1000
	DefaultIdleGapMs     = 30000
	DefaultReversalBurst = 3
)

func (t *Thresholds) applyDefaults() {
	if t.SlowLoadMs <= 0 {
		t.SlowLoadMs = DefaultSlowLoadMs
	}
	if t.LatencyMs <= 0 {
		t.LatencyMs = DefaultLatencyMs
	}
	if t.IdleGapMs <= 0 {
		t.IdleGapMs = DefaultIdleGapMs
	}
	if t.ReversalBurst <= 0 {
		t.ReversalBurst = DefaultReversalBurst
	}
}

// Classifier runs the four detectors. The zero value is not usable; call
// NewClassifier.
type Classifier struct {
	thresholds Thresholds
}

// NewClassifier builds a Classifier with the given thresholds.
func NewClassifier(thresholds Thresholds) *Classifier {
	thresholds.applyDefaults()
	return &Classifier{thresholds: thresholds}
}

// Classify evaluates all detectors over the session's ordered event list
// using default thresholds. Each detector contributes zero or one pattern;
// detectors run independently, and equally severe patterns are all
// reported. Ranking is the caller's concern.
func Classify(session *reconstruct.Session) []domain.FrictionPattern {
	return NewClassifier(Thresholds{}).Classify(session)
}

// Classify evaluates all detectors with the classifier's thresholds.
func (c *Classifier) Classify(session *reconstruct.Session) []domain.FrictionPattern {
	patterns := make([]domain.FrictionPattern, 0, 4)

	detectors := []func(*reconstruct.Session) (domain.FrictionPattern, bool){
		c.detectPerformanceDegradation,
		c.detectAffordanceConfusion,
		c.detectCognitiveOverload,
		c.detectExpectationMismatch,
	}
	for _, detect := range detectors {
		if pattern, ok := detect(session); ok {
			patterns = append(patterns, pattern)
		}
	}
	return patterns
}

// detectPerformanceDegradation scores slow page loads and high-latency
// interactions. Severity scales with the count and magnitude of overruns.
func (c *Classifier) detectPerformanceDegradation(s *reconstruct.Session) (domain.FrictionPattern, bool) {
	var contributions []float64
	var evidence []string

	for _, event := range s.EventsByType(domain.EventPerformanceLoad) {
		loadTime := numField(event.Data, "loadTime")
		if loadTime > c.thresholds.SlowLoadMs {
			contributions = append(contributions, clamp(loadTime/10000))
			evidence = append(evidence, fmt.Sprintf("Slow page load detected: %.0fms", loadTime))
		}
	}

	for _, event := range s.EventsByType(domain.EventPerformanceLatency) {
		latency := numField(event.Data, "latency")
		if latency > c.thresholds.LatencyMs {
			operation := strField(event.Data, "operation", "unknown")
			contributions = append(contributions, clamp(latency/5000))
			evidence = append(evidence, fmt.Sprintf("High latency for %s: %.0fms", operation, latency))
		}
	}

	return buildPattern(domain.PatternPerformanceDegradation, contributions, evidence)
}

// detectAffordanceConfusion scores click bursts and quick navigation
// reversals, both signs of unclear feedback.
func (c *Classifier) detectAffordanceConfusion(s *reconstruct.Session) (domain.FrictionPattern, bool) {
	var contributions []float64
	var evidence []string

	for _, event := range s.EventsByType(domain.EventFrictionRapidClick) {
		clickCount := numField(event.Data, "clickCount")
		target := strField(event.Data, "target", "unknown")
		windowMs := numField(event.Data, "windowMs")
		contributions = append(contributions, clamp(clickCount/10))
		if windowMs > 0 {
			evidence = append(evidence, fmt.Sprintf("%.0f rapid clicks on '%s' within %.0fms", clickCount, target, windowMs))
		} else {
			evidence = append(evidence, fmt.Sprintf("%.0f rapid clicks on '%s'", clickCount, target))
		}
	}

	for _, event := range s.EventsByType(domain.EventFrictionNavigationReversal) {
		timeOnPage := numField(event.Data, "timeOnPage")
		if timeOnPage < 2000 {
			contributions = append(contributions, 0.7)
			evidence = append(evidence, fmt.Sprintf("Navigation reversed after only %.0fms on page", timeOnPage))
		}
	}

	return buildPattern(domain.PatternAffordanceConfusion, contributions, evidence)
}

// detectCognitiveOverload scores abandoned forms and long stalls between
// consecutive events.
func (c *Classifier) detectCognitiveOverload(s *reconstruct.Session) (domain.FrictionPattern, bool) {
	var contributions []float64
	var evidence []string

	for _, event := range s.EventsByType(domain.EventFrictionFormAbandonment) {
		completed := numField(event.Data, "fieldsCompleted")
		total := numField(event.Data, "totalFields")
		completionRate := 0.0
		if total > 0 {
			completionRate = completed / total
		}
		contributions = append(contributions, clamp(1-completionRate))
		evidence = append(evidence, fmt.Sprintf("Form abandoned after completing %.0f/%.0f fields", completed, total))
	}

	idleGap := time.Duration(c.thresholds.IdleGapMs) * time.Millisecond
	for i := 1; i < len(s.Events); i++ {
		prev, next := s.Events[i-1], s.Events[i]
		// A pause the user resumed from promptly is not a stall.
		if prev.Type == domain.EventSessionPause && next.Type == domain.EventSessionResume {
			continue
		}
		gap := next.Timestamp.Sub(prev.Timestamp)
		if gap > idleGap {
			contributions = append(contributions, 0.3)
			evidence = append(evidence, fmt.Sprintf("No activity for %.0fs between %s and %s",
				gap.Seconds(), prev.Type, next.Type))
		}
	}

	return buildPattern(domain.PatternCognitiveOverload, contributions, evidence)
}

// detectExpectationMismatch scores errors and systematic backtracking.
// Severity scales with error count and the reversal-to-navigation ratio.
func (c *Classifier) detectExpectationMismatch(s *reconstruct.Session) (domain.FrictionPattern, bool) {
	errorEvents := s.EventsByType(domain.EventFrictionError)
	reversals := s.EventsByType(domain.EventFrictionNavigationReversal)

	var contributions []float64
	var evidence []string

	for _, event := range errorEvents {
		errorType := strField(event.Data, "errorType", "unknown")
		contributions = append(contributions, 0.8)
		evidence = append(evidence, fmt.Sprintf("Error encountered: %s", errorType))
	}

	if len(reversals) >= c.thresholds.ReversalBurst {
		contributions = append(contributions, 0.6)
		evidence = append(evidence, fmt.Sprintf("Multiple navigation reversals (%d) suggest unmet expectations", len(reversals)))
	}

	pattern, ok := buildPattern(domain.PatternExpectationMismatch, contributions, evidence)
	if !ok {
		return pattern, false
	}

	// Errors paired with backtracking score higher than either alone.
	if len(errorEvents) > 0 && len(reversals) > 0 {
		navigations := 0
		for _, event := range s.Events {
			switch event.Type {
			case domain.EventViewTransition, domain.EventNavigationBack, domain.EventNavigationForward:
				navigations++
			}
		}
		if navigations > 0 {
			ratio := float64(len(reversals)) / float64(navigations)
			pattern.Severity = clamp(pattern.Severity + 0.2*clamp(ratio))
		}
	}
	return pattern, true
}

// buildPattern aggregates detector contributions: severity is the largest
// single contribution plus 0.1 per additional instance, capped at 1.0.
func buildPattern(patternType domain.PatternType, contributions []float64, evidence []string) (domain.FrictionPattern, bool) {
	if len(contributions) == 0 {
		return domain.FrictionPattern{}, false
	}

	maxContribution := 0.0
	for _, c := range contributions {
		if c > maxContribution {
			maxContribution = c
		}
	}
	severity := clamp(maxContribution + 0.1*float64(len(contributions)-1))

	return domain.FrictionPattern{
		PatternType:   patternType,
		Severity:      severity,
		InstanceCount: len(contributions),
		Evidence:      evidence,
	}, true
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func numField(data map[string]any, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func strField(data map[string]any, key, fallback string) string {
	if v, ok := data[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
