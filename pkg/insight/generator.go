// Package insight combines deterministic friction classification with
// optional intent inference into a single read-side summary per session.
package insight

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/intentlabs/intent-telemetry/pkg/domain"
	"github.com/intentlabs/intent-telemetry/pkg/friction"
	"github.com/intentlabs/intent-telemetry/pkg/reconstruct"
)

// Inferrer produces intent hypotheses for a session. Implementations are
// typically backed by an external model and may fail or be slow; the
// generator treats both as degraded-but-valid.
type Inferrer interface {
	Infer(ctx context.Context, session *reconstruct.Session, patterns []domain.FrictionPattern) ([]domain.IntentHypothesis, error)
}

// Generator assembles insight summaries. Friction classification always
// runs; intent inference runs only when an Inferrer is configured.
type Generator struct {
	classifier *friction.Classifier
	inferrer   Inferrer
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithInferrer attaches an intent-inference collaborator.
func WithInferrer(inferrer Inferrer) Option {
	return func(g *Generator) { g.inferrer = inferrer }
}

// WithClassifier overrides the default friction classifier.
func WithClassifier(classifier *friction.Classifier) Option {
	return func(g *Generator) { g.classifier = classifier }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) { g.logger = logger }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// NewGenerator builds a Generator. Without WithInferrer, summaries carry a
// placeholder hypothesis instead of inferred intent.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		classifier: friction.NewClassifier(friction.Thresholds{}),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate produces the insight summary for a session. Inference failure is
// logged and degrades the summary to a placeholder hypothesis; it never
// fails the read.
func (g *Generator) Generate(ctx context.Context, session *reconstruct.Session) domain.InsightSummary {
	patterns := g.classifier.Classify(session)
	summary := session.Summary()

	hypotheses := g.inferIntent(ctx, session, patterns, summary)

	return domain.InsightSummary{
		SessionID:        session.SessionID,
		GeneratedAt:      g.now().UTC(),
		Session:          summary,
		FrictionPatterns: patterns,
		IntentHypotheses: hypotheses,
		Recommendations:  recommendations(patterns, hypotheses),
		ConfidenceScore:  confidenceScore(hypotheses, patterns),
	}
}

func (g *Generator) inferIntent(ctx context.Context, session *reconstruct.Session, patterns []domain.FrictionPattern, summary domain.SessionSummary) []domain.IntentHypothesis {
	if g.inferrer != nil {
		hypotheses, err := g.inferrer.Infer(ctx, session, patterns)
		if err == nil {
			return hypotheses
		}
		g.logger.Warn("intent inference failed, using placeholder",
			"session_id", session.SessionID,
			"error", err)
	}

	return []domain.IntentHypothesis{{
		Hypothesis: "User interacted with the application (intent inference unavailable)",
		Confidence: 0.5,
		SupportingEvidence: []string{
			fmt.Sprintf("Session included %d events", summary.EventCount),
			fmt.Sprintf("User visited %d pages", summary.PageViews),
		},
	}}
}

// recommendations maps detected pattern types to actionable guidance, in a
// fixed order so repeated reads agree.
func recommendations(patterns []domain.FrictionPattern, hypotheses []domain.IntentHypothesis) []string {
	recs := []string{}

	byType := make(map[domain.PatternType][]domain.FrictionPattern)
	for _, p := range patterns {
		byType[p.PatternType] = append(byType[p.PatternType], p)
	}

	if perf := byType[domain.PatternPerformanceDegradation]; len(perf) > 0 {
		total := 0.0
		for _, p := range perf {
			total += p.Severity
		}
		if total/float64(len(perf)) > 0.7 {
			recs = append(recs, "Critical: optimize page load performance and reduce interaction latency")
		} else {
			recs = append(recs, "Monitor and improve performance metrics for better user experience")
		}
	}
	if len(byType[domain.PatternAffordanceConfusion]) > 0 {
		recs = append(recs, "Improve visual feedback for interactive elements (loading states, hover effects, click acknowledgment)")
	}
	if len(byType[domain.PatternCognitiveOverload]) > 0 {
		recs = append(recs, "Simplify forms and reduce cognitive load (progressive disclosure, better labels, inline validation)")
	}
	if len(byType[domain.PatternExpectationMismatch]) > 0 {
		recs = append(recs, "Align UI behaviour with user expectations (clearer error messages, better navigation cues)")
	}

	for _, h := range hypotheses {
		if h.Confidence > 0.7 && mentionsStruggle(h.Hypothesis) {
			recs = append(recs, fmt.Sprintf("User appears to be struggling with: %s", h.Hypothesis))
		}
	}

	switch {
	case len(patterns) == 0:
		recs = append(recs, "Session appears smooth with no major friction detected")
	case len(patterns) >= 5:
		recs = append(recs, "High friction detected across multiple areas, prioritize UX improvements")
	}
	return recs
}

func mentionsStruggle(hypothesis string) bool {
	lower := strings.ToLower(hypothesis)
	return strings.Contains(lower, "abandon") || strings.Contains(lower, "unable")
}

// confidenceScore weights the strongest intent hypothesis against the
// volume of friction evidence: 0.7*maxConfidence + 0.3*min(1, patterns/10),
// rounded to two decimals.
func confidenceScore(hypotheses []domain.IntentHypothesis, patterns []domain.FrictionPattern) float64 {
	intentConfidence := 0.0
	for _, h := range hypotheses {
		if h.Confidence > intentConfidence {
			intentConfidence = h.Confidence
		}
	}
	frictionFactor := math.Min(1, float64(len(patterns))/10)
	return math.Round((intentConfidence*0.7+frictionFactor*0.3)*100) / 100
}
