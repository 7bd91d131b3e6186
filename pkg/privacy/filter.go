// Package privacy redacts PII from arbitrary event payloads and sanitizes
// URLs and DOM selectors. Filtering is pure: inputs are never mutated and
// identical input always produces identical output, so it is safe to call
// on every event before it leaves the client.
package privacy

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

type compiledRule struct {
	name        string
	expr        *regexp.Regexp
	replacement string
}

// Filter applies an ordered list of regex substitutions and a sensitive
// key deny-list to event payloads. Safe for concurrent use.
type Filter struct {
	rules           []compiledRule
	sensitiveFields []string
	strict          bool
}

var (
	selectorIDPattern   = regexp.MustCompile(`#[A-Za-z0-9_-]+`)
	selectorDataPattern = regexp.MustCompile(`\[data-[^\]]*\]`)
)

// NewFilter compiles cfg into a Filter. Empty rule or field lists fall back
// to the builtin defaults.
func NewFilter(cfg Config) (*Filter, error) {
	rules := cfg.Rules
	if len(rules) == 0 {
		rules = DefaultRules()
	}

	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		name := strings.TrimSpace(rule.Name)
		if name == "" {
			return nil, fmt.Errorf("privacy: rule name is required")
		}
		pattern := strings.TrimSpace(rule.Pattern)
		if pattern == "" {
			return nil, fmt.Errorf("privacy: pattern is required for rule %s", name)
		}
		expr, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("privacy: invalid pattern for rule %s: %w", name, err)
		}
		replacement := rule.Replacement
		if replacement == "" {
			replacement = Redacted
		}
		compiled = append(compiled, compiledRule{name: name, expr: expr, replacement: replacement})
	}

	fields := cfg.SensitiveFields
	if len(fields) == 0 {
		fields = defaultSensitiveFields
	}
	lowered := make([]string, len(fields))
	for i, f := range fields {
		lowered[i] = strings.ToLower(f)
	}

	return &Filter{rules: compiled, sensitiveFields: lowered, strict: cfg.StrictMode}, nil
}

// Strict reports whether the filter was configured for strict privacy mode.
func (f *Filter) Strict() bool { return f.strict }

// FilterString applies the ordered substitution rules to a single string.
func (f *Filter) FilterString(s string) string {
	result := s
	for _, rule := range f.rules {
		result = rule.expr.ReplaceAllString(result, rule.replacement)
	}
	return result
}

// FilterObject recursively walks an arbitrary key/value structure and
// returns a filtered copy. Values under sensitive keys are replaced
// wholesale with the Redacted token; this takes precedence over the
// per-string regex pass. Non-string scalars pass through unchanged.
func (f *Filter) FilterObject(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	result := make(map[string]any, len(payload))
	for key, value := range payload {
		if f.isSensitiveKey(key) {
			result[key] = Redacted
			continue
		}
		result[key] = f.filterValue(value)
	}
	return result
}

func (f *Filter) filterValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return f.FilterObject(v)
	case []any:
		filtered := make([]any, len(v))
		for i, item := range v {
			filtered[i] = f.filterValue(item)
		}
		return filtered
	case string:
		return f.FilterString(v)
	default:
		return v
	}
}

// SanitizeURL strips the fixed set of sensitive query parameters from raw
// and then applies the regex pass to what remains. Malformed URLs fall back
// to filtering the raw string.
func (f *Filter) SanitizeURL(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return f.FilterString(raw)
	}

	query := parsed.Query()
	for _, param := range sensitiveQueryParams {
		for name := range query {
			if strings.EqualFold(name, param) {
				query.Del(name)
			}
		}
	}
	parsed.RawQuery = query.Encode()

	return f.FilterString(parsed.String())
}

// SanitizeSelector strips #id fragments and data-* attribute predicates
// from a DOM selector, collapsing it to tag and class names only. Returns
// "unknown" when nothing survives.
func (f *Filter) SanitizeSelector(selector string) string {
	s := selectorIDPattern.ReplaceAllString(selector, "")
	s = selectorDataPattern.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return s
}

// IsSensitiveField reports whether key matches the configured sensitive
// field list (case-insensitive substring match).
func (f *Filter) IsSensitiveField(key string) bool {
	return f.isSensitiveKey(key)
}

func (f *Filter) isSensitiveKey(key string) bool {
	lowered := strings.ToLower(key)
	for _, fragment := range f.sensitiveFields {
		if strings.Contains(lowered, fragment) {
			return true
		}
	}
	return false
}
