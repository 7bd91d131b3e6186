package privacy

// Rule describes a single ordered regex substitution applied to string
// leaves before an event leaves the client.
type Rule struct {
	// Name identifies the rule (e.g. "pii.email").
	Name string `yaml:"name"`
	// Pattern is the regular expression to match.
	Pattern string `yaml:"pattern"`
	// Replacement is the fixed token substituted for every match.
	Replacement string `yaml:"replacement"`
}

// Config controls filtering behaviour.
type Config struct {
	// Rules are applied to every string leaf, in order. Empty selects the
	// builtin rule set.
	Rules []Rule `yaml:"rules"`

	// SensitiveFields lists key names whose entire value is replaced with
	// "[REDACTED]" regardless of content (case-insensitive substring
	// match). This check takes precedence over the per-string regex pass.
	SensitiveFields []string `yaml:"sensitive_fields"`

	// StrictMode additionally drops the userAgent and pageTitle context
	// fields during collection.
	StrictMode bool `yaml:"strict_mode"`
}

// Redacted is the token substituted for values under sensitive keys.
const Redacted = "[REDACTED]"

// Default sensitive key fragments. Matching is case-insensitive substring,
// so "userPassword" and "api_token" are both caught.
var defaultSensitiveFields = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"apikey",
	"api_key",
	"credential",
	"auth",
	"ssn",
	"creditcard",
}

// Query parameter names stripped wholesale by SanitizeURL.
var sensitiveQueryParams = []string{
	"token",
	"key",
	"password",
	"secret",
	"api_key",
	"auth",
	"session",
}

// DefaultRules returns the builtin ordered substitution list covering
// common PII classes. Replacement tokens are chosen so that re-filtering
// already-filtered output is a no-op.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:        "pii.email",
			Pattern:     `(?i)[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}`,
			Replacement: "[REDACTED_EMAIL]",
		},
		{
			Name:        "pii.phone",
			Pattern:     `\b\+?[0-9]{0,2}[-.\s]?\(?[0-9]{3}\)?[-.\s][0-9]{3}[-.\s][0-9]{4}\b`,
			Replacement: "[REDACTED_PHONE]",
		},
		{
			Name:        "pci.card-number",
			Pattern:     `\b(?:[0-9]{4}[-\s]?){3}[0-9]{4}\b`,
			Replacement: "[REDACTED_CC]",
		},
		{
			Name:        "pii.ssn",
			Pattern:     `\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`,
			Replacement: "[REDACTED_SSN]",
		},
		{
			Name:        "net.ip-address",
			Pattern:     `\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`,
			Replacement: "[REDACTED_IP]",
		},
	}
}

// DefaultConfig returns a baseline configuration with the builtin rules and
// sensitive field list.
func DefaultConfig() Config {
	return Config{
		Rules:           DefaultRules(),
		SensitiveFields: defaultSensitiveFields,
	}
}
