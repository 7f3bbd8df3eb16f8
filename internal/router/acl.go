package router

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// ErrForbidden is returned when admission control denies a recipient.
var ErrForbidden = errors.New("recipient forbidden")

// ACL is the per-recipient admission policy. Deny rules win over allow
// rules; production defaults to allow-list-only.
type ACL struct {
	allowPrefixes []string
	denyPrefixes  []string
	allowRegex    []*regexp.Regexp
	denyRegex     []*regexp.Regexp
	production    bool
	strict        bool
	log           zerolog.Logger
}

// ACLConfig is the policy input, usually parsed from the environment.
type ACLConfig struct {
	AllowPrefixes []string
	DenyPrefixes  []string
	AllowRegex    []string
	DenyRegex     []string
	Production    bool
	Strict        bool
}

// NewACL compiles the policy. Invalid regexes are rejected.
func NewACL(cfg ACLConfig, log zerolog.Logger) (*ACL, error) {
	a := &ACL{
		allowPrefixes: cfg.AllowPrefixes,
		denyPrefixes:  cfg.DenyPrefixes,
		production:    cfg.Production,
		strict:        cfg.Strict,
		log:           log.With().Str("component", "acl").Logger(),
	}
	for _, expr := range cfg.AllowRegex {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("allow regex %q: %w", expr, err)
		}
		a.allowRegex = append(a.allowRegex, re)
	}
	for _, expr := range cfg.DenyRegex {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("deny regex %q: %w", expr, err)
		}
		a.denyRegex = append(a.denyRegex, re)
	}
	return a, nil
}

// ACLFromEnv reads the recipient policy from the process environment. List
// variables accept comma- or newline-separated entries.
func ACLFromEnv(log zerolog.Logger) (*ACL, error) {
	return NewACL(ACLConfig{
		AllowPrefixes: splitList(os.Getenv("GLYPHNET_ALLOW_RECIPIENT_PREFIXES")),
		DenyPrefixes:  splitList(os.Getenv("GLYPHNET_DENY_RECIPIENT_PREFIXES")),
		AllowRegex:    splitList(os.Getenv("GLYPHNET_ALLOW_RECIPIENT_REGEX")),
		DenyRegex:     splitList(os.Getenv("GLYPHNET_DENY_RECIPIENT_REGEX")),
		Production:    os.Getenv("ENV") == "production",
		Strict:        os.Getenv("GLYPHNET_STRICT_PROD_ACL") == "1",
	}, log)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '\n' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Explain evaluates the policy for recipient and reports the verdict with a
// loggable reason.
func (a *ACL) Explain(recipient string) (bool, string) {
	for _, p := range a.denyPrefixes {
		if strings.HasPrefix(recipient, p) {
			return false, "deny prefix " + p
		}
	}
	for _, re := range a.denyRegex {
		if re.MatchString(recipient) {
			return false, "deny regex " + re.String()
		}
	}
	for _, p := range a.allowPrefixes {
		if strings.HasPrefix(recipient, p) {
			return true, "allow prefix " + p
		}
	}
	for _, re := range a.allowRegex {
		if re.MatchString(recipient) {
			return true, "allow regex " + re.String()
		}
	}
	if a.production {
		return false, "production default deny"
	}
	if len(a.allowPrefixes) > 0 || len(a.allowRegex) > 0 {
		return false, "not on configured allow list"
	}
	return true, "default allow"
}

// Check returns ErrForbidden when the recipient is denied. A production
// deployment with no allow rules configured at all is treated as
// misconfigured: non-strict mode warns and lets traffic through, strict mode
// fails closed.
func (a *ACL) Check(recipient string) error {
	allowed, reason := a.Explain(recipient)
	if allowed {
		return nil
	}
	if a.production && !a.strict && len(a.allowPrefixes) == 0 && len(a.allowRegex) == 0 && reason == "production default deny" {
		a.log.Warn().Str("recipient", recipient).Msg("production acl has no allow rules, letting traffic through")
		return nil
	}
	a.log.Warn().Str("recipient", recipient).Str("reason", reason).Msg("recipient denied")
	return fmt.Errorf("%w: %s", ErrForbidden, reason)
}
