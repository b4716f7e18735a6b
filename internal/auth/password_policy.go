package auth

import (
	"fmt"
	"strings"
	"unicode"
)

// PolicyRule names one password requirement.
type PolicyRule string

const (
	RuleMinLength PolicyRule = "min_length"
	RuleUppercase PolicyRule = "uppercase"
	RuleLowercase PolicyRule = "lowercase"
	RuleDigit     PolicyRule = "digit"
	RuleSpecial   PolicyRule = "special"
	RuleMaxLength PolicyRule = "max_length"
)

// MaxPasswordBytes is the longest input bcrypt will hash.
const MaxPasswordBytes = 72

// Strength is a qualitative bucket derived from how many rules pass.
type Strength string

const (
	StrengthWeak   Strength = "weak"
	StrengthMedium Strength = "medium"
	StrengthStrong Strength = "strong"
)

// RuleResult reports a single rule outcome.
type RuleResult struct {
	Rule   PolicyRule `json:"rule"`
	Passed bool       `json:"passed"`
}

// PolicyReport is the outcome of evaluating a candidate password.
type PolicyReport struct {
	Rules    []RuleResult `json:"rules"`
	Failed   []PolicyRule `json:"failedRules"`
	Strength Strength     `json:"strength"`
}

// OK reports whether every rule passed.
func (r PolicyReport) OK() bool {
	return len(r.Failed) == 0
}

// PasswordPolicy checks candidate passwords. MinLength counts characters,
// MaxBytes counts encoded bytes.
type PasswordPolicy struct {
	MinLength int
	MaxBytes  int
}

// DefaultPasswordPolicy requires 8 characters with upper, lower, digit and special,
// and no more bytes than bcrypt accepts.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 8, MaxBytes: MaxPasswordBytes}
}

// Evaluate runs every rule against password.
func (p PasswordPolicy) Evaluate(password string) PolicyReport {
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}

	checks := []RuleResult{
		{Rule: RuleMinLength, Passed: len([]rune(password)) >= p.MinLength},
		{Rule: RuleUppercase, Passed: upper},
		{Rule: RuleLowercase, Passed: lower},
		{Rule: RuleDigit, Passed: digit},
		{Rule: RuleSpecial, Passed: special},
	}
	// The byte cap does not count toward strength.
	scored := len(checks)
	if p.MaxBytes > 0 {
		checks = append(checks, RuleResult{Rule: RuleMaxLength, Passed: len(password) <= p.MaxBytes})
	}

	report := PolicyReport{Rules: checks, Failed: []PolicyRule{}}
	passed := 0
	for i, c := range checks {
		if c.Passed {
			if i < scored {
				passed++
			}
			continue
		}
		report.Failed = append(report.Failed, c.Rule)
	}

	switch {
	case len(report.Failed) == 0:
		report.Strength = StrengthStrong
	case passed >= 3:
		report.Strength = StrengthMedium
	default:
		report.Strength = StrengthWeak
	}
	return report
}

// Validate returns a *PolicyViolationError when password fails any rule.
func (p PasswordPolicy) Validate(password string) error {
	report := p.Evaluate(password)
	if report.OK() {
		return nil
	}
	return &PolicyViolationError{Report: report}
}

// PolicyViolationError carries the failed rules for client feedback.
type PolicyViolationError struct {
	Report PolicyReport
}

func (e *PolicyViolationError) Error() string {
	names := make([]string, len(e.Report.Failed))
	for i, r := range e.Report.Failed {
		names[i] = string(r)
	}
	return fmt.Sprintf("%v: %s", ErrPasswordPolicyViolation, strings.Join(names, ", "))
}

func (e *PolicyViolationError) Unwrap() error {
	return ErrPasswordPolicyViolation
}

// ErrorDetails exposes the failed rules in the error response.
func (e *PolicyViolationError) ErrorDetails() map[string]any {
	return map[string]any{
		"failedRules": e.Report.Failed,
		"strength":    e.Report.Strength,
	}
}
