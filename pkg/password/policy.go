package password

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
)

// Policy defines the requirements for password complexity.
type Policy struct {
	MinLength          int
	RequireUppercase   bool
	RequireLowercase   bool
	RequireDigit       bool
	RequireSpecialChar bool
}

// DefaultPolicy returns the policy applied when none is configured.
func DefaultPolicy() *Policy {
	return &Policy{
		MinLength:    8,
		RequireDigit: true,
	}
}

// PolicyChecker defines the interface for checking password complexity.
// Callers can plug in their own implementation to veto candidate passwords.
type PolicyChecker interface {
	CheckPasswordComplexity(password string) error
	GetPolicy() *Policy
}

var (
	uppercaseRe = regexp.MustCompile(`[A-Z]`)
	lowercaseRe = regexp.MustCompile(`[a-z]`)
	digitRe     = regexp.MustCompile(`[0-9]`)
	specialRe   = regexp.MustCompile(`[^a-zA-Z0-9]`)
)

// DefaultPolicyChecker implements the PolicyChecker interface
type DefaultPolicyChecker struct {
	policy *Policy
}

// NewDefaultPolicyChecker creates a checker for the given policy.
func NewDefaultPolicyChecker(policy *Policy) *DefaultPolicyChecker {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &DefaultPolicyChecker{policy: policy}
}

// CheckPasswordComplexity verifies that a password meets the policy.
func (pc *DefaultPolicyChecker) CheckPasswordComplexity(password string) error {
	if len(password) < pc.policy.MinLength {
		return fmt.Errorf("password must be at least %d characters long", pc.policy.MinLength)
	}
	if pc.policy.RequireUppercase && !uppercaseRe.MatchString(password) {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if pc.policy.RequireLowercase && !lowercaseRe.MatchString(password) {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if pc.policy.RequireDigit && !digitRe.MatchString(password) {
		return fmt.Errorf("password must contain at least one digit")
	}
	if pc.policy.RequireSpecialChar && !specialRe.MatchString(password) {
		return fmt.Errorf("password must contain at least one special character")
	}
	return nil
}

// GetPolicy returns the policy being enforced.
func (pc *DefaultPolicyChecker) GetPolicy() *Policy {
	return pc.policy
}

const (
	uppercaseChars = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	lowercaseChars = "abcdefghijkmnpqrstuvwxyz"
	digitChars     = "23456789"
	specialChars   = "!@#$%^&*-_=+"
)

// Generate produces a random password satisfying the policy. Used by
// password reset, where the plaintext must be handed back to the caller.
func Generate(policy *Policy) (string, error) {
	if policy == nil {
		policy = DefaultPolicy()
	}

	length := policy.MinLength
	if length < 12 {
		length = 12
	}

	// One character from every class keeps the result valid under any
	// combination of policy requirements.
	classes := []string{uppercaseChars, lowercaseChars, digitChars, specialChars}
	all := uppercaseChars + lowercaseChars + digitChars + specialChars

	chars := make([]byte, 0, length)
	for _, class := range classes {
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		chars = append(chars, c)
	}
	for len(chars) < length {
		c, err := randomChar(all)
		if err != nil {
			return "", err
		}
		chars = append(chars, c)
	}

	for i := len(chars) - 1; i > 0; i-- {
		j, err := randomIndex(i + 1)
		if err != nil {
			return "", err
		}
		chars[i], chars[j] = chars[j], chars[i]
	}
	return string(chars), nil
}

func randomChar(from string) (byte, error) {
	i, err := randomIndex(len(from))
	if err != nil {
		return 0, err
	}
	return from[i], nil
}

func randomIndex(n int) (int, error) {
	i, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("failed to generate random index: %w", err)
	}
	return int(i.Int64()), nil
}
