package domain

import (
	"fmt"
	"strings"
)

// VerificationMethod selects how the challenge code reaches the user.
type VerificationMethod string

const (
	VerificationBySMS  VerificationMethod = "SMS"
	VerificationByCall VerificationMethod = "CALL"
)

func (m VerificationMethod) String() string { return string(m) }

func (m VerificationMethod) IsValid() bool {
	switch m {
	case VerificationBySMS, VerificationByCall:
		return true
	}
	return false
}

func ParseVerificationMethodFromString(s string) (VerificationMethod, error) {
	m := VerificationMethod(strings.ToUpper(strings.TrimSpace(s)))
	if !m.IsValid() {
		return "", fmt.Errorf("%w: invalid verification method %q", ErrValidation, s)
	}
	return m, nil
}

// VerificationStatus is the lifecycle of a pending challenge.
type VerificationStatus string

const (
	VerificationIssued    VerificationStatus = "ISSUED"
	VerificationConfirmed VerificationStatus = "CONFIRMED"
	VerificationExpired   VerificationStatus = "EXPIRED"
	VerificationFailed    VerificationStatus = "FAILED"
)

func (s VerificationStatus) String() string { return string(s) }
