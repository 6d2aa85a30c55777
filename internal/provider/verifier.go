package provider

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/kursadbilgin/phone-notifier/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultChallengeTTL         = 10 * time.Minute
	DefaultChallengeMaxAttempts = 5
	defaultCodeLength           = 6
)

// Challenge is a locally tracked verification session.
type Challenge struct {
	CodeHash string
	Attempts int
	Status   domain.VerificationStatus
	IssuedAt time.Time
}

// ChallengeStore keeps pending challenges with a bounded lifetime.
// Load returns nil, nil for a missing or expired challenge. ReserveAttempt atomically
// counts one guess against a pending challenge and returns the new count, or 0 when no
// challenge is pending; it never creates or extends one.
type ChallengeStore interface {
	Save(ctx context.Context, number string, challenge Challenge, ttl time.Duration) error
	Load(ctx context.Context, number string) (*Challenge, error)
	ReserveAttempt(ctx context.Context, number string) (int, error)
	Delete(ctx context.Context, number string) error
}

// DeliverFunc sends a freshly issued code to the user.
type DeliverFunc func(ctx context.Context, code string) error

// LocalVerifier issues and checks codes for vendors without hosted verification.
type LocalVerifier struct {
	store       ChallengeStore
	ttl         time.Duration
	maxAttempts int
	cost        int
	logger      *zap.Logger
	now         func() time.Time
	generate    func() (string, error)
}

func NewLocalVerifier(store ChallengeStore, ttl time.Duration, maxAttempts int, logger *zap.Logger) (*LocalVerifier, error) {
	if store == nil {
		return nil, fmt.Errorf("challenge store is required")
	}
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultChallengeMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LocalVerifier{
		store:       store,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		cost:        bcrypt.DefaultCost,
		logger:      logger,
		now:         time.Now,
		generate:    randomCode,
	}, nil
}

// Issue generates a code, hands it to deliver and only then replaces the pending
// challenge for number, so a failed delivery leaves the previous code valid. A nil
// deliver only stores the challenge. The plain code is returned.
func (v *LocalVerifier) Issue(ctx context.Context, number string, deliver DeliverFunc) (string, error) {
	code, err := v.generate()
	if err != nil {
		return "", &SubmissionError{Message: "failed to generate verification code", Cause: err}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), v.cost)
	if err != nil {
		return "", &SubmissionError{Message: "failed to hash verification code", Cause: err}
	}

	if deliver != nil {
		if err := deliver(ctx, code); err != nil {
			return "", err
		}
	}

	challenge := Challenge{
		CodeHash: string(hash),
		Status:   domain.VerificationIssued,
		IssuedAt: v.now().UTC(),
	}
	if err := v.store.Save(ctx, number, challenge, v.ttl); err != nil {
		return "", &SubmissionError{Message: "failed to store verification challenge", Transient: true, Cause: err}
	}

	return code, nil
}

// Verify checks code against the pending challenge. A wrong code, an expired challenge
// and an exhausted challenge all return ok=false without an error. The attempt is
// reserved before the code is compared, so concurrent guesses share one budget.
func (v *LocalVerifier) Verify(ctx context.Context, number string, code string) (string, bool, error) {
	challenge, err := v.store.Load(ctx, number)
	if err != nil {
		return "", false, &SubmissionError{Message: "failed to load verification challenge", Transient: true, Cause: err}
	}
	if challenge == nil {
		v.logExpired(number)
		return "", false, nil
	}

	attempts, err := v.store.ReserveAttempt(ctx, number)
	if err != nil {
		return "", false, &SubmissionError{Message: "failed to record verification attempt", Transient: true, Cause: err}
	}
	if attempts == 0 {
		v.logExpired(number)
		return "", false, nil
	}
	if attempts > v.maxAttempts {
		return "", false, v.exhaust(ctx, number, attempts)
	}

	compareErr := bcrypt.CompareHashAndPassword([]byte(challenge.CodeHash), []byte(code))
	if compareErr == nil {
		if err := v.store.Delete(ctx, number); err != nil {
			return "", false, &SubmissionError{Message: "failed to close verification challenge", Transient: true, Cause: err}
		}
		return number, true, nil
	}
	if !errors.Is(compareErr, bcrypt.ErrMismatchedHashAndPassword) {
		return "", false, &SubmissionError{Message: "failed to compare verification code", Cause: compareErr}
	}

	if attempts >= v.maxAttempts {
		return "", false, v.exhaust(ctx, number, attempts)
	}
	return "", false, nil
}

func (v *LocalVerifier) exhaust(ctx context.Context, number string, attempts int) error {
	v.logger.Warn("verification challenge exhausted",
		zap.String("number", number),
		zap.Int("attempts", attempts),
		zap.String("status", domain.VerificationFailed.String()),
	)
	if err := v.store.Delete(ctx, number); err != nil {
		return &SubmissionError{Message: "failed to close verification challenge", Transient: true, Cause: err}
	}
	return nil
}

func (v *LocalVerifier) logExpired(number string) {
	v.logger.Info("verification challenge missing or expired",
		zap.String("number", number),
		zap.String("status", domain.VerificationExpired.String()),
	)
}

// VerificationMessage is the text delivered with a locally issued code.
func VerificationMessage(code string) string {
	return fmt.Sprintf("Your verification code is %s", code)
}

func randomCode() (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < defaultCodeLength; i++ {
		limit.Mul(limit, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", defaultCodeLength, n.Int64()), nil
}
