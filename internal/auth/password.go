package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/d9705996/helpdesk/internal/apperr"
	"golang.org/x/crypto/bcrypt"
)

// PasswordSymbols is the punctuation set that satisfies the symbol rule.
const PasswordSymbols = `!@#$%^&*()_+-=[]{};':"\|,.<>/?`

// Reasons reported by PasswordPolicy.Check, in evaluation order.
const (
	ReasonTooShort  = "too_short"
	ReasonTooLong   = "too_long"
	ReasonLowercase = "missing_lowercase"
	ReasonUppercase = "missing_uppercase"
	ReasonDigit     = "missing_digit"
	ReasonSymbol    = "missing_symbol"
)

var reasonText = map[string]string{
	ReasonLowercase: "must contain at least one lowercase letter",
	ReasonUppercase: "must contain at least one uppercase letter",
	ReasonDigit:     "must contain at least one digit",
	ReasonSymbol:    "must contain at least one symbol (" + PasswordSymbols + ")",
}

// PasswordPolicy is the strength rule applied at registration and password
// change. Login never consults it.
type PasswordPolicy struct {
	MinLength int
	MaxLength int
}

// DefaultPasswordPolicy returns the 12..128 policy.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 12, MaxLength: 128}
}

// Check returns nil when password satisfies the policy, otherwise a
// validation error naming the first violated rule.
func (p PasswordPolicy) Check(password string) error {
	n := len([]rune(password))
	switch {
	case n < p.MinLength:
		return weakPassword(ReasonTooShort, fmt.Sprintf("must be at least %d characters", p.MinLength))
	case n > p.MaxLength:
		return weakPassword(ReasonTooLong, fmt.Sprintf("must be at most %d characters", p.MaxLength))
	}

	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(PasswordSymbols, r):
			symbol = true
		}
	}
	for _, rule := range []struct {
		ok     bool
		reason string
	}{
		{lower, ReasonLowercase},
		{upper, ReasonUppercase},
		{digit, ReasonDigit},
		{symbol, ReasonSymbol},
	} {
		if !rule.ok {
			return weakPassword(rule.reason, reasonText[rule.reason])
		}
	}
	return nil
}

func weakPassword(reason, text string) error {
	return apperr.ValidationField("password", "Password does not meet strength requirements: "+text).
		WithCode("WEAK_PASSWORD").
		WithDetail("reason", reason)
}

// Hasher hashes and verifies passwords with bcrypt at a fixed cost.
type Hasher struct {
	cost int

	dummyOnce sync.Once
	dummyHash []byte
}

// NewHasher clamps cost into bcrypt's accepted range.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{cost: cost}
}

// Cost returns the configured work factor.
func (h *Hasher) Cost() int { return h.cost }

// Hash returns a salted bcrypt hash. The computation runs on its own goroutine
// so a request deadline can abandon it.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	type result struct {
		hash []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
		ch <- result{b, err}
	}()
	select {
	case <-ctx.Done():
		return "", hashingError(ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return "", hashingError(r.err)
		}
		return string(r.hash), nil
	}
}

// Verify reports whether password matches hash. A mismatch is (false, nil);
// only a malformed hash or an abandoned computation is an error.
func (h *Hasher) Verify(ctx context.Context, password, hash string) (bool, error) {
	ch := make(chan error, 1)
	go func() {
		ch <- bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	}()
	select {
	case <-ctx.Done():
		return false, hashingError(ctx.Err())
	case err := <-ch:
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, hashingError(err)
		}
	}
}

// VerifyDummy spends the same effort as Verify against a throwaway hash. Login
// calls it for unknown emails so response timing does not reveal which
// accounts exist.
func (h *Hasher) VerifyDummy(ctx context.Context, password string) {
	h.dummyOnce.Do(func() {
		h.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("helpdesk-dummy-password"), h.cost)
	})
	_, _ = h.Verify(ctx, password, string(h.dummyHash))
}

func hashingError(err error) error {
	return &apperr.Error{
		Kind:    apperr.KindInternal,
		Code:    "HASHING_ERROR",
		Message: "Credential processing failed",
		Err:     err,
	}
}
