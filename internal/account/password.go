package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher is the one-way hash and compare capability for credentials.
type PasswordHasher interface {
	Hash(pw string) (hash string, algo string, err error)
	Verify(hash, pw string) bool
	NeedsRehash(hash string) bool
}

// BcryptHasher hashes with bcrypt at a fixed cost.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) cost() int {
	if b.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return b.Cost
}

func (b BcryptHasher) Hash(pw string) (string, string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), b.cost())
	if err != nil {
		return "", "", err
	}
	return string(h), fmt.Sprintf("bcrypt:%d", b.cost()), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// NeedsRehash reports whether hash was produced with a different cost than
// the one currently configured.
func (b BcryptHasher) NeedsRehash(hash string) bool {
	c, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return c != b.cost()
}

var errHashTimeout = errors.New("password hashing timed out")

// runBounded runs fn on its own goroutine and stops waiting after d. The
// goroutine is left to finish on its own; its result is dropped.
func runBounded[T any](ctx context.Context, d time.Duration, fn func() T) (T, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d)
	defer cancel()
	done := make(chan T, 1)
	go func() { done <- fn() }()
	select {
	case v := <-done:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, errHashTimeout
	}
}

type hashResult struct {
	hash string
	algo string
	err  error
}

func (s *Service) hashPassword(ctx context.Context, pw string) (hashResult, error) {
	return runBounded(ctx, s.hashTimeout, func() hashResult {
		h, algo, err := s.hasher.Hash(pw)
		return hashResult{hash: h, algo: algo, err: err}
	})
}

func (s *Service) verifyPassword(ctx context.Context, hash, pw string) (bool, error) {
	return runBounded(ctx, s.hashTimeout, func() bool {
		return s.hasher.Verify(hash, pw)
	})
}
