// Package lifecycle computes expiry and extension transitions for file
// records. It never touches storage: callers persist the returned records.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/marianozunino/filez/internal/model"
)

var (
	ErrExtendLimitExceeded = errors.New("extension limit exceeded")
	ErrInvalidExtension    = errors.New("extension unit must be positive")
)

// Policy holds the lifecycle settings taken from configuration.
type Policy struct {
	MaxExtendCount  int
	ExtensionUnit   time.Duration
	DefaultLifetime time.Duration
}

// Engine applies a Policy to file records
type Engine struct {
	policy Policy
}

func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy}
}

func (e *Engine) MaxExtendCount() int {
	return e.policy.MaxExtendCount
}

func (e *Engine) IsAvailable(rec model.FileRecord, now time.Time) bool {
	return rec.IsAvailable(now)
}

// AvailableUntil returns the expiry shown to users.
func (e *Engine) AvailableUntil(rec model.FileRecord) time.Time {
	return rec.ExpiresAt
}

// InitialExpiry is the expiry given to a record created at createdAt.
func (e *Engine) InitialExpiry(createdAt time.Time) time.Time {
	return createdAt.Add(e.policy.DefaultLifetime)
}

// ExtendLifetime pushes the expiry of rec back by unit, counting from the
// later of now and the current expiry. The record is rejected unchanged
// once ExtendsCount has reached the policy maximum.
func (e *Engine) ExtendLifetime(rec model.FileRecord, unit time.Duration, now time.Time) (model.FileRecord, error) {
	if rec.ExtendsCount >= e.policy.MaxExtendCount {
		return rec, fmt.Errorf("%w: a file lifetime can be extended at most %d times",
			ErrExtendLimitExceeded, e.policy.MaxExtendCount)
	}
	if unit <= 0 {
		return rec, ErrInvalidExtension
	}

	base := rec.ExpiresAt
	if now.After(base) {
		base = now
	}

	rec.ExtendsCount++
	rec.ExpiresAt = base.Add(unit)
	return rec, nil
}

// Extend is ExtendLifetime with the configured extension unit.
func (e *Engine) Extend(rec model.FileRecord, now time.Time) (model.FileRecord, error) {
	return e.ExtendLifetime(rec, e.policy.ExtensionUnit, now)
}

func (e *Engine) ExtensionsLeft(rec model.FileRecord) int {
	left := e.policy.MaxExtendCount - rec.ExtendsCount
	if left < 0 {
		return 0
	}
	return left
}

// MarkNotified flags the deletion warning as sent. Already flagged records
// come back unchanged.
func (e *Engine) MarkNotified(rec model.FileRecord) model.FileRecord {
	if rec.DeletionNotificationSent {
		return rec
	}
	rec.DeletionNotificationSent = true
	return rec
}

// NotificationDue reports whether rec should get a deletion warning now:
// still available, expiring within window, opted in and not yet warned.
func (e *Engine) NotificationDue(rec model.FileRecord, now time.Time, window time.Duration) bool {
	if !rec.NotifyUploader || rec.DeletionNotificationSent {
		return false
	}
	if !rec.IsAvailable(now) {
		return false
	}
	return !rec.ExpiresAt.After(now.Add(window))
}
