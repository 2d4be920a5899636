// Package access decides who may preview, download and manage a file.
package access

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/marianozunino/filez/internal/lifecycle"
	"github.com/marianozunino/filez/internal/model"
)

// maxPasswordBytes is the bcrypt input limit
const maxPasswordBytes = 72

var (
	ErrNotOwner        = errors.New("you are not the owner of the file")
	ErrPasswordTooLong = errors.New("password is too long (max 72 bytes)")
)

// Decision is the outcome of a download authorization check
type Decision int

const (
	Allow Decision = iota
	DenyNotAvailable
	DenyBadPassword
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case DenyNotAvailable:
		return "deny_not_available"
	case DenyBadPassword:
		return "deny_bad_password"
	default:
		return "unknown"
	}
}

// Preview describes what the preview page may offer a requester
type Preview struct {
	IsOwner       bool `json:"is_owner"`
	Available     bool `json:"available"`
	CheckPassword bool `json:"check_password"`
}

// Guard evaluates access rules against a single record snapshot
type Guard struct {
	engine *lifecycle.Engine
	now    func() time.Time
}

func NewGuard(engine *lifecycle.Engine, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{engine: engine, now: now}
}

// CanDownload lets owners through unconditionally, then requires the record
// to be available and the password to match when one is set.
func (g *Guard) CanDownload(rec model.FileRecord, requester *model.User, suppliedPassword string) Decision {
	if rec.IsOwner(requester) {
		return Allow
	}
	if !g.engine.IsAvailable(rec, g.now()) {
		return DenyNotAvailable
	}
	if rec.HasPassword() && !CheckPassword(rec.Password, suppliedPassword) {
		return DenyBadPassword
	}
	return Allow
}

// Preview is always allowed; it reports availability as seen by requester.
func (g *Guard) Preview(rec model.FileRecord, requester *model.User) Preview {
	owner := rec.IsOwner(requester)
	return Preview{
		IsOwner:       owner,
		Available:     owner || g.engine.IsAvailable(rec, g.now()),
		CheckPassword: rec.HasPassword() && !owner,
	}
}

func (g *Guard) CheckOwner(rec model.FileRecord, requester *model.User) error {
	if rec.IsOwner(requester) {
		return nil
	}
	return ErrNotOwner
}

// CheckPassword compares supplied against the stored value: a bcrypt check
// for hashed values, a constant-time comparison for legacy cleartext ones.
func CheckPassword(stored, supplied string) bool {
	if stored == "" {
		return true
	}
	if supplied == "" {
		return false
	}
	if isBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(supplied)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}

// HashPassword returns the bcrypt hash stored for new uploads. An empty
// password stays empty.
func HashPassword(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	if len(plain) > maxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func isBcryptHash(s string) bool {
	if len(s) != 60 {
		return false
	}
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
