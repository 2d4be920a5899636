package model

import (
	"strings"
	"time"
)

// FileRecord stores information about a shared file
type FileRecord struct {
	ID          int64  `json:"-"`
	Hash        string `json:"hash"`
	FzOneHash   string `json:"-"` // filez-1.x download key, empty for new uploads
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	ContentType string `json:"content_type,omitempty"`
	StorageName string `json:"-"` // name of the content file under the upload path

	UploaderID     *string `json:"-"`
	UploaderEmail  string  `json:"uploader_email,omitempty"`
	NotifyUploader bool    `json:"notify_uploader"`

	Password string `json:"-"` // bcrypt hash, or cleartext for imported legacy records

	CreatedAt                time.Time `json:"created_at"`
	ExpiresAt                time.Time `json:"expires_at"`
	ExtendsCount             int       `json:"extends_count"`
	DeletionNotificationSent bool      `json:"deletion_notification_sent"`
	DownloadCount            int64     `json:"download_count"`

	Version int64 `json:"-"`
}

// IsAvailable reports whether the record is still before its expiry at now.
func (r *FileRecord) IsAvailable(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

// HasPassword reports whether downloads by non-owners need a password.
func (r *FileRecord) HasPassword() bool {
	return r.Password != ""
}

// IsOwner matches on uploader ID when the record has one, otherwise on
// the uploader email.
func (r *FileRecord) IsOwner(u *User) bool {
	if u == nil {
		return false
	}
	if r.UploaderID != nil {
		return u.ID != "" && *r.UploaderID == u.ID
	}
	return r.UploaderEmail != "" && strings.EqualFold(r.UploaderEmail, u.Email)
}

// User is the authenticated requester as asserted by the auth proxy
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstname,omitempty"`
	LastName  string `json:"lastname,omitempty"`
}

// DisplayName returns "First Last", falling back to the email address.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}
