// Package notify formats and sends the emails of the file lifecycle:
// deletion warnings to uploaders and share invitations to recipients.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/marianozunino/filez/internal/model"
)

// ErrSendFailed wraps every transport error returned by the dispatcher
var ErrSendFailed = errors.New("email could not be sent")

// InvalidRecipientError reports a share recipient that is not an email address
type InvalidRecipientError struct {
	Address string
}

func (e *InvalidRecipientError) Error() string {
	return fmt.Sprintf("email address %q is incorrect, please correct it", e.Address)
}

var (
	deletionSubject = template.Must(template.New("deletion_subject").Parse(
		`[FileZ] Your file "{{.FileName}}" is going to be deleted`))
	deletionBody = template.Must(template.New("deletion_body").Parse(`Hello,

Your file "{{.FileName}}" ({{.Size}}) will be deleted on {{.AvailableUntil}} ({{.Remaining}}).

You can still download it or extend its lifetime from:
{{.FileURL}}

--
FileZ {{.FilezURL}}
`))

	shareSubject = template.Must(template.New("share_subject").Parse(
		`[FileZ] "{{.Sender}}" wants to share a file with you`))
	shareBody = template.Must(template.New("share_body").Parse(`Hello,

{{.Sender}} wants to share the file "{{.FileName}}" ({{.Size}}) with you.
{{if .Note}}
{{.Note}}
{{end}}
Download it before {{.AvailableUntil}} from:
{{.FileURL}}

--
FileZ {{.FilezURL}}
`))
)

type messageData struct {
	FileName       string
	Size           string
	FileURL        string
	FilezURL       string
	AvailableUntil string
	Remaining      string
	Sender         string
	Note           string
}

// Dispatcher builds lifecycle emails and hands them to a Mailer
type Dispatcher struct {
	mailer   Mailer
	from     string
	baseURL  string
	logger   *zap.Logger
	validate *validator.Validate
	now      func() time.Time
}

func NewDispatcher(mailer Mailer, from, baseURL string, logger *zap.Logger, now func() time.Time) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Dispatcher{
		mailer:   mailer,
		from:     from,
		baseURL:  baseURL,
		logger:   logger,
		validate: validator.New(),
		now:      now,
	}
}

// DownloadURL is the public link of rec
func (d *Dispatcher) DownloadURL(rec model.FileRecord) string {
	return d.baseURL + rec.Hash
}

// NotifyDeletion warns the uploader that rec is about to expire
func (d *Dispatcher) NotifyDeletion(ctx context.Context, rec model.FileRecord) error {
	if rec.UploaderEmail == "" {
		return fmt.Errorf("%w: file %s has no uploader email", ErrSendFailed, rec.Hash)
	}

	data := d.messageData(rec)
	msg := &Message{
		From: d.from,
		To:   []string{rec.UploaderEmail},
	}
	if err := render(msg, deletionSubject, deletionBody, data); err != nil {
		return err
	}

	if err := d.send(ctx, msg); err != nil {
		return err
	}
	d.logger.Info("delete notification sent",
		zap.String("to", rec.UploaderEmail),
		zap.String("hash", rec.Hash),
	)
	return nil
}

// ShareFile sends the link of rec from sender to every address in to,
// a list separated by spaces, commas or semicolons. Nothing is sent if
// any address is invalid.
func (d *Dispatcher) ShareFile(ctx context.Context, rec model.FileRecord, sender *model.User, to, note string) error {
	recipients, err := d.ParseRecipients(to)
	if err != nil {
		return err
	}

	data := d.messageData(rec)
	data.Sender = sender.DisplayName()
	data.Note = strings.TrimSpace(note)

	from := d.from
	if sender.Email != "" {
		from = fmt.Sprintf("%s <%s>", sender.DisplayName(), sender.Email)
	}
	msg := &Message{
		From:    from,
		ReplyTo: from,
		Bcc:     recipients,
	}
	if err := render(msg, shareSubject, shareBody, data); err != nil {
		return err
	}

	if err := d.send(ctx, msg); err != nil {
		return err
	}
	d.logger.Info("file shared by email",
		zap.String("sender", sender.Email),
		zap.Int("recipients", len(recipients)),
		zap.String("hash", rec.Hash),
	)
	return nil
}

// ParseRecipients splits and validates a recipient list, dropping duplicates
func (d *Dispatcher) ParseRecipients(to string) ([]string, error) {
	fields := strings.FieldsFunc(to, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})

	seen := make(map[string]struct{}, len(fields))
	recipients := make([]string, 0, len(fields))
	for _, addr := range fields {
		if err := d.validate.Var(addr, "required,email"); err != nil {
			return nil, &InvalidRecipientError{Address: addr}
		}
		key := strings.ToLower(addr)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		recipients = append(recipients, addr)
	}

	if len(recipients) == 0 {
		return nil, errors.New("at least one recipient is required")
	}
	return recipients, nil
}

func (d *Dispatcher) send(ctx context.Context, msg *Message) error {
	if err := d.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return nil
}

func (d *Dispatcher) messageData(rec model.FileRecord) messageData {
	return messageData{
		FileName:       rec.FileName,
		Size:           humanize.Bytes(uint64(max(rec.FileSize, 0))),
		FileURL:        d.DownloadURL(rec),
		FilezURL:       d.baseURL,
		AvailableUntil: rec.ExpiresAt.Format("Monday, January 2, 2006 15:04 MST"),
		Remaining:      humanize.RelTime(rec.ExpiresAt, d.now(), "ago", "from now"),
	}
}

func render(msg *Message, subject, body *template.Template, data messageData) error {
	var buf bytes.Buffer
	if err := subject.Execute(&buf, data); err != nil {
		return fmt.Errorf("failed to render subject: %w", err)
	}
	msg.Subject = strings.NewReplacer("\r", " ", "\n", " ").Replace(buf.String())

	buf.Reset()
	if err := body.Execute(&buf, data); err != nil {
		return fmt.Errorf("failed to render body: %w", err)
	}
	msg.Body = buf.String()
	return nil
}
