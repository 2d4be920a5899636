package utils

import (
	"crypto/rand"
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const hashAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// largest multiple of len(hashAlphabet) that fits in a byte
const hashMaxByte = 256 - 256%len(hashAlphabet)

const maxFileNameLen = 255

// GenerateHash returns a random base62 string of the given length
func GenerateHash(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid hash length %d", length)
	}

	out := make([]byte, 0, length)
	buf := make([]byte, length*2)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= hashMaxByte {
				continue
			}
			out = append(out, hashAlphabet[int(b)%len(hashAlphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// FormatFileSize converts bytes to human-readable format
func FormatFileSize(size int64) string {
	if size < 0 {
		size = 0
	}
	return humanize.IBytes(uint64(size))
}

// CleanFileName strips any directory part and control characters from an
// uploaded file name. Non-ASCII letters are kept.
func CleanFileName(original string) string {
	s := strings.TrimSpace(original)
	s = strings.ReplaceAll(s, "\\", "/")
	s = path.Base(s)

	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimLeft(s, ".")
	s = strings.TrimSpace(s)

	if s == "" || s == "/" {
		return "file"
	}
	for len(s) > maxFileNameLen {
		r := []rune(s)
		s = string(r[:len(r)-1])
	}
	return s
}

// ASCIIFileName folds accents and replaces every remaining non-ASCII or
// header-unsafe character with '_'
func ASCIIFileName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r > unicode.MaxASCII, r < 0x20, r == 0x7f:
			b.WriteByte('_')
		case r == '"', r == '\\', r == ';', r == '%':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		return "file"
	}
	return out
}

// ContentDisposition builds a Content-Disposition header carrying an ASCII
// filename and the RFC 5987 encoded original
func ContentDisposition(disposition, name string) string {
	if disposition == "" {
		disposition = "attachment"
	}
	ascii := ASCIIFileName(name)
	if ascii == name {
		return fmt.Sprintf("%s; filename=\"%s\"", disposition, ascii)
	}
	return fmt.Sprintf("%s; filename=\"%s\"; filename*=UTF-8''%s",
		disposition, ascii, url.PathEscape(name))
}
