package utils_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marianozunino/filez/internal/utils"
)

func TestGenerateHash(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		h, err := utils.GenerateHash(12)
		require.NoError(t, err)
		assert.Len(t, h, 12)
		for _, r := range h {
			assert.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'),
				"unexpected rune %q", r)
		}
		seen[h] = struct{}{}
	}
	assert.Len(t, seen, 200)
}

func TestGenerateHashInvalidLength(t *testing.T) {
	_, err := utils.GenerateHash(0)
	assert.Error(t, err)
}

func TestFormatFileSize(t *testing.T) {
	assert.Equal(t, "0 B", utils.FormatFileSize(0))
	assert.Equal(t, "512 B", utils.FormatFileSize(512))
	assert.Equal(t, "1.5 KiB", utils.FormatFileSize(1536))
	assert.Equal(t, "10 MiB", utils.FormatFileSize(10<<20))
	assert.Equal(t, "0 B", utils.FormatFileSize(-5))
}

func TestCleanFileName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain", input: "report.pdf", want: "report.pdf"},
		{name: "unicode kept", input: "résumé été.txt", want: "résumé été.txt"},
		{name: "unix path", input: "/etc/passwd", want: "passwd"},
		{name: "windows path", input: `C:\Users\me\notes.txt`, want: "notes.txt"},
		{name: "traversal", input: "../../secret", want: "secret"},
		{name: "control characters", input: "bad\x00na\nme.txt", want: "badname.txt"},
		{name: "hidden file", input: ".bashrc", want: "bashrc"},
		{name: "empty", input: "   ", want: "file"},
		{name: "dots only", input: "..", want: "file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, utils.CleanFileName(tt.input))
		})
	}
}

func TestCleanFileNameTruncates(t *testing.T) {
	got := utils.CleanFileName(strings.Repeat("a", 300) + ".txt")
	assert.LessOrEqual(t, len(got), 255)
}

func TestASCIIFileName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "report.pdf", want: "report.pdf"},
		{input: "résumé.pdf", want: "resume.pdf"},
		{input: "Ünïcödé Fïlé.txt", want: "Unicode File.txt"},
		{input: "日本.txt", want: "__.txt"},
		{input: `say "hi".txt`, want: "say _hi_.txt"},
		{input: "100%;done.txt", want: "100__done.txt"},
		{input: "", want: "file"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, utils.ASCIIFileName(tt.input))
		})
	}
}

func TestContentDisposition(t *testing.T) {
	assert.Equal(t, `attachment; filename="report.pdf"`,
		utils.ContentDisposition("attachment", "report.pdf"))
	assert.Equal(t, `inline; filename="report.pdf"`,
		utils.ContentDisposition("inline", "report.pdf"))
	assert.Equal(t, `attachment; filename="resume v2.pdf"; filename*=UTF-8''r%C3%A9sum%C3%A9%20v2.pdf`,
		utils.ContentDisposition("", "résumé v2.pdf"))
}
