package attachment

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// upload builds a parsed multipart file header like echo hands to handlers.
func upload(t *testing.T, name, contentType string, data []byte) *multipart.FileHeader {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="attachment"; filename="`+name+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	form, err := multipart.NewReader(buf, w.Boundary()).ReadForm(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { form.RemoveAll() })
	require.Len(t, form.File["attachment"], 1)
	return form.File["attachment"][0]
}

func newTestStore(t *testing.T, max int64) (*Store, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "uploads")
	s, err := Open(context.Background(), Config{Dir: dir, MaxBytes: max})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func TestSecureFilename(t *testing.T) {
	for in, want := range map[string]string{
		"notes.pdf":             "notes.pdf",
		"../../etc/passwd":      "etc_passwd",
		`C:\Users\x\report.doc`: "C_Users_x_report.doc",
		"my exam  answers.txt":  "my_exam_answers.txt",
		"..":                    "",
		"résumé.pdf":            "rsum.pdf",
		".hidden":               "hidden",
	} {
		assert.Equal(t, want, SecureFilename(in), in)
	}
	long := strings.Repeat("a", 300) + ".png"
	got := SecureFilename(long)
	assert.Len(t, got, 128)
	assert.True(t, strings.HasSuffix(got, ".png"))
}

func TestSaveAndOpen(t *testing.T) {
	s, dir := newTestStore(t, 1024)
	ctx := context.Background()

	att, err := s.Save(ctx, upload(t, "../Lab Report.pdf", "application/pdf", []byte("%PDF-1.4 body")))
	require.NoError(t, err)
	require.NotNil(t, att)
	// multipart keeps only the base name
	assert.Equal(t, "Lab Report.pdf", att.OriginalName)
	assert.Equal(t, "application/pdf", att.Mime)
	assert.True(t, strings.HasPrefix(att.Path, "chat/"))
	assert.True(t, strings.HasSuffix(att.Path, "_Lab_Report.pdf"))

	_, err = os.Stat(filepath.Join(dir, filepath.FromSlash(att.Path)))
	require.NoError(t, err)

	r, err := s.Open(ctx, att.Path)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 body", string(data))
	assert.Equal(t, "application/pdf", r.ContentType())

	again, err := s.Save(ctx, upload(t, "../Lab Report.pdf", "application/pdf", []byte("x")))
	require.NoError(t, err)
	assert.NotEqual(t, att.Path, again.Path)
}

func TestSaveDetectsMime(t *testing.T) {
	s, _ := newTestStore(t, 1024)
	ctx := context.Background()

	att, err := s.Save(ctx, upload(t, "photo.png", "", []byte("\x89PNG\r\n\x1a\n0000")))
	require.NoError(t, err)
	assert.Equal(t, "image/png", att.Mime)

	att, err = s.Save(ctx, upload(t, "blob", "application/octet-stream", []byte("plain words")))
	require.NoError(t, err)
	assert.Equal(t, "text/plain; charset=utf-8", att.Mime)
}

func TestSaveSkipsEmptyOrNameless(t *testing.T) {
	s, _ := newTestStore(t, 1024)
	ctx := context.Background()

	att, err := s.Save(ctx, nil)
	assert.NoError(t, err)
	assert.Nil(t, att)

	att, err = s.Save(ctx, upload(t, "empty.txt", "text/plain", nil))
	assert.NoError(t, err)
	assert.Nil(t, att)

	att, err = s.Save(ctx, upload(t, "..", "text/plain", []byte("x")))
	assert.NoError(t, err)
	assert.Nil(t, att)
}

func TestSaveRejectsLargeFiles(t *testing.T) {
	s, _ := newTestStore(t, 4)
	_, err := s.Save(context.Background(), upload(t, "big.txt", "text/plain", []byte("12345")))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestOpenRejectsForeignKeys(t *testing.T) {
	s, dir := newTestStore(t, 1024)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("x"), 0o600))
	ctx := context.Background()

	for _, key := range []string{"secret.txt", "chat/../secret.txt", "../secret.txt", "chat/missing.txt"} {
		_, err := s.Open(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound, key)
	}
}

func TestDelete(t *testing.T) {
	s, dir := newTestStore(t, 1024)
	ctx := context.Background()

	att, err := s.Save(ctx, upload(t, "notes.txt", "text/plain", []byte("x")))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, att.Path))
	_, err = s.Open(ctx, att.Path)
	assert.ErrorIs(t, err, ErrNotFound)

	// already gone
	assert.NoError(t, s.Delete(ctx, att.Path))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("x"), 0o600))
	assert.ErrorIs(t, s.Delete(ctx, "chat/../secret.txt"), ErrNotFound)
	_, err = os.Stat(filepath.Join(dir, "secret.txt"))
	assert.NoError(t, err)
}
