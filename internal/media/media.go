// Package media stores message attachments and hands back the URL clients load them from.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	nanoid "github.com/jaevor/go-nanoid"
)

// AllowedImageTypes is the MIME allow-list for attachments.
var AllowedImageTypes = []string{"image/jpeg", "image/png", "image/gif"}

// Allowed reports whether contentType (parameters ignored) is an allowed image type.
func Allowed(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, t := range AllowedImageTypes {
		if mediaType == t {
			return true
		}
	}
	return false
}

// sniffLen is how much of an attachment is read to detect its real type.
const sniffLen = 3072

// Sniff detects the content type from the leading bytes of body. The returned reader yields
// the whole body again, including the bytes already consumed.
func Sniff(body io.Reader) (string, io.Reader, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", nil, err
	}
	head = head[:n]
	return mimetype.Detect(head).String(), io.MultiReader(bytes.NewReader(head), body), nil
}

// Storage persists attachment bytes.
type Storage interface {
	// Save stores body under name and returns the reference URL.
	Save(ctx context.Context, name, contentType string, body io.Reader) (string, error)
	// Delete removes a previously saved reference. Missing objects are not an error.
	Delete(ctx context.Context, ref string) error
}

var newID = mustGenerator()

func mustGenerator() func() string {
	gen, err := nanoid.Standard(10)
	if err != nil {
		panic(err)
	}
	return gen
}

// ObjectName builds a collision-free object name that keeps the client's file name readable,
// e.g. "1718035200000-V1StGXR8_Z-cat.png".
func ObjectName(filename string) string {
	return fmt.Sprintf("%d-%s-%s", time.Now().UnixMilli(), newID(), sanitize(filename))
}

func sanitize(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" {
		base = ""
	}
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '.' || r == '-' || r == '_':
			return r
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			return r
		case unicode.IsSpace(r):
			return '_'
		}
		return -1
	}, base)
	cleaned = strings.TrimLeft(cleaned, ".")
	if cleaned == "" {
		return "upload"
	}
	return cleaned
}

// Opener is implemented by storages that can serve what they saved.
type Opener interface {
	// Open returns the object stored under name and its content type.
	Open(ctx context.Context, name string) (io.ReadCloser, string, error)
}

// ErrNotFound is returned by Open for unknown names.
var ErrNotFound = errors.New("media: not found")
