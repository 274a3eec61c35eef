package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livechat/internal/apperr"
	"livechat/internal/media"
	"livechat/internal/models"
)

type fakeStore struct {
	rooms     map[string]bool
	createErr error
	created   []models.Message
}

func (f *fakeStore) RoomExists(_ context.Context, id string) (bool, error) {
	return f.rooms[id], nil
}

func (f *fakeStore) CreateMessage(_ context.Context, roomID, authorID, content, imageURL string) (*models.Message, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	msg := models.Message{
		ID:        "m" + string(rune('0'+len(f.created))),
		RoomID:    roomID,
		Author:    models.UserSnapshot{ID: authorID},
		Content:   content,
		MediaURL:  imageURL,
		CreatedAt: time.Now(),
	}
	f.created = append(f.created, msg)
	return &msg, nil
}

func setup(t *testing.T) (*Pipeline, *fakeStore, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	disk, err := media.NewDisk(fs, "/images", "/images")
	require.NoError(t, err)
	st := &fakeStore{rooms: map[string]bool{"general": true}}
	return New(st, disk, 1024), st, fs
}

func image(contentType, body string) *models.Media {
	return &models.Media{Filename: "cat.png", ContentType: contentType, Size: int64(len(body)), Body: strings.NewReader(body)}
}

func countFiles(t *testing.T, fs afero.Fs) int {
	t.Helper()
	entries, err := afero.ReadDir(fs, "/images")
	require.NoError(t, err)
	return len(entries)
}

var ann = models.UserSnapshot{ID: "u1", Name: "Ann"}

const (
	pngBytes = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"
	gifBytes = "GIF89a\x01\x00\x01\x00"
)

func TestIngest_Text(t *testing.T) {
	p, st, _ := setup(t)

	msg, err := p.Ingest(context.Background(), "general", ann, models.Content{Text: "  hello  "})
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "general", msg.RoomID)
	assert.Equal(t, "u1", msg.Author.ID)
	assert.Empty(t, msg.MediaURL)
	assert.Len(t, st.created, 1)
}

func TestIngest_Image(t *testing.T) {
	p, _, fs := setup(t)

	msg, err := p.Ingest(context.Background(), "general", ann, models.Content{Media: image("image/png", pngBytes)})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(msg.MediaURL, "/images/"), msg.MediaURL)
	assert.True(t, strings.HasSuffix(msg.MediaURL, "-cat.png"), msg.MediaURL)
	assert.Equal(t, 1, countFiles(t, fs))
}

func TestIngest_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		room    string
		content models.Content
		kind    apperr.Kind
		field   string
	}{
		{"empty content", "general", models.Content{Text: "   "}, apperr.KindValidation, "content"},
		{"disallowed mime", "general", models.Content{Text: "see", Media: image("application/pdf", "pdf")}, apperr.KindValidation, "image"},
		{"too large", "general", models.Content{Media: image("image/png", strings.Repeat("x", 2048))}, apperr.KindValidation, "image"},
		{"unknown room", "nope", models.Content{Text: "hi"}, apperr.KindNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, st, fs := setup(t)

			_, err := p.Ingest(context.Background(), tt.room, ann, tt.content)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
			if tt.field != "" {
				assert.Contains(t, apperr.FieldsOf(err), tt.field)
			}
			assert.Empty(t, st.created)
			assert.Equal(t, 0, countFiles(t, fs))
		})
	}
}

func TestIngest_ChecksAttachmentBytes(t *testing.T) {
	tests := []struct {
		name     string
		declared string
		body     string
	}{
		{"pdf declared as png", "image/png", "%PDF-1.4\n%\xe2\xe3\xcf\xd3\n"},
		{"html declared as gif", "image/gif", "<html><script>alert(1)</script></html>"},
		{"empty body", "image/jpeg", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, st, fs := setup(t)

			_, err := p.Ingest(context.Background(), "general", ann, models.Content{Text: "see", Media: image(tt.declared, tt.body)})
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindValidation))
			assert.Contains(t, apperr.FieldsOf(err), "image")
			assert.Empty(t, st.created)
			assert.Equal(t, 0, countFiles(t, fs))
		})
	}
}

func TestIngest_StoresDetectedType(t *testing.T) {
	p, _, fs := setup(t)

	// Declared as jpeg, actually a gif: allowed, kept under the detected type.
	msg, err := p.Ingest(context.Background(), "general", ann, models.Content{Media: image("image/jpeg", gifBytes)})
	require.NoError(t, err)
	assert.Equal(t, 1, countFiles(t, fs))

	data, err := afero.ReadFile(fs, msg.MediaURL)
	require.NoError(t, err)
	assert.Equal(t, gifBytes, string(data))
}

func TestIngest_RemovesAttachmentWhenRecordFails(t *testing.T) {
	p, st, fs := setup(t)
	st.createErr = apperr.Dependency("store.CreateMessage", errors.New("disk full"))

	_, err := p.Ingest(context.Background(), "general", ann, models.Content{Media: image("image/gif", gifBytes)})
	require.Error(t, err)
	assert.True(t, apperr.IsRetryable(err))
	assert.Equal(t, 0, countFiles(t, fs))
}

func TestIngest_WithoutStorageRejectsMedia(t *testing.T) {
	p := New(&fakeStore{rooms: map[string]bool{"general": true}}, nil, 0)

	_, err := p.Ingest(context.Background(), "general", ann, models.Content{Media: image("image/png", "png")})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}
