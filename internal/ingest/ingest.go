// Package ingest validates and persists incoming chat messages.
package ingest

import (
	"context"
	"log/slog"
	"strings"

	"livechat/internal/apperr"
	"livechat/internal/media"
	"livechat/internal/models"
)

// MessageStore is the part of the persistent store the pipeline writes through.
type MessageStore interface {
	RoomExists(ctx context.Context, id string) (bool, error)
	CreateMessage(ctx context.Context, roomID, authorID, content, imageURL string) (*models.Message, error)
}

// Pipeline turns submitted content into a stored message. It never publishes.
type Pipeline struct {
	store   MessageStore
	storage media.Storage
	maxSize int64
}

// New returns a pipeline. maxSize <= 0 disables the attachment size check.
func New(store MessageStore, storage media.Storage, maxSize int64) *Pipeline {
	return &Pipeline{store: store, storage: storage, maxSize: maxSize}
}

// Ingest validates content, stores its attachment and creates the message record.
// The attachment is removed again if the record cannot be created.
func (p *Pipeline) Ingest(ctx context.Context, roomID string, author models.UserSnapshot, content models.Content) (*models.Message, error) {
	const op = "ingest.Ingest"

	content.Text = strings.TrimSpace(content.Text)
	if content.Empty() {
		return nil, apperr.Validation(op, map[string]string{"content": "Message must have text or an image"})
	}
	if m := content.Media; m != nil {
		if !media.Allowed(m.ContentType) {
			return nil, apperr.Validation(op, map[string]string{"image": "Invalid image type"})
		}
		if p.maxSize > 0 && m.Size > p.maxSize {
			return nil, apperr.Validation(op, map[string]string{"image": "Image is too large"})
		}
		if p.storage == nil {
			return nil, apperr.Validation(op, map[string]string{"image": "Attachments are not supported"})
		}
	}

	exists, err := p.store.RoomExists(ctx, roomID)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	if !exists {
		return nil, apperr.NotFound(op, "room")
	}

	var ref string
	if m := content.Media; m != nil {
		detected, body, err := media.Sniff(m.Body)
		if err != nil {
			return nil, apperr.Validation(op, map[string]string{"image": "Image could not be read"})
		}
		// The declared type is client input; the bytes decide.
		if !media.Allowed(detected) {
			return nil, apperr.Validation(op, map[string]string{"image": "Invalid image type"})
		}
		ref, err = p.storage.Save(ctx, media.ObjectName(m.Filename), detected, body)
		if err != nil {
			return nil, apperr.Dependency(op, err)
		}
	}

	msg, err := p.store.CreateMessage(ctx, roomID, author.ID, content.Text, ref)
	if err != nil {
		if ref != "" {
			if derr := p.storage.Delete(context.WithoutCancel(ctx), ref); derr != nil {
				slog.Error("[INGEST] Failed to remove orphaned attachment", "ref", ref, "error", derr)
			}
		}
		return nil, apperr.Wrap(op, err)
	}
	return msg, nil
}
