package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// Disk writes attachments into a directory served under baseURL (e.g. "/images").
type Disk struct {
	fs      afero.Fs
	dir     string
	baseURL string
}

var (
	_ Storage = (*Disk)(nil)
	_ Opener  = (*Disk)(nil)
)

// NewDisk creates dir on fs if needed. Pass afero.NewOsFs() for the real filesystem.
func NewDisk(fs afero.Fs, dir, baseURL string) (*Disk, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Disk{fs: fs, dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir is the directory files are written to.
func (d *Disk) Dir() string { return d.dir }

// Save writes to a temp file first so a half-written upload is never visible under name.
func (d *Disk) Save(ctx context.Context, name, contentType string, body io.Reader) (string, error) {
	base := path.Base(name)
	tmp, err := afero.TempFile(d.fs, d.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer d.fs.Remove(tmp.Name())

	if _, err := io.Copy(tmp, readerWithContext(ctx, body)); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", base, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", base, err)
	}
	if err := d.fs.Rename(tmp.Name(), path.Join(d.dir, base)); err != nil {
		return "", fmt.Errorf("move %s into place: %w", base, err)
	}

	slog.Debug("[MEDIA] Stored file", "name", base, "type", contentType, "dir", d.dir)
	return d.baseURL + "/" + base, nil
}

func (d *Disk) Delete(ctx context.Context, ref string) error {
	base := path.Base(ref)
	err := d.fs.Remove(path.Join(d.dir, base))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", base, err)
	}
	return nil
}

func (d *Disk) Open(ctx context.Context, name string) (io.ReadCloser, string, error) {
	base := path.Base(name)
	f, err := d.fs.Open(path.Join(d.dir, base))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("open %s: %w", base, err)
	}
	contentType := mime.TypeByExtension(path.Ext(base))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return f, contentType, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
