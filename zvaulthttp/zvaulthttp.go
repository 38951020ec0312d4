// Package zvaulthttp serves a built zvault.Image over HTTP, supporting
// range requests the way net/http.ServeContent does.
package zvaulthttp

import (
	"context"
	"io"
	"net/http"

	"github.com/zvault/zvault"
)

// Handler serves a single archive image. The zero value is not usable; use
// NewHandler.
type Handler struct {
	img *zvault.Image
}

// NewHandler returns an http.Handler that serves img's bytes, supporting
// range requests.
func NewHandler(img *zvault.Image) *Handler {
	return &Handler{img: img}
}

// ServeHTTP serves the archive image. Content-Type and Etag headers are
// set automatically if not already present on the response.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.Header()["Content-Type"]; !ok {
		w.Header().Set("Content-Type", "application/zip")
	}
	if _, ok := w.Header()["Etag"]; !ok {
		w.Header().Set("Etag", h.img.ETag())
	}

	src := contextReaderAt{img: h.img, ctx: r.Context()}
	rs := io.NewSectionReader(src, 0, h.img.Size())
	http.ServeContent(w, r, "", h.img.CreateTime(), rs)
}

// contextReaderAt adapts an *Image's ReadAtContext to the plain io.ReaderAt
// interface the io.SectionReader handed to http.ServeContent calls through,
// binding a single request's context for the adapter's lifetime. This
// mirrors the teacher's withContext, scoped per-request rather than reused
// across requests.
type contextReaderAt struct {
	img *zvault.Image
	ctx context.Context
}

func (c contextReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return c.img.ReadAtContext(c.ctx, p, off)
}
