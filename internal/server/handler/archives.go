package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/PXY11/UniST/internal/domain"
	"github.com/PXY11/UniST/internal/export"
)

// ArchiveSource lists and retrieves uploaded snapshot objects. Satisfied by
// the S3 blob reader.
type ArchiveSource interface {
	List(ctx context.Context, prefix string) ([]domain.BlobInfo, error)
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}

// ArchiveHandler exposes the cold-storage snapshots over HTTP, so the
// charting tools can discover and fetch archives without S3 credentials.
type ArchiveHandler struct {
	blobs  ArchiveSource
	prefix string
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler scoped to the given key prefix.
func NewArchiveHandler(blobs ArchiveSource, prefix string, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		blobs:  blobs,
		prefix: prefix,
		logger: logger,
	}
}

// archiveView is the JSON shape of one stored snapshot.
type archiveView struct {
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	LastModified string `json:"last_modified"`
}

// listArchivesResponse wraps the archive listing response.
type listArchivesResponse struct {
	Archives []archiveView `json:"archives"`
}

// ListArchives enumerates the uploaded snapshot objects.
// GET /api/archives
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	infos, err := h.blobs.List(r.Context(), h.prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives", slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "archive storage unavailable")
		return
	}

	views := make([]archiveView, 0, len(infos))
	for _, info := range infos {
		views = append(views, archiveView{
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, listArchivesResponse{Archives: views})
}

// DownloadArchive streams one snapshot object. Keys outside the archive
// prefix are treated as unknown.
// GET /api/archives/{path...}
func (h *ArchiveHandler) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("path")
	if !strings.HasPrefix(key, h.prefix+"/") {
		writeError(w, http.StatusNotFound, "unknown archive")
		return
	}

	rc, err := h.blobs.Get(r.Context(), key)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown archive")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: fetch archive", slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "archive storage unavailable")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", archiveContentType(key))
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(key)+`"`)

	if _, err := io.Copy(w, rc); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: stream archive",
			slog.String("path", key),
			slog.Any("error", err),
		)
	}
}

// archiveContentType maps the object's extension onto an export MIME type.
func archiveContentType(key string) string {
	ext := strings.TrimPrefix(path.Ext(key), ".")
	format, err := export.ParseFormat(ext)
	if err != nil {
		return "application/octet-stream"
	}
	return export.ContentType(format)
}
