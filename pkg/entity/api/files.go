package api

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/tendant/simple-entity/pkg/entity"
)

// maxUploadMemory bounds the multipart form kept in memory; larger parts spill to disk.
const maxUploadMemory = 32 << 20

// FilesHandler stores and serves the files referenced by file properties
type FilesHandler struct {
	mapper *entity.Mapper
	logger *slog.Logger
}

// NewFilesHandler creates a files handler; a nil logger means slog.Default().
func NewFilesHandler(m *entity.Mapper, logger *slog.Logger) *FilesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FilesHandler{mapper: m, logger: logger}
}

// Routes returns the router for files endpoints
func (h *FilesHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Upload)
	r.Get("/{id}", h.Download)
	r.Get("/{id}/info", h.Info)
	r.Get("/{id}/url", h.URL)
	return r
}

// FileResponse describes a stored file
type FileResponse struct {
	ID                int64     `json:"id"`
	FileName          string    `json:"file_name"`
	ContentType       string    `json:"content_type"`
	Size              int64     `json:"size"`
	Checksum          string    `json:"checksum"`
	ChecksumAlgorithm string    `json:"checksum_algorithm"`
	CreatedAt         time.Time `json:"created_at"`
}

func fileResponse(f *entity.File) FileResponse {
	return FileResponse{
		ID:                f.ID,
		FileName:          f.FileName,
		ContentType:       f.ContentType,
		Size:              f.Size,
		Checksum:          f.Checksum,
		ChecksumAlgorithm: f.ChecksumAlgorithm,
		CreatedAt:         f.CreatedAt,
	}
}

// Upload stores the multipart "file" part. The optional "scope" form value
// groups the stored object.
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		badRequest(w, r, "invalid multipart form: "+err.Error())
		return
	}
	part, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, r, "missing file part")
		return
	}
	defer part.Close()

	ref, err := h.mapper.UploadFile(r.Context(), entity.FileUpload{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Reader:      part,
		Scope:       r.FormValue("scope"),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	file, err := h.mapper.Repository().GetFile(r.Context(), int64(ref))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.logger.Info("file uploaded", "file_id", file.ID, "name", file.FileName, "size", file.Size)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, fileResponse(file))
}

func (h *FilesHandler) ref(w http.ResponseWriter, r *http.Request) (entity.FileRef, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, r, "invalid file id")
		return 0, false
	}
	return entity.FileRef(id), true
}

// Download streams the file content
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.ref(w, r)
	if !ok {
		return
	}
	file, rc, err := h.mapper.OpenFile(r.Context(), ref)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	defer rc.Close()

	if file.ContentType != "" {
		w.Header().Set("Content-Type", file.ContentType)
	}
	if file.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(file.Size, 10))
	}
	if file.FileName != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.FileName}))
	}
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("download interrupted", "file_id", file.ID, "err", err)
	}
}

// Info returns the stored file record
func (h *FilesHandler) Info(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.ref(w, r)
	if !ok {
		return
	}
	file, err := h.mapper.Repository().GetFile(r.Context(), int64(ref))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	render.JSON(w, r, fileResponse(file))
}

// URL returns a download URL from the blob store
func (h *FilesHandler) URL(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.ref(w, r)
	if !ok {
		return
	}
	url, err := h.mapper.FileURL(r.Context(), ref)
	if err != nil {
		writeError(w, r, h.logger, fmt.Errorf("file %d: %w", ref, err))
		return
	}
	render.JSON(w, r, map[string]string{"url": url})
}
