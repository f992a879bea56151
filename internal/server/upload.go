package server

import (
	"context"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"bookswap/internal/util"
	"bookswap/pkg/domain"
)

var coverExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
}

// /api/upload accepts a multipart cover image and returns a presigned URL
// suitable for a book's coverUrl field.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.objects == nil {
		writeError(w, http.StatusServiceUnavailable, "uploads not configured")
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if _, ok := coverExtensions[ext]; !ok {
		writeError(w, http.StatusBadRequest, "unsupported file type")
		return
	}
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := path.Join("covers", util.NewID()+ext)
	if err := s.objects.Put(r.Context(), key, file, header.Size, contentType); err != nil {
		s.audit(r, "upload.cover", "fail", "user_id", user.ID, "reason", err.Error())
		writeError(w, http.StatusInternalServerError, "store file failed")
		return
	}
	url, err := s.objects.PresignGet(r.Context(), key, s.presignExpiry)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "presign failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"key": key, "url": url})
}

// deleteCoverObject removes the stored cover behind a book's coverUrl.
// Best-effort: the listing is already gone, an orphaned object only costs
// storage. Accepts either a bare object key or a presigned URL.
func (s *Server) deleteCoverObject(ctx context.Context, coverURL string) {
	if s.objects == nil || coverURL == "" {
		return
	}
	key := coverURL
	if u, err := url.Parse(coverURL); err == nil && u.Path != "" {
		key = u.Path
	}
	idx := strings.Index(key, "covers/")
	if idx < 0 {
		return
	}
	key = key[idx:]
	if err := s.objects.Delete(ctx, key); err != nil {
		s.logger.Warn("delete cover object failed", "key", key, "err", err)
	}
}
