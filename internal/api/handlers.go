package api

import (
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sealight/filecustody/internal/blobfs"
	"github.com/sealight/filecustody/internal/custody"
	"github.com/sealight/filecustody/internal/middleware"
	"github.com/sealight/filecustody/internal/models"
)

const maxUploadMemory = 32 << 20 // 32 MiB of multipart form held in memory

// AuthVerify handles POST /auth/verify. It checks a raw credential without
// requiring the Authorization header, mirroring the provider's verify call.
func (s *Server) AuthVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDToken string `json:"id_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IDToken == "" {
		respondError(w, http.StatusBadRequest, "id_token is required")
		return
	}

	identity, err := s.auth.Verifier().VerifyCredential(req.IDToken)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	respondJSON(w, http.StatusOK, identity)
}

// AuthMe handles GET /auth/me.
func (s *Server) AuthMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	respondJSON(w, http.StatusOK, identity)
}

// ListTags handles GET /tags.
func (s *Server) ListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.ListTags()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list tags")
		return
	}
	if tags == nil {
		tags = []models.Tag{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"tags": tags})
}

type uploadResult struct {
	FileName       string `json:"file_name"`
	Size           int64  `json:"size"`
	StoredFilename string `json:"stored_filename"`
	SizeBytes      int64  `json:"size_bytes"`
	Directory      string `json:"directory"`
}

// Upload handles POST /upload: one multipart file, no metadata.
func (s *Server) Upload(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	rec, err := s.gateway.RegisterUpload(identity.UID, uploadName(header), file, nil)
	if err != nil {
		respondCustodyError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, uploadResult{
		FileName:       rec.FileName,
		Size:           rec.SizeBytes,
		StoredFilename: rec.FileName,
		SizeBytes:      rec.SizeBytes,
		Directory:      string(blobfs.CategoryUploads),
	})
}

// uploadMeta is one entry of the metadata form field on batch uploads.
type uploadMeta struct {
	TagID      string `json:"tag_id"`
	ExpiryTime string `json:"expiry_time"`
}

// UploadMultiple handles POST /upload/multiple: up to MaxUploadFiles files
// plus a JSON metadata field, either a list aligned by index or an object
// keyed by original or sanitized filename. Tag and expiry are required per
// file.
func (s *Server) UploadMultiple(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "no files provided")
		return
	}
	if len(files) > MaxUploadFiles {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("maximum allowed files per upload is %d", MaxUploadFiles))
		return
	}

	metaByIndex, metaByName, err := parseUploadMetadata(r.FormValue("metadata"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	results := make([]uploadResult, 0, len(files))
	for i, header := range files {
		originalName := uploadName(header)
		safeName, err := custody.SanitizeFilename(originalName)
		if err != nil {
			respondCustodyError(w, err)
			return
		}

		var meta uploadMeta
		if metaByIndex != nil {
			if i < len(metaByIndex) {
				meta = metaByIndex[i]
			}
		} else if metaByName != nil {
			m, found := metaByName[originalName]
			if !found {
				m = metaByName[safeName]
			}
			meta = m
		}

		if strings.TrimSpace(meta.TagID) == "" {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("missing tag for %s", originalName))
			return
		}
		expiry, err := parseExpiry(meta.ExpiryTime)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("missing expiry time for %s", originalName))
			return
		}

		file, err := header.Open()
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("failed to read %s", originalName))
			return
		}

		tagID := strings.TrimSpace(meta.TagID)
		rec, err := s.gateway.RegisterUpload(identity.UID, originalName, file, &custody.UploadMeta{
			TagID:      &tagID,
			ExpiryTime: expiry,
		})
		file.Close()
		if err != nil {
			respondCustodyError(w, err)
			return
		}

		results = append(results, uploadResult{
			FileName:       rec.FileName,
			Size:           rec.SizeBytes,
			StoredFilename: rec.FileName,
			SizeBytes:      rec.SizeBytes,
			Directory:      string(blobfs.CategoryUploads),
		})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"files": results})
}

type fileNameRequest struct {
	FileName string `json:"file_name"`
	Filename string `json:"filename"`
}

func (req fileNameRequest) name() string {
	if strings.TrimSpace(req.FileName) != "" {
		return req.FileName
	}
	return req.Filename
}

// EncryptFile handles POST /encrypt.
func (s *Server) EncryptFile(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req fileNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.name()) == "" {
		respondError(w, http.StatusBadRequest, "file_name is required")
		return
	}

	result, err := s.gateway.Encrypt(identity.UID, req.name())
	if err != nil {
		respondCustodyError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"encrypted_filename":     result.EncryptedName,
		"encrypted_key_filename": result.KeyName,
		"directory":              string(blobfs.CategoryEncrypted),
	})
}

// DecryptFile handles POST /decrypt.
func (s *Server) DecryptFile(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req fileNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.name()) == "" {
		respondError(w, http.StatusBadRequest, "file_name is required")
		return
	}

	outputName, err := s.gateway.Decrypt(identity.UID, req.name())
	if err != nil {
		respondCustodyError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"decrypted_filename": outputName,
		"directory":          string(blobfs.CategoryDecrypted),
	})
}

// ListFiles handles GET /files.
func (s *Server) ListFiles(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	records, err := s.gateway.ListFiles(identity.UID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list files")
		return
	}
	if records == nil {
		records = []models.FileRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"files": records})
}

// Download handles GET /download/{category}/{filename}. Authorization is
// decided by the gateway before any filesystem lookup.
func (s *Server) Download(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	category := blobfs.Category(chi.URLParam(r, "category"))
	if !category.Valid() {
		respondError(w, http.StatusBadRequest, "unknown category")
		return
	}

	path, err := s.gateway.AuthorizeDownload(identity.UID, category, chi.URLParam(r, "filename"))
	if err != nil {
		respondCustodyError(w, err)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

func uploadName(header *multipart.FileHeader) string {
	if header.Filename == "" {
		return "upload.bin"
	}
	return header.Filename
}

func parseUploadMetadata(raw string) ([]uploadMeta, map[string]uploadMeta, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil, fmt.Errorf("metadata is required")
	}

	var byIndex []uploadMeta
	if err := json.Unmarshal([]byte(raw), &byIndex); err == nil {
		return byIndex, nil, nil
	}

	var byName map[string]uploadMeta
	if err := json.Unmarshal([]byte(raw), &byName); err == nil {
		return nil, byName, nil
	}

	return nil, nil, fmt.Errorf("metadata must be a JSON list or object")
}

func parseExpiry(raw string) (*time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, fmt.Errorf("expiry time is required")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid expiry time")
	}
	return &t, nil
}
