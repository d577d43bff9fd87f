package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/sagekb/sage/internal/apperr"
	"github.com/sagekb/sage/internal/store"
)

// allowedUploadExts mirrors the formats the ingestion loader understands.
var allowedUploadExts = map[string]bool{
	".pdf": true, ".docx": true, ".doc": true, ".txt": true, ".md": true,
}

type createKBRequest struct {
	Name   string `json:"name"`
	UserID string `json:"user_id"`
}

func (s *Server) handleCreateKB(w http.ResponseWriter, r *http.Request) {
	var req createKBRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, apperr.New(apperr.KindValidation, "name must not be empty"))
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = store.PublicOwner
	}

	kb, err := s.store.CreateKnowledgeBase(r.Context(), req.Name, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, "knowledge base created", map[string]any{"kb": kb})
}

type kbListItem struct {
	store.KnowledgeBase
	ChunkCount int `json:"chunk_count"`
}

func (s *Server) handleListKBs(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	kbs, err := s.store.ListKnowledgeBases(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]kbListItem, 0, len(kbs))
	for _, kb := range kbs {
		count, err := s.store.CountChunks(r.Context(), kb.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		items = append(items, kbListItem{KnowledgeBase: kb, ChunkCount: count})
	}
	writeOK(w, "ok", map[string]any{"items": items})
}

func (s *Server) handleDeleteKB(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, apperr.New(apperr.KindValidation, "invalid knowledge base id"))
		return
	}
	if err := s.store.DeleteKnowledgeBase(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, "knowledge base deleted", map[string]any{"kb_id": id})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	kbID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, apperr.New(apperr.KindValidation, "invalid knowledge base id"))
		return
	}
	if _, err := s.store.GetKnowledgeBase(r.Context(), kbID); err != nil {
		writeError(w, err)
		return
	}
	docs, err := s.store.ListDocuments(r.Context(), kbID)
	if err != nil {
		writeError(w, err)
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}
	writeOK(w, "ok", map[string]any{"kb_id": kbID, "items": docs})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	kbID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, apperr.New(apperr.KindValidation, "invalid knowledge base id"))
		return
	}
	docID, ok := pathUUID(r, "docID")
	if !ok {
		writeError(w, apperr.New(apperr.KindValidation, "invalid document id"))
		return
	}

	doc, err := s.store.GetDocument(r.Context(), docID)
	if err != nil {
		writeError(w, err)
		return
	}
	if doc.KBID != kbID {
		writeError(w, apperr.Newf(apperr.KindNotFound, "document %s not found", docID))
		return
	}
	if err := s.store.DeleteDocument(r.Context(), docID); err != nil {
		writeError(w, err)
		return
	}

	// The database row is gone; a leftover file is only worth a warning.
	if doc.StoredPath != "" {
		if err := os.Remove(doc.StoredPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("removing stored file failed", "path", doc.StoredPath, "error", err)
		}
	}

	writeOK(w, "document deleted", map[string]any{"kb_id": kbID, "document_id": docID})
}

// handleUpload accepts a multipart file plus either kb_id or kb_name, saves
// the file under the upload dir, and runs ingestion. A failed ingestion
// removes both the stored file and the document row.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	if err := r.ParseMultipartForm(s.maxUploadSize); err != nil {
		writeError(w, apperr.Wrap(apperr.KindValidation, "invalid multipart request", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "no file provided"))
		return
	}
	defer file.Close()

	originalName := filepath.Base(strings.TrimSpace(header.Filename))
	if originalName == "" || originalName == "." {
		writeError(w, apperr.New(apperr.KindValidation, "empty filename"))
		return
	}
	ext := strings.ToLower(filepath.Ext(originalName))
	if !allowedUploadExts[ext] {
		writeError(w, apperr.Newf(apperr.KindUnsupportedFormat, "unsupported file type: %s", ext))
		return
	}

	kbIDRaw := strings.TrimSpace(r.FormValue("kb_id"))
	kbName := strings.TrimSpace(r.FormValue("kb_name"))
	userID := strings.TrimSpace(r.FormValue("user_id"))
	if userID == "" {
		userID = store.PublicOwner
	}
	if kbIDRaw == "" && kbName == "" {
		writeError(w, apperr.New(apperr.KindValidation, "either kb_id or kb_name is required"))
		return
	}

	kb, err := s.uploadTarget(r, kbIDRaw, kbName, userID)
	if err != nil {
		writeError(w, err)
		return
	}

	storedPath, err := s.saveUpload(file, originalName, ext)
	if err != nil {
		writeError(w, err)
		return
	}

	doc, err := s.store.CreateDocument(r.Context(), kb.ID, originalName, storedPath)
	if err != nil {
		removeQuiet(storedPath)
		writeError(w, err)
		return
	}

	result, err := s.ingestor.Process(r.Context(), storedPath, kb.ID, doc.ID, originalName)
	if err != nil {
		if delErr := s.store.DeleteDocument(r.Context(), doc.ID); delErr != nil {
			s.logger.Warn("cleaning up failed upload", "document_id", doc.ID, "error", delErr)
		}
		removeQuiet(storedPath)
		writeError(w, err)
		return
	}

	writeOK(w, "document ingested", map[string]any{
		"kb_id":            kb.ID,
		"kb_name":          kb.Name,
		"document_id":      doc.ID,
		"filename":         originalName,
		"chunk_count":      result.ChunkCount,
		"text_block_count": result.TextBlockCount,
	})
}

// uploadTarget resolves the destination knowledge base: an explicit id must
// exist; a name is looked up for the user and created on first use.
func (s *Server) uploadTarget(r *http.Request, kbIDRaw, kbName, userID string) (store.KnowledgeBase, error) {
	if kbIDRaw != "" {
		kbID, err := uuid.Parse(kbIDRaw)
		if err != nil {
			return store.KnowledgeBase{}, apperr.New(apperr.KindValidation, "invalid kb_id")
		}
		return s.store.GetKnowledgeBase(r.Context(), kbID)
	}

	kb, err := s.store.FindKnowledgeBaseByName(r.Context(), kbName, userID)
	if err == nil {
		return kb, nil
	}
	if !apperr.IsKind(err, apperr.KindNotFound) {
		return store.KnowledgeBase{}, err
	}
	return s.store.CreateKnowledgeBase(r.Context(), kbName, userID)
}

// saveUpload copies the uploaded content to the upload dir under a
// collision-free name derived from the original.
func (s *Server) saveUpload(src io.Reader, originalName, ext string) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("creating upload dir: %w", err)
	}

	base := sanitizeFilename(strings.TrimSuffix(originalName, ext))
	suffix := uuid.New().String()[:8]
	var name string
	if base != "" {
		name = fmt.Sprintf("%s_%s%s", base, suffix, ext)
	} else {
		name = fmt.Sprintf("upload_%s%s", suffix, ext)
	}
	path := filepath.Join(s.uploadDir, name)

	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating stored file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		removeQuiet(path)
		return "", fmt.Errorf("writing stored file: %w", err)
	}
	if err := dst.Close(); err != nil {
		removeQuiet(path)
		return "", fmt.Errorf("closing stored file: %w", err)
	}
	return path, nil
}

// sanitizeFilename keeps letters, digits, dash, underscore, and dot so the
// stored name is safe on any filesystem and free of path separators.
func sanitizeFilename(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return strings.Trim(sb.String(), "._")
}

func removeQuiet(path string) {
	_ = os.Remove(path)
}
