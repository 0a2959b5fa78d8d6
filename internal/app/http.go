package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"carrel/api/internal/auth"
	"carrel/api/internal/order"
	"carrel/api/internal/session"
	"carrel/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Public share links, no authentication required
	if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/p/") {
		shareID := strings.TrimPrefix(r.URL.Path, "/p/")
		if shareID != "" && !strings.Contains(shareID, "/") {
			payload, err := s.service.ResolveShare(r.Context(), shareID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		sess, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(sess))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		sess, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        sess.UserID,
			"userName":      sess.UserName,
		})
		return
	}

	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	parts = parts[1:]

	switch parts[0] {
	case "search":
		if r.Method == http.MethodGet && len(parts) == 1 {
			s.handleSearch(w, r, sess)
			return
		}
	case "invitations":
		s.handleInvitations(w, r, sess, parts)
		return
	case "spaces":
		s.handleSpaces(w, r, sess, parts)
		return
	case "folders":
		s.handleFolders(w, r, sess, parts)
		return
	case "notes":
		s.handleNotes(w, r, sess, parts)
		return
	case "attachments":
		s.handleAttachments(w, r, sess, parts)
		return
	case "share":
		s.handleShare(w, r, sess, parts)
		return
	case "order":
		s.handleOrder(w, r, sess, parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	sess, err := s.service.SignUp(r.Context(), body.Email, body.Password, body.DisplayName)
	if err != nil {
		if err.Error() == "email already registered" {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
			return
		}
		var domainErr *DomainError
		if errors.As(err, &domainErr) {
			writeError(w, domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details)
			return
		}
		writeError(w, http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(sess))
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	sess, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(sess))
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, sess Session) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	folderID := strings.TrimSpace(r.URL.Query().Get("folderId"))
	limit, ok := queryInt(w, r, "limit", 20)
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset", 0)
	if !ok {
		return
	}
	payload, err := s.service.SearchNotes(r.Context(), sess.UserID, q, folderID, limit, offset)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleInvitations(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		direction := strings.TrimSpace(r.URL.Query().Get("direction"))
		items, err := s.service.ListInvitations(r.Context(), sess.UserID, direction)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		views := make([]map[string]any, 0, len(items))
		for _, item := range items {
			views = append(views, invitationView(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{"invitations": views})

	case len(parts) == 1 && r.Method == http.MethodPost:
		var body struct {
			Email  string `json:"email"`
			UserID int64  `json:"userId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		invitation, err := s.service.CreateInvitation(r.Context(), sess.UserID, body.Email, body.UserID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, invitationView(invitation))

	case len(parts) == 3 && parts[2] == "respond" && r.Method == http.MethodPost:
		var body struct {
			Action string `json:"action"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		invitation, err := s.service.RespondInvitation(r.Context(), sess.UserID, parts[1], body.Action)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, invitationView(invitation))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSpaces(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		var ownerID int64
		if raw := strings.TrimSpace(r.URL.Query().Get("owner")); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "owner must be an integer", nil)
				return
			}
			ownerID = parsed
		}
		items, err := s.service.ListSpaces(r.Context(), sess.UserID, ownerID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		views := make([]map[string]any, 0, len(items))
		for _, item := range items {
			views = append(views, spaceView(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{"spaces": views})

	case len(parts) == 1 && r.Method == http.MethodPost:
		var body struct {
			Name  string `json:"name"`
			Color string `json:"color"`
			Icon  string `json:"icon"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		space, err := s.service.CreateSpace(r.Context(), sess.UserID, body.Name, body.Color, body.Icon)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, spaceView(space))

	case len(parts) == 2 && r.Method == http.MethodGet:
		space, err := s.service.GetSpace(r.Context(), sess.UserID, parts[1])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, spaceView(space))

	case len(parts) == 2 && r.Method == http.MethodPut:
		var body struct {
			Name  string `json:"name"`
			Color string `json:"color"`
			Icon  string `json:"icon"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		space, err := s.service.UpdateSpace(r.Context(), sess.UserID, parts[1], body.Name, body.Color, body.Icon)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, spaceView(space))

	case len(parts) == 2 && r.Method == http.MethodDelete:
		if err := s.service.DeleteSpace(r.Context(), sess.UserID, parts[1]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 3 && parts[2] == "folders" && r.Method == http.MethodGet:
		items, err := s.service.ListFolders(r.Context(), sess.UserID, parts[1])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		views := make([]map[string]any, 0, len(items))
		for _, item := range items {
			views = append(views, folderView(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{"folders": views})

	case len(parts) == 3 && parts[2] == "folders" && r.Method == http.MethodPost:
		var body struct {
			Name string `json:"name"`
			Icon string `json:"icon"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		folder, err := s.service.CreateFolder(r.Context(), sess.UserID, parts[1], body.Name, body.Icon)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, folderView(folder))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleFolders(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		folder, err := s.service.GetFolder(r.Context(), sess.UserID, parts[1])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, folderView(folder))

	case len(parts) == 2 && r.Method == http.MethodPut:
		var body struct {
			Name string `json:"name"`
			Icon string `json:"icon"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		folder, err := s.service.UpdateFolder(r.Context(), sess.UserID, parts[1], body.Name, body.Icon)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, folderView(folder))

	case len(parts) == 2 && r.Method == http.MethodDelete:
		if err := s.service.DeleteFolder(r.Context(), sess.UserID, parts[1]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 3 && parts[2] == "notes" && r.Method == http.MethodGet:
		items, err := s.service.ListNotes(r.Context(), sess.UserID, parts[1])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		views := make([]map[string]any, 0, len(items))
		for _, item := range items {
			views = append(views, noteView(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{"notes": views})

	case len(parts) == 3 && parts[2] == "notes" && r.Method == http.MethodPost:
		var body struct {
			Title   string   `json:"title"`
			Content string   `json:"content"`
			Tags    []string `json:"tags"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		note, err := s.service.CreateNote(r.Context(), sess.UserID, parts[1], body.Title, body.Content, body.Tags)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, noteView(note))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleNotes(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		note, err := s.service.GetNote(r.Context(), sess.UserID, parts[1])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, noteView(note))

	case len(parts) == 2 && r.Method == http.MethodPut:
		var body struct {
			Title   string   `json:"title"`
			Content string   `json:"content"`
			Tags    []string `json:"tags"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		note, err := s.service.UpdateNote(r.Context(), sess.UserID, parts[1], body.Title, body.Content, body.Tags)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, noteView(note))

	case len(parts) == 2 && r.Method == http.MethodDelete:
		if err := s.service.DeleteNote(r.Context(), sess.UserID, parts[1]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 3 && parts[2] == "move" && r.Method == http.MethodPost:
		var body struct {
			TargetFolderID string `json:"targetFolderId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		note, err := s.service.MoveNote(r.Context(), sess.UserID, parts[1], body.TargetFolderID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, noteView(note))

	case len(parts) == 3 && parts[2] == "attachments" && r.Method == http.MethodGet:
		items, err := s.service.ListAttachments(r.Context(), sess.UserID, parts[1])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		views := make([]map[string]any, 0, len(items))
		for _, item := range items {
			views = append(views, attachmentView(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{"attachments": views})

	case len(parts) == 3 && parts[2] == "attachments" && r.Method == http.MethodPost:
		s.handleUploadAttachment(w, r, sess, parts[1])

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleUploadAttachment(w http.ResponseWriter, r *http.Request, sess Session, noteID string) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart field 'file' is required", nil)
		return
	}
	defer file.Close()

	attachment, err := s.service.UploadAttachment(
		r.Context(),
		sess.UserID,
		noteID,
		header.Filename,
		header.Header.Get("Content-Type"),
		header.Size,
		file,
	)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, attachmentView(attachment))
}

func (s *HTTPServer) handleAttachments(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		attachment, reader, err := s.service.DownloadAttachment(r.Context(), sess.UserID, parts[1])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		defer reader.Close()

		w.Header().Set("Content-Type", attachment.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", attachment.FileName))
		w.Header().Set("Content-Length", strconv.FormatInt(attachment.SizeBytes, 10))
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, reader); err != nil {
			log.Printf("stream attachment %s: %v", attachment.ID, err)
		}

	case len(parts) == 2 && r.Method == http.MethodDelete:
		if err := s.service.DeleteAttachment(r.Context(), sess.UserID, parts[1]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleShare(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	if len(parts) != 4 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	kind := store.EntityKind(parts[1])
	entityID := parts[2]

	switch {
	case parts[3] == "publish" && r.Method == http.MethodPost:
		info, err := s.service.Publish(r.Context(), sess.UserID, kind, entityID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, info)

	case parts[3] == "unpublish" && r.Method == http.MethodPost:
		if err := s.service.Unpublish(r.Context(), sess.UserID, kind, entityID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case parts[3] == "status" && r.Method == http.MethodGet:
		status, err := s.service.GetShareStatus(r.Context(), sess.UserID, kind, entityID)
		if err != nil {
			httpStatus, code, message, details := mapError(err)
			writeError(w, httpStatus, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, status)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleOrder(w http.ResponseWriter, r *http.Request, sess Session, parts []string) {
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		scope := strings.TrimSpace(r.URL.Query().Get("scope"))
		ids, err := s.service.GetOrder(r.Context(), sess.UserID, scope)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"scope": scope, "order": ids})

	case http.MethodPut:
		var body struct {
			Scope    string `json:"scope"`
			EntityID string `json:"entityId"`
			NewIndex *int   `json:"newIndex"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.NewIndex == nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "newIndex is required", nil)
			return
		}
		ids, err := s.service.Reorder(r.Context(), sess.UserID, body.Scope, body.EntityID, *body.NewIndex)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"scope": body.Scope, "order": ids})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	sess, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return sess, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", name+" must be an integer", nil)
		return 0, false
	}
	return parsed, true
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, order.ErrMalformedScope) || errors.Is(err, order.ErrIndexOutOfRange) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	}
	if errors.Is(err, order.ErrNotSibling) {
		return http.StatusNotFound, "NOT_FOUND", err.Error(), nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, session.ErrNotFound) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func sessionPayload(sess Session) map[string]any {
	return map[string]any{
		"token":        sess.Token,
		"refreshToken": sess.RefreshToken,
		"userId":       sess.UserID,
		"userName":     sess.UserName,
		"expiresAt":    sess.ExpiresAt.Unix(),
	}
}

func invitationView(invitation store.Invitation) map[string]any {
	return map[string]any{
		"id":            invitation.ID,
		"ownerId":       invitation.OwnerID,
		"invitedUserId": invitation.InvitedUserID,
		"status":        string(invitation.Status),
		"createdAt":     invitation.CreatedAt,
	}
}

func spaceView(space store.Space) map[string]any {
	return map[string]any{
		"id":        space.ID,
		"ownerId":   space.OwnerID,
		"name":      space.Name,
		"color":     space.Color,
		"icon":      space.Icon,
		"createdAt": space.CreatedAt,
	}
}

func folderView(folder store.Folder) map[string]any {
	return map[string]any{
		"id":        folder.ID,
		"ownerId":   folder.OwnerID,
		"spaceId":   folder.SpaceID,
		"name":      folder.Name,
		"icon":      folder.Icon,
		"createdAt": folder.CreatedAt,
	}
}

func noteView(note store.Note) map[string]any {
	return map[string]any{
		"id":        note.ID,
		"ownerId":   note.OwnerID,
		"folderId":  note.FolderID,
		"title":     note.Title,
		"content":   note.Content,
		"tags":      note.Tags,
		"createdAt": note.CreatedAt,
	}
}

func attachmentView(attachment store.Attachment) map[string]any {
	return map[string]any{
		"id":          attachment.ID,
		"noteId":      attachment.NoteID,
		"fileName":    attachment.FileName,
		"contentType": attachment.ContentType,
		"sizeBytes":   attachment.SizeBytes,
		"createdAt":   attachment.CreatedAt,
	}
}
