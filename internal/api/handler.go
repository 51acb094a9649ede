// Package api exposes the conversation service over HTTP and MCP.
package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/docquer/docquer/internal/apperr"
	"github.com/docquer/docquer/internal/metrics"
	"github.com/docquer/docquer/internal/pipeline"
	"github.com/docquer/docquer/internal/storage"
)

const (
	maxJSONBody   = 1 << 20  // 1MB
	maxUploadBody = 25 << 20 // 25MB
)

// Service is the conversation orchestrator as seen by the transport layer.
type Service interface {
	CreateConversation(ctx context.Context, nc pipeline.NewConversation) (storage.Conversation, error)
	GetConversation(ctx context.Context, id string) (storage.Conversation, error)
	ListConversations(ctx context.Context, username string) ([]storage.Conversation, error)
	DeleteConversation(ctx context.Context, id string) (pipeline.DeleteResult, error)
	Messages(ctx context.Context, id, username string) (pipeline.Transcript, error)
	Chat(ctx context.Context, req pipeline.ChatRequest) (pipeline.ChatResult, error)
	AttachFile(ctx context.Context, f pipeline.FileUpload) (pipeline.IngestResult, error)
	AttachLink(ctx context.Context, conversationID, rawURL string) (pipeline.IngestResult, error)
	AttachVideo(ctx context.Context, conversationID, videoURL string) (pipeline.IngestResult, error)
	Stats(ctx context.Context, username string) (pipeline.Stats, error)
	SetAPIKey(ctx context.Context, username, key string) error
	VectorBackend() string
}

// Deps holds the dependencies of the HTTP handler.
type Deps struct {
	Service Service
	// Token, when set, is required as a bearer token on every route but
	// /health and /metrics.
	Token string
}

// NewHandler returns the docquer REST API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Get("/health", handleHealth(deps))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Put("/users/{username}/api-key", handleSetAPIKey(deps))
		r.Get("/users/{username}/conversations", handleListConversations(deps))
		r.Get("/users/{username}/stats", handleStats(deps))

		r.Post("/conversations", handleCreateConversation(deps))
		r.Get("/conversations/{id}", handleGetConversation(deps))
		r.Delete("/conversations/{id}", handleDeleteConversation(deps))
		r.Get("/conversations/{id}/messages", handleMessages(deps))
		r.Post("/conversations/{id}/chat", handleChat(deps))
		r.Post("/conversations/{id}/file", handleUpload(deps, false))
		r.Put("/conversations/{id}/file", handleUpload(deps, true))
		r.Post("/conversations/{id}/links", handleAttachLink(deps))
		r.Post("/conversations/{id}/videos", handleAttachVideo(deps))
	})

	return r
}

// instrument records request counts and latencies by route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		metrics.HTTPDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":        "ok",
			"vectorBackend": deps.Service.VectorBackend(),
		})
	}
}

type apiKeyRequest struct {
	APIKey string `json:"apiKey"`
}

func handleSetAPIKey(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req apiKeyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		username := chi.URLParam(r, "username")
		if err := deps.Service.SetAPIKey(r.Context(), username, req.APIKey); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"username": username, "apiKeySet": strings.TrimSpace(req.APIKey) != ""})
	}
}

func handleListConversations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convs, err := deps.Service.ListConversations(r.Context(), chi.URLParam(r, "username"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		out := make([]conversationView, len(convs))
		for i, c := range convs {
			out[i] = newConversationView(c)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Service.Stats(r.Context(), chi.URLParam(r, "username"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

type createConversationRequest struct {
	Username     string `json:"username"`
	FirstMessage string `json:"firstMessage"`
	Title        string `json:"title"`
	FileName     string `json:"fileName"`
	FileMIME     string `json:"fileMime"`
}

func handleCreateConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createConversationRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		c, err := deps.Service.CreateConversation(r.Context(), pipeline.NewConversation{
			Username:     req.Username,
			FirstMessage: req.FirstMessage,
			Title:        req.Title,
			FileName:     req.FileName,
			FileMIME:     req.FileMIME,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, newConversationView(c))
	}
}

func handleGetConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := deps.Service.GetConversation(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newConversationView(c))
	}
}

func handleDeleteConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		res, err := deps.Service.DeleteConversation(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":           id,
			"status":       "deleted",
			"indexDeleted": res.IndexDeleted,
			"purgeQueued":  res.PurgeQueued,
		})
	}
}

func handleMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tr, err := deps.Service.Messages(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("username"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newTranscriptView(tr))
	}
}

type chatRequest struct {
	Query    string `json:"query"`
	Username string `json:"username"`
	Mode     string `json:"mode"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := deps.Service.Chat(r.Context(), pipeline.ChatRequest{
			ConversationID: chi.URLParam(r, "id"),
			Username:       req.Username,
			Query:          req.Query,
			Mode:           req.Mode,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleUpload(deps Deps, replace bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
		defer r.Body.Close()

		file, header, err := r.FormFile("file")
		if err != nil {
			if errors.Is(err, http.ErrMissingFile) {
				writeError(w, r, apperr.New(apperr.InvalidInput, "multipart field \"file\" is required"))
				return
			}
			writeError(w, r, uploadErr(err))
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, r, uploadErr(err))
			return
		}
		if v, _ := strconv.ParseBool(r.FormValue("replace")); v {
			replace = true
		}

		res, err := deps.Service.AttachFile(r.Context(), pipeline.FileUpload{
			ConversationID: chi.URLParam(r, "id"),
			FileName:       header.Filename,
			MIME:           uploadMIME(header.Header.Get("Content-Type"), header.Filename),
			Data:           data,
			Replace:        replace,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// uploadErr classifies a body read failure: an oversize body becomes a
// *http.MaxBytesError, anything else is a malformed request. The multipart
// reader does not always wrap the MaxBytesReader error.
func uploadErr(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
		return &http.MaxBytesError{Limit: maxUploadBody}
	}
	return apperr.Wrap(apperr.InvalidInput, err, "reading upload")
}

var extensionMIME = map[string]string{
	".txt":  "text/plain",
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// uploadMIME returns the declared part type, or one derived from the file
// extension when the client sent none or a generic one.
func uploadMIME(declared, filename string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if t, ok := extensionMIME[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return declared
}

type linkRequest struct {
	URL string `json:"url"`
}

func handleAttachLink(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req linkRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := deps.Service.AttachLink(r.Context(), chi.URLParam(r, "id"), req.URL)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleAttachVideo(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req linkRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := deps.Service.AttachVideo(r.Context(), chi.URLParam(r, "id"), req.URL)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
