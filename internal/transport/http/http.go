// Package http implements the HTTP/WebSocket transport for agrivoice.
//
// This transport exposes a REST API for text and voice queries, session and
// language lookups, the document-ingestion hook, a WebSocket endpoint for
// interactive clients, and the locally stored answer audio. It is best suited
// for the mobile app and web clients.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/nadzzz/agrivoice/docs" // registers the OpenAPI document
	"github.com/nadzzz/agrivoice/internal/message"
	"github.com/nadzzz/agrivoice/internal/session"
	"github.com/nadzzz/agrivoice/internal/transport"
)

// DefaultMaxUploadBytes bounds voice uploads.
const DefaultMaxUploadBytes = 25 << 20

// Header names for raw audio uploads.
const (
	HeaderLanguage = "X-Agrivoice-Language"
	HeaderSession  = "X-Agrivoice-Session"
	HeaderUser     = "X-Agrivoice-User"
)

// Options configures the HTTP transport.
type Options struct {
	Port           int
	MaxUploadBytes int64

	// Sessions backs the session endpoints; nil disables them.
	Sessions session.Store

	// Flush is called by the documents-ingested hook; nil disables it.
	Flush transport.Flusher

	// Languages and TTSLanguages are reported by GET /v1/languages.
	Languages    []string
	TTSLanguages []string

	// AudioDir is served under /audio/ when set.
	AudioDir string
}

// Transport implements transport.Transport over HTTP and WebSocket.
type Transport struct {
	opts     Options
	upgrader websocket.Upgrader
	server   *http.Server
}

// New creates a new HTTP transport.
func New(opts Options) *Transport {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Transport{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "http" }

// TextQueryRequest is the body of POST /v1/query/text.
type TextQueryRequest struct {
	Text      string `json:"text" example:"How do I control pests in tomato plants?"`
	Language  string `json:"language,omitempty" example:"en"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// LanguagesResponse is the body of GET /v1/languages.
type LanguagesResponse struct {
	Languages    []string `json:"languages"`
	TTSLanguages []string `json:"tts_languages"`
}

// TurnsResponse is the body of GET /v1/sessions/{id}/turns.
type TurnsResponse struct {
	SessionID string         `json:"session_id"`
	Turns     []message.Turn `json:"turns"`
}

// ErrorResponse is returned for malformed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// wsRequest is one WebSocket query frame. Audio is base64 in JSON.
type wsRequest struct {
	Text        string `json:"text,omitempty"`
	Audio       []byte `json:"audio,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Language    string `json:"language,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
}

// Router builds the route table.
func (t *Transport) Router(handler transport.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/query/text", func(w http.ResponseWriter, r *http.Request) { t.handleText(w, r, handler) })
		r.Post("/query/voice", func(w http.ResponseWriter, r *http.Request) { t.handleVoice(w, r, handler) })
		r.Get("/languages", t.handleLanguages)
		r.Get("/sessions/{id}/turns", t.handleTurns)
		r.Delete("/sessions/{id}", t.handleClearSession)
		r.Post("/events/documents-ingested", t.handleDocumentsIngested)
	})

	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) { t.handleWebSocket(w, r, handler) })

	if t.opts.AudioDir != "" {
		r.Handle("/audio/*", http.StripPrefix("/audio/", http.FileServer(http.Dir(t.opts.AudioDir))))
	}

	// Swagger UI serves the generated OpenAPI docs.
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	return r
}

// Listen starts the HTTP server and routes incoming requests to the handler.
func (t *Transport) Listen(ctx context.Context, handler transport.Handler) error {
	t.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.opts.Port),
		Handler:           t.Router(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("http transport listening", "port", t.opts.Port)

	go func() {
		<-ctx.Done()
		slog.Info("http transport shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = t.server.Shutdown(shutdownCtx)
	}()

	if err := t.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

// handleText processes a POST /v1/query/text request.
//
// @Summary     Ask a typed question
// @Description Runs the question through translation, retrieval and answer composition and returns
// @Description the localized answer, its sources and, for supported languages, a link to the spoken answer.
// @Tags        query
// @Accept      json
// @Produce     json
// @Param       query  body      TextQueryRequest     true  "Question"
// @Success     200    {object}  message.QueryResult  "Answer (check success and error_kind)"
// @Failure     400    {object}  ErrorResponse        "Malformed body or empty question"
// @Router      /v1/query/text [post]
func (t *Transport) handleText(w http.ResponseWriter, r *http.Request, handler transport.Handler) {
	var req TextQueryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json: " + err.Error()})
		return
	}

	result := handler(r.Context(), &message.Query{
		Text:      req.Text,
		Language:  req.Language,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Source:    "http",
	})
	writeResult(w, result)
}

// handleVoice processes a POST /v1/query/voice request.
//
// @Summary     Ask a spoken question
// @Description Accepts a multipart form with an "audio" file and optional language, session_id and user_id
// @Description fields, or the raw audio bytes as the body with the X-Agrivoice-* headers.
// @Tags        query
// @Accept      multipart/form-data
// @Accept      audio/wav
// @Accept      audio/ogg
// @Produce     json
// @Param       audio               formData  file    false  "Recorded question"
// @Param       language            formData  string  false  "ISO-639-1 code or auto"
// @Param       session_id          formData  string  false  "Conversation session"
// @Param       user_id             formData  string  false  "Farmer identifier"
// @Param       X-Agrivoice-Language  header  string  false  "Language for raw uploads"
// @Param       X-Agrivoice-Session   header  string  false  "Session for raw uploads"
// @Param       X-Agrivoice-User      header  string  false  "User for raw uploads"
// @Success     200  {object}  message.QueryResult  "Answer (check success and error_kind)"
// @Failure     400  {object}  ErrorResponse        "Unreadable upload"
// @Failure     413  {object}  ErrorResponse        "Upload too large"
// @Router      /v1/query/voice [post]
func (t *Transport) handleVoice(w http.ResponseWriter, r *http.Request, handler transport.Handler) {
	r.Body = http.MaxBytesReader(w, r.Body, t.opts.MaxUploadBytes)
	q := &message.Query{Source: "http"}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			writeUploadError(w, err)
			return
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing audio file"})
			return
		}
		defer file.Close()
		if q.Audio, err = io.ReadAll(file); err != nil {
			writeUploadError(w, err)
			return
		}
		q.ContentType = header.Header.Get("Content-Type")
		q.Language = r.FormValue("language")
		q.SessionID = r.FormValue("session_id")
		q.UserID = r.FormValue("user_id")
	} else {
		// Raw audio body; metadata comes from headers.
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeUploadError(w, err)
			return
		}
		q.Audio = data
		q.ContentType = mediaType
		q.Language = r.Header.Get(HeaderLanguage)
		q.SessionID = r.Header.Get(HeaderSession)
		q.UserID = r.Header.Get(HeaderUser)
	}
	if q.ContentType == "" || q.ContentType == "application/octet-stream" {
		q.ContentType = "audio/wav"
	}
	if len(q.Audio) == 0 {
		// An empty upload is still a voice query.
		q.Audio = nil
	}

	writeResult(w, handler(r.Context(), q))
}

// handleLanguages processes a GET /v1/languages request.
//
// @Summary  List supported languages
// @Tags     meta
// @Produce  json
// @Success  200  {object}  LanguagesResponse
// @Router   /v1/languages [get]
func (t *Transport) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	resp := LanguagesResponse{Languages: t.opts.Languages, TTSLanguages: t.opts.TTSLanguages}
	if resp.Languages == nil {
		resp.Languages = []string{}
	}
	if resp.TTSLanguages == nil {
		resp.TTSLanguages = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTurns processes a GET /v1/sessions/{id}/turns request.
//
// @Summary  Recent conversation turns
// @Tags     sessions
// @Produce  json
// @Param    id   path      string  true  "Session ID"
// @Success  200  {object}  TurnsResponse
// @Router   /v1/sessions/{id}/turns [get]
func (t *Transport) handleTurns(w http.ResponseWriter, r *http.Request) {
	if t.opts.Sessions == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "sessions are not available"})
		return
	}
	id := chi.URLParam(r, "id")
	turns, err := t.opts.Sessions.Recent(r.Context(), id)
	if err != nil {
		slog.Error("loading session turns failed", "session_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "could not load session"})
		return
	}
	if turns == nil {
		turns = []message.Turn{}
	}
	writeJSON(w, http.StatusOK, TurnsResponse{SessionID: id, Turns: turns})
}

// handleClearSession processes a DELETE /v1/sessions/{id} request.
//
// @Summary  Forget a conversation
// @Tags     sessions
// @Param    id  path  string  true  "Session ID"
// @Success  204
// @Router   /v1/sessions/{id} [delete]
func (t *Transport) handleClearSession(w http.ResponseWriter, r *http.Request) {
	if t.opts.Sessions == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "sessions are not available"})
		return
	}
	id := chi.URLParam(r, "id")
	if err := t.opts.Sessions.Clear(r.Context(), id); err != nil {
		slog.Error("clearing session failed", "session_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "could not clear session"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDocumentsIngested processes a POST /v1/events/documents-ingested request.
//
// @Summary      Invalidate cached answers
// @Description  Called by document ingestion after the index changes; flushes the response cache.
// @Tags         events
// @Produce      json
// @Success      202  {object}  map[string]string
// @Router       /v1/events/documents-ingested [post]
func (t *Transport) handleDocumentsIngested(w http.ResponseWriter, r *http.Request) {
	if t.opts.Flush == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "cache invalidation is not available"})
		return
	}
	if err := t.opts.Flush(r.Context()); err != nil {
		slog.Error("cache flush failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "could not flush cache"})
		return
	}
	slog.Info("response cache flushed", "trigger", "http")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "flushed"})
}

// handleWebSocket answers one query per JSON frame until the client disconnects.
func (t *Transport) handleWebSocket(w http.ResponseWriter, r *http.Request, handler transport.Handler) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(t.opts.MaxUploadBytes * 2)

	ctx := r.Context()
	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read ended", "error", err)
			}
			return
		}
		result := handler(ctx, &message.Query{
			Text:        req.Text,
			Audio:       req.Audio,
			ContentType: req.ContentType,
			Language:    req.Language,
			SessionID:   req.SessionID,
			UserID:      req.UserID,
			Source:      "ws",
		})
		if err := conn.WriteJSON(result); err != nil {
			slog.Debug("websocket write failed", "error", err)
			return
		}
	}
}

// Close gracefully shuts down the HTTP server.
func (t *Transport) Close() error {
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return t.server.Shutdown(ctx)
	}
	return nil
}

// writeResult maps input failures to 400; every other outcome is a 200 whose
// body carries success and error_kind.
func writeResult(w http.ResponseWriter, result *message.QueryResult) {
	code := http.StatusOK
	switch result.ErrorKind {
	case message.ErrorKindEmptyInput, message.ErrorKindInvalidInput:
		code = http.StatusBadRequest
	}
	writeJSON(w, code, result)
}

func writeUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit)})
		return
	}
	if strings.Contains(err.Error(), "request body too large") {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "upload too large"})
		return
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "reading audio: " + err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
