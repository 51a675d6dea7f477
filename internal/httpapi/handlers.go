package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/zbimage/captiond/internal/service"
)

type ctxKey int

const loggerKey ctxKey = iota

type captionResponse struct {
	CaptionEN string `json:"caption_en"`
	CaptionVI string `json:"caption_vi"`
	Cached    bool   `json:"cached"`
}

type pathRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleCaption(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	logger := requestLogger(r.Context(), s.logger)

	// Authenticate before touching the body or the cache
	if !s.authorized(r.Header.Get("X-Auth")) {
		logger.Warn("Rejected unauthorized request", "remote", r.RemoteAddr)
		writeError(w, http.StatusForbidden, service.ErrUnauthorized.Message)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	img, err := s.readImage(r)
	if err != nil {
		s.writeServiceError(w, logger, err)
		return
	}

	res, err := s.captioner.Handle(r.Context(), img)
	if err != nil {
		s.writeServiceError(w, logger, err)
		return
	}

	writeJSON(w, http.StatusOK, captionResponse{
		CaptionEN: res.SourceText,
		CaptionVI: res.TranslatedText,
		Cached:    res.Cached,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body := map[string]any{"status": "ok"}
	if s.status != nil {
		for k, v := range s.status() {
			body[k] = v
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) authorized(token string) bool {
	if s.secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.secret)) == 1
}

// readImage accepts either a multipart upload in the "image" field or a
// JSON body naming a file on the server's filesystem.
func (s *Server) readImage(r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch {
	case mediaType == "multipart/form-data":
		return s.readUpload(r)
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		return s.readPath(r)
	default:
		return nil, service.NewError(service.CodeInvalidInput, "No image or path provided", nil)
	}
}

func (s *Server) readUpload(r *http.Request) ([]byte, error) {
	file, _, err := r.FormFile("image")
	if err != nil {
		if tooLarge(err) {
			return nil, service.NewError(service.CodeInvalidInput, "Request body too large", nil)
		}
		return nil, service.NewError(service.CodeInvalidInput, "No image or path provided", nil)
	}
	defer file.Close()

	img, err := io.ReadAll(file)
	if err != nil {
		return nil, service.NewError(service.CodeInvalidInput, "Unable to read uploaded image", err)
	}
	return img, nil
}

func (s *Server) readPath(r *http.Request) ([]byte, error) {
	var req pathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if tooLarge(err) {
			return nil, service.NewError(service.CodeInvalidInput, "Request body too large", nil)
		}
		return nil, service.NewError(service.CodeInvalidInput, "Invalid JSON body", err)
	}
	if strings.TrimSpace(req.Path) == "" {
		return nil, service.NewError(service.CodeInvalidInput, "No image path provided", nil)
	}

	path, size, err := s.resolvePath(req.Path)
	if err != nil {
		return nil, err
	}
	if size > s.maxBody {
		return nil, service.NewError(service.CodeInvalidInput, "Image file too large", nil)
	}

	img, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, service.NewError(service.CodeNotFound, "Image path does not exist", nil)
		}
		return nil, service.NewError(service.CodeInvalidInput, "Image path is not readable", err)
	}
	return img, nil
}

// resolvePath returns path itself if it names a file, else path with ".jpg"
// appended if that does.
func (s *Server) resolvePath(path string) (string, int64, error) {
	for _, candidate := range []string{path, path + ".jpg"} {
		info, err := s.fs.Stat(candidate)
		if err != nil {
			continue
		}
		if info.IsDir() {
			return "", 0, service.NewError(service.CodeInvalidInput, "Image path is a directory", nil)
		}
		return candidate, info.Size(), nil
	}
	return "", 0, service.NewError(service.CodeNotFound, "Image path does not exist", nil)
}

func (s *Server) writeServiceError(w http.ResponseWriter, logger *log.Logger, err error) {
	e := service.AsError(err)
	if e.IsClientError() {
		logger.Debug("Request rejected", "code", e.Code, "error", e)
	} else {
		logger.Error("Request failed", "code", e.Code, "error", e)
	}
	writeError(w, e.HTTPStatus(), e.Error())
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// logRequests tags each request with an ID and logs its outcome.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)

		logger := s.logger.With("request_id", id)
		r = r.WithContext(context.WithValue(r.Context(), loggerKey, logger))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		logger.Debug("Request handled", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", time.Since(start))
	})
}

func requestLogger(ctx context.Context, fallback *log.Logger) *log.Logger {
	if l, ok := ctx.Value(loggerKey).(*log.Logger); ok {
		return l
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
