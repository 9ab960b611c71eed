// Package service exposes script composition over HTTP.
package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/aptos-labs/aptos-go-sdk/bcs"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/tetratelabs/wazero"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	composer "github.com/aperturerobotics/go-aptos-composer-wasi"
	"github.com/aperturerobotics/go-aptos-composer-wasi/batch"
	"github.com/aperturerobotics/go-aptos-composer-wasi/modcache"
	"github.com/aperturerobotics/go-aptos-composer-wasi/node"
)

// DefaultMaxBodyBytes bounds compose request bodies.
const DefaultMaxBodyBytes = 1 << 20

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-Id"

// Options configures a Service.
type Options struct {
	// Resolver supplies module bytecode and ABIs.
	Resolver batch.ModuleResolver
	// Logger defaults to no-op.
	Logger *zap.Logger
	// MaxBodyBytes defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64
	// TracerProvider is handed to every composer.
	TracerProvider trace.TracerProvider
}

// Service composes batch documents posted to it. Each request gets a fresh
// composer instance from one compiled module.
type Service struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	resolver batch.ModuleResolver
	log      *zap.Logger
	maxBody  int64
	tp       trace.TracerProvider
	router   *mux.Router
}

// ComposeResponse is the body of a successful compose.
type ComposeResponse struct {
	RequestID  string `json:"request_id"`
	Calls      int    `json:"calls"`
	ScriptHex  string `json:"script_hex"`
	PayloadHex string `json:"payload_hex"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
}

// New constructs a Service.
func New(r wazero.Runtime, compiled wazero.CompiledModule, opts Options) *Service {
	s := &Service{
		runtime:  r,
		compiled: compiled,
		resolver: opts.Resolver,
		log:      opts.Logger,
		maxBody:  opts.MaxBodyBytes,
		tp:       opts.TracerProvider,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.maxBody <= 0 {
		s.maxBody = DefaultMaxBodyBytes
	}

	router := mux.NewRouter()
	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	v1.HandleFunc("/compose", s.handleCompose).Methods(http.MethodPost)
	v1.HandleFunc("/modules/{module_id}", s.handleModule).Methods(http.MethodGet)
	router.Use(s.requestMiddleware)
	s.router = router
	return s
}

// ServeHTTP implements http.Handler.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type ctxKey struct{}

// RequestID returns the id assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Service) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
		s.log.Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Service) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	id := RequestID(r.Context())
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("request_id", id), zap.Error(err))
	} else {
		s.log.Debug("request rejected", zap.String("request_id", id), zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{RequestID: id, Error: err.Error()})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Service) handleCompose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, http.StatusRequestEntityTooLarge, err)
			return
		}
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	doc, err := batch.Parse(data)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	sc, err := composer.NewScriptComposerWithModule(ctx, s.runtime, s.compiled, &composer.Config{
		SignerCount:    doc.RequiredSigners(),
		Logger:         s.log.With(zap.String("request_id", RequestID(ctx))),
		TracerProvider: s.tp,
	})
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	defer sc.Close(context.WithoutCancel(ctx))

	payload, err := batch.Compose(ctx, sc, s.resolver, doc)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}

	script, err := bcs.Serialize(&payload.Script)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	full, err := payload.Bytes()
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, ComposeResponse{
		RequestID:  RequestID(ctx),
		Calls:      len(doc.Calls),
		ScriptHex:  "0x" + hex.EncodeToString(script),
		PayloadHex: "0x" + hex.EncodeToString(full),
	})
}

func (s *Service) handleModule(w http.ResponseWriter, r *http.Request) {
	id, err := modcache.CanonicalID(mux.Vars(r)["module_id"])
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	mods, err := s.resolver.Resolve(r.Context(), []string{id})
	if err != nil {
		if isNotFound(err) {
			s.writeError(w, r, http.StatusNotFound, err)
			return
		}
		s.writeError(w, r, statusFor(err), err)
		return
	}
	mod := mods[id]
	if mod == nil || mod.ABI == nil {
		s.writeError(w, r, http.StatusNotFound, errors.New("module "+id+" has no ABI"))
		return
	}
	writeJSON(w, http.StatusOK, mod.ABI)
}

func isNotFound(err error) bool {
	return node.IsNotFound(err) || errors.Is(err, modcache.ErrNotFound)
}

// statusFor maps a composition failure to an HTTP status. Failures of the
// composer itself are 500, fullnode outages 502, everything else is
// attributed to the request.
func statusFor(err error) int {
	if errors.Is(err, composer.ErrGuestFault) || errors.Is(err, composer.ErrClosed) {
		return http.StatusInternalServerError
	}
	if isNotFound(err) {
		return http.StatusBadRequest
	}
	var apiErr *node.APIError
	var urlErr *url.Error
	if errors.As(err, &apiErr) || errors.As(err, &urlErr) {
		return http.StatusBadGateway
	}
	return http.StatusBadRequest
}
