// Package webhook serves the endpoint the LaunchKey API delivers server sent
// events to. Each request is verified and decrypted by a service client
// before it reaches the application's callback.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"k8s.io/klog/v2"

	"github.com/iovation/launchkey-sdk-go/pkg/client"
	"github.com/iovation/launchkey-sdk-go/pkg/lkerror"
	"github.com/iovation/launchkey-sdk-go/pkg/logs"
)

const (
	// DefaultPath is where the handler accepts callbacks.
	DefaultPath = "/webhook"

	// DefaultMaxBodySize caps the size of a callback body.
	DefaultMaxBodySize = 64 * 1024
)

// Receiver verifies and decodes a callback. *client.ServiceClient implements
// it.
type Receiver interface {
	HandleWebhook(ctx context.Context, method, path string, headers map[string][]string, body string) (client.WebhookPackage, error)
}

// Callback is given every successfully decoded callback. An error makes the
// handler respond with 500 so that the API delivers the callback again.
type Callback func(ctx context.Context, pkg client.WebhookPackage) error

// Options configure the handler.
type Options struct {
	// Path defaults to DefaultPath.
	Path string
	// MaxBodySize defaults to DefaultMaxBodySize.
	MaxBodySize int64
	// Logger defaults to klog's global logger.
	Logger logr.Logger
}

type handler struct {
	receiver    Receiver
	callback    Callback
	maxBodySize int64
}

// NewHandler returns an http.Handler which accepts POST callbacks at
// opts.Path.
func NewHandler(receiver Receiver, callback Callback, opts Options) http.Handler {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = klog.Background()
	}

	h := &handler{
		receiver:    receiver,
		callback:    callback,
		maxBodySize: opts.MaxBodySize,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(withLogger(opts.Logger.WithName("webhook")))
	r.Use(chimiddleware.Recoverer)
	r.Post(opts.Path, h.serve)

	return r
}

// NewServer returns an http.Server for h. Server errors are logged through
// the logs package.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logs.NewStdLogger("webhook"),
	}
}

// withLogger stores logger, tagged with the request ID, in each request's
// context.
func withLogger(logger logr.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logger.WithValues("requestID", chimiddleware.GetReqID(r.Context()))
			next.ServeHTTP(w, r.WithContext(klog.NewContext(r.Context(), log)))
		})
	}
}

func (h *handler) serve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := klog.FromContext(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "body too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "failed to read body", http.StatusBadRequest)
		return
	}

	pkg, err := h.receiver.HandleWebhook(ctx, r.Method, r.URL.Path, r.Header, string(body))
	if err != nil {
		status := statusFor(err)
		log.V(logs.Debug).Info("rejected callback", "status", status, "err", err)
		writeError(w, http.StatusText(status), status)
		return
	}

	if err := h.callback(ctx, pkg); err != nil {
		log.Error(err, "callback failed")
		writeError(w, "callback failed", http.StatusInternalServerError)
		return
	}

	log.V(logs.Debug).Info("handled callback", "type", packageType(pkg))
	w.WriteHeader(http.StatusOK)
}

// statusFor maps a verification error to the response status.
func statusFor(err error) int {
	kind, _ := lkerror.KindOf(err)
	switch kind {
	case lkerror.InvalidSignature, lkerror.Cryptography, lkerror.NoKeyFound, lkerror.AuthorizationRequestTimedOut:
		return http.StatusUnauthorized
	case lkerror.InvalidRequest, lkerror.InvalidResponse, lkerror.UnknownEntity:
		return http.StatusBadRequest
	case lkerror.Communication, lkerror.RateLimitExceeded:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func packageType(pkg client.WebhookPackage) string {
	switch pkg.(type) {
	case *client.AuthorizationResponseWebhook:
		return "AuthorizationResponse"
	case *client.SessionEndWebhook:
		return "SessionEnd"
	}
	return "Unknown"
}

func writeError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg, "code": code})
}
