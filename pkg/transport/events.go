package transport

import (
	"context"
	"net/http"
	"strings"

	"k8s.io/klog/v2"

	"github.com/iovation/launchkey-sdk-go/pkg/crypto/jwt"
	"github.com/iovation/launchkey-sdk-go/pkg/domain"
	"github.com/iovation/launchkey-sdk-go/pkg/lkerror"
	"github.com/iovation/launchkey-sdk-go/pkg/logs"
)

// HandleServerSentEvent decrypts, verifies and decodes a callback the API
// delivered to a webhook. headers are the callback's HTTP headers, in any
// case, and body is its raw body.
func (t *HTTPTransport) HandleServerSentEvent(ctx context.Context, headers map[string][]string, body string) (domain.ServerSentEvent, error) {
	return t.handleServerSentEvent(ctx, "", "", headers, body)
}

// HandleServerSentEventRequest is HandleServerSentEvent which additionally
// requires the token's request claim to name method and path, as received by
// the webhook.
func (t *HTTPTransport) HandleServerSentEventRequest(ctx context.Context, method, path string, headers map[string][]string, body string) (domain.ServerSentEvent, error) {
	return t.handleServerSentEvent(ctx, method, path, headers, body)
}

func (t *HTTPTransport) handleServerSentEvent(ctx context.Context, method, path string, headers map[string][]string, body string) (domain.ServerSentEvent, error) {
	logger := klog.FromContext(ctx).WithName("transport").WithValues("operation", "HandleServerSentEvent")
	ctx = klog.NewContext(ctx, logger)

	token := headerValue(headers, HeaderJWT)
	if token == "" {
		return nil, lkerror.Newf(lkerror.InvalidRequest, nil, "server sent event has no %s header", HeaderJWT)
	}

	env, err := t.newEnvelope()
	if err != nil {
		return nil, err
	}

	plaintext, err := t.decrypt(env, strings.TrimSpace(body))
	if err != nil {
		return nil, err
	}

	claims, err := env.jwt.Decode(token, t.publicKeys.Resolver(ctx), jwt.Expectations{
		Audience: t.issuer.String(),
		Issuer:   jwt.APIAudience,
	})
	if err != nil {
		return nil, err
	}

	if _, err := domain.ParseEntityIdentifier(claims.Subject); err != nil {
		return nil, err
	}

	if claims.Request == nil {
		return nil, lkerror.New(lkerror.InvalidRequest, "server sent event token has no request claim", nil)
	}

	if method != "" && !strings.EqualFold(claims.Request.Method, method) {
		return nil, lkerror.Newf(lkerror.InvalidSignature, nil, "server sent event token is for method %q, got %q", claims.Request.Method, method)
	}

	if path != "" && claims.Request.Path != path {
		return nil, lkerror.Newf(lkerror.InvalidSignature, nil, "server sent event token is for path %q, got %q", claims.Request.Path, path)
	}

	if err := checkHash(claims.Request.Hash, claims.Request.Func, []byte(plaintext)); err != nil {
		return nil, err
	}

	event, err := domain.ParseServerSentEvent([]byte(plaintext))
	if err != nil {
		return nil, err
	}

	logger.V(logs.Debug).Info("received server sent event", "type", eventType(event), "subject", claims.Subject)
	return event, nil
}

// headerValue returns the first value of name, matched case-insensitively as
// the map may not hold canonical keys.
func headerValue(headers map[string][]string, name string) string {
	if v := http.Header(headers).Get(name); v != "" {
		return v
	}

	for k, v := range headers {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0]
		}
	}

	return ""
}

func eventType(event domain.ServerSentEvent) string {
	switch event.(type) {
	case *domain.ServerSentEventAuthorizationResponse:
		return "AuthorizationResponse"
	case *domain.ServerSentEventUserServiceSessionEnd:
		return "UserServiceSessionEnd"
	}
	return "Unknown"
}
