package handler

import (
	"io"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"

	"revproxy-go/internal/model"
	"revproxy-go/internal/service"
)

// RemoteUserKey is the echo context key under which the hosting layer's
// auth middleware stores the authenticated principal, if any. The proxy core
// itself performs no authentication.
const RemoteUserKey = "remote_user"

// ProxyHandler binds configured proxy endpoints onto the HTTP server and
// streams responses back to the client.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Endpoint returns the echo handler for one configured endpoint. Requests
// reaching it are already authenticated and authorized by the hosting layer.
func (h *ProxyHandler) Endpoint(ep *service.Endpoint) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()

		pr := &model.ProxyRequest{
			Ctx:      req.Context(),
			Method:   req.Method,
			Path:     pathRemainder(req.URL.EscapedPath(), ep.PathPrefix),
			RawQuery: req.URL.RawQuery,
			Header:   req.Header,
			Body:     req.Body,
			PublicBase: model.PublicBase{
				Scheme: c.Scheme(),
				Host:   req.Host,
				Prefix: ep.PathPrefix,
			},
			RemoteAddr: req.RemoteAddr,
			RemoteUser: remoteUser(c),
		}

		resp := h.service.Proxy(pr, ep)
		defer func() { _ = resp.Body.Close() }()

		for key, vals := range resp.Header {
			for _, v := range vals {
				c.Response().Header().Add(key, v)
			}
		}

		c.Response().WriteHeader(resp.StatusCode)

		// Stream the upstream body directly to the client. If io.Copy fails
		// mid-stream (client disconnect, upstream drop), the status code has
		// already been sent, so the client receives a truncated response
		// rather than a hang. We log the error for observability.
		if _, err := io.Copy(c.Response(), resp.Body); err != nil {
			h.logger.Error("streaming response body",
				"err", err,
				"path", req.URL.Path,
			)
		}

		return nil
	}
}

// pathRemainder strips the endpoint mount prefix from the percent-encoded
// request path, keeping the original bytes of the remainder.
func pathRemainder(escapedPath, prefix string) string {
	if prefix == "" {
		return escapedPath
	}
	return strings.TrimPrefix(escapedPath, prefix)
}

// remoteUser reads the principal an auth middleware may have stored on the
// context.
func remoteUser(c echo.Context) string {
	if u, ok := c.Get(RemoteUserKey).(string); ok {
		return u
	}
	return ""
}
