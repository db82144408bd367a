// Package gateway implements the edge gateway (spec §4.1): a single
// externally reachable endpoint that serves health and documentation,
// forwards request/response traffic to identity, and transparently proxies
// duplex upgraded sessions to the chat and video backends.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/relaymesh/conclave/internal/observability"
)

// Backend names a routable target.
type Backend string

const (
	BackendAuth  Backend = "auth"
	BackendChat  Backend = "chat"
	BackendVideo Backend = "video"
)

// route is one entry of the longest-prefix routing table.
type route struct {
	prefix  string
	backend Backend
	target  *url.URL
	strip   string
	rewrite string
}

// Gateway holds the routing table and per-backend proxies.
type Gateway struct {
	routes    []route
	proxies   map[Backend]*httputil.ReverseProxy
	targets   map[Backend]*url.URL
	publisher observability.Publisher
	startedAt time.Time
}

// Config names the backend URLs the gateway routes to, plus the domain-event
// Publisher capability. Publisher may be nil, in which case gateway_events
// publication is a no-op.
type Config struct {
	AuthURL   string
	ChatURL   string
	VideoURL  string
	Publisher observability.Publisher
}

// New builds the routing table described in spec §4.1. Longest-prefix
// matching does not depend on route order: match compares the lengths of
// every matching prefix and keeps the longest.
func New(cfg Config) (*Gateway, error) {
	authTarget, err := url.Parse(cfg.AuthURL)
	if err != nil {
		return nil, err
	}
	chatTarget, err := url.Parse(cfg.ChatURL)
	if err != nil {
		return nil, err
	}
	videoTarget, err := url.Parse(cfg.VideoURL)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		targets: map[Backend]*url.URL{
			BackendAuth:  authTarget,
			BackendChat:  chatTarget,
			BackendVideo: videoTarget,
		},
		proxies:   map[Backend]*httputil.ReverseProxy{},
		publisher: cfg.Publisher,
		startedAt: time.Now(),
	}

	g.routes = []route{
		{prefix: "/api/auth", backend: BackendAuth, target: authTarget, strip: "/api/auth", rewrite: "/auth"},
		{prefix: "/api/chat", backend: BackendChat, target: chatTarget, strip: "/api/chat"},
		{prefix: "/api/video", backend: BackendVideo, target: videoTarget, strip: "/api/video"},
	}

	for backend, target := range g.targets {
		g.proxies[backend] = g.newReverseProxy(backend, target)
	}

	return g, nil
}

func (g *Gateway) newReverseProxy(backend Backend, target *url.URL) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(target)
	originalDirector := proxy.Director
	proxy.Director = func(r *http.Request) {
		originalDirector(r)
		r.Host = target.Host
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		g.publishEvent(r.Context(), "gateway_events.backend_unavailable", observability.RequestIDFromRequest(r), map[string]any{
			"backend": string(backend),
			"path":    r.URL.Path,
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(fmt.Sprintf(`{"success":false,"error":"SERVICE_UNAVAILABLE","backend":%q}`, backend)))
	}
	return proxy
}

// publishEvent forwards a domain event to the injected Publisher, isolating
// callers from the case where none was configured (spec §9 DESIGN NOTES,
// "inject as capabilities ... so tests can substitute fakes"). The message
// is wrapped in the shared observability.EventEnvelope shape and stamped
// with a request-id/trace-id header pair built via observability.BuildHeaders,
// so every gateway_events/video_events message carries the same envelope
// and correlation headers regardless of which engine emitted it.
func (g *Gateway) publishEvent(ctx context.Context, routingKey, requestID string, message any) {
	if g.publisher == nil {
		return
	}
	envelope := observability.EventEnvelope{
		EventType: "domain_event",
		EventName: routingKey,
		Payload:   message,
	}
	headers := observability.BuildHeaders(requestID, observability.TraceIDFromContext(ctx))
	if err := g.publisher.PublishJSON(ctx, routingKey, envelope, headers); err != nil {
		observability.IncAMQPPublishError()
	}
}

// match resolves the target route for a request path via longest-prefix
// match, falling back to Chat for unidentified duplex upgrades (spec
// §4.1's "an upgrade with only a default duplex path ... maps to Chat").
func (g *Gateway) match(path string, isUpgrade bool) (route, bool) {
	var best route
	found := false
	for _, r := range g.routes {
		if strings.HasPrefix(path, r.prefix) {
			if !found || len(r.prefix) > len(best.prefix) {
				best = r
				found = true
			}
		}
	}
	if found {
		return best, true
	}
	if isUpgrade {
		return route{prefix: "", backend: BackendChat, target: g.targets[BackendChat], strip: ""}, true
	}
	return route{}, false
}

// RegisterRoutes registers the gateway's routes on r, without middleware:
// /health, /api-docs*, and the proxy catch-all.
func (g *Gateway) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", g.handleHealth)
	r.GET("/api-docs", g.handleAPIDocsIndex)
	r.GET("/api-docs/:service", g.handleAPIDocsService)
	r.Any("/api/*path", g.handleProxy)
	r.Any("/ws", g.handleProxy)
	r.Any("/ws/*path", g.handleProxy)
}

func (g *Gateway) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "gateway",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"backends": gin.H{
			"auth":  g.targets[BackendAuth].String(),
			"chat":  g.targets[BackendChat].String(),
			"video": g.targets[BackendVideo].String(),
		},
	})
}

func (g *Gateway) handleAPIDocsIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(apiDocsIndexHTML))
}

func (g *Gateway) handleAPIDocsService(c *gin.Context) {
	service := c.Param("service")
	switch service {
	case "gateway", "auth", "chat", "video":
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(apiDocsServiceHTML(service)))
	default:
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "NOT_FOUND"})
	}
}

const apiDocsIndexHTML = `<!DOCTYPE html>
<html><head><title>conclave api docs</title></head>
<body><ul>
<li><a href="/api-docs/gateway">gateway</a></li>
<li><a href="/api-docs/auth">auth</a></li>
<li><a href="/api-docs/chat">chat</a></li>
<li><a href="/api-docs/video">video</a></li>
</ul></body></html>`

func apiDocsServiceHTML(service string) string {
	return "<!DOCTYPE html><html><head><title>" + service + " api</title></head><body><div id=\"openapi-ui\" data-service=\"" + service + "\"></div></body></html>"
}
