package gateway

import (
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/relaymesh/conclave/internal/observability"
)

const dialTimeout = 5 * time.Second

// handleProxy is the single entry point for every /api/* and /ws/* request:
// request/response traffic is forwarded through the backend's
// httputil.ReverseProxy, duplex upgrade requests are proxied explicitly via
// hijack + two byte pumps (spec §4.1's "no framing introspection ... once
// upgraded").
func (g *Gateway) handleProxy(c *gin.Context) {
	path := c.Request.URL.Path
	isUpgrade := isUpgradeRequest(c.Request)

	r, ok := g.match(path, isUpgrade)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "NOT_FOUND"})
		return
	}

	rewritten := path
	if r.strip != "" && strings.HasPrefix(rewritten, r.strip) {
		rewritten = strings.TrimPrefix(rewritten, r.strip)
	}
	if r.rewrite != "" {
		rewritten = r.rewrite + rewritten
	}
	if rewritten == "" {
		rewritten = "/"
	}

	if isUpgrade {
		g.proxyUpgrade(c, r, rewritten)
		return
	}

	c.Request.URL.Path = rewritten
	proxy, ok := g.proxies[r.backend]
	if !ok {
		g.publishBackendUnavailable(c, r.backend)
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "SERVICE_UNAVAILABLE", "backend": string(r.backend)})
		return
	}
	proxy.ServeHTTP(c.Writer, c.Request)
}

// publishBackendUnavailable emits a gateway_events domain event (spec
// §4.1's per-backend failure isolation) through the Gateway's injected
// Publisher capability, the same shape the video engine uses for its own
// lifecycle events.
func (g *Gateway) publishBackendUnavailable(c *gin.Context, backend Backend) {
	g.publishEvent(c.Request.Context(), "gateway_events.backend_unavailable", observability.RequestIDFromRequest(c.Request), map[string]any{
		"backend": string(backend),
		"path":    c.Request.URL.Path,
	})
}

func isUpgradeRequest(r *http.Request) bool {
	conn := strings.ToLower(r.Header.Get("Connection"))
	return strings.Contains(conn, "upgrade") && strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// proxyUpgrade dials the backend, forwards the original upgrade request,
// hijacks the client connection, and operates two independent byte pumps
// until either side closes (spec §4.1's three upgrade steps, made explicit
// rather than delegated to an opaque reverse-proxy library).
func (g *Gateway) proxyUpgrade(c *gin.Context, r route, rewrittenPath string) {
	hijacker, ok := c.Writer.(http.Hijacker)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "HIJACK_UNSUPPORTED"})
		return
	}

	backendConn, err := net.DialTimeout("tcp", r.target.Host, dialTimeout)
	if err != nil {
		g.publishBackendUnavailable(c, r.backend)
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "SERVICE_UNAVAILABLE", "backend": string(r.backend)})
		return
	}

	req := c.Request.Clone(c.Request.Context())
	req.URL.Path = rewrittenPath
	req.Host = r.target.Host
	req.RequestURI = ""

	if err := req.Write(backendConn); err != nil {
		backendConn.Close()
		g.publishBackendUnavailable(c, r.backend)
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "SERVICE_UNAVAILABLE", "backend": string(r.backend)})
		return
	}

	clientConn, clientBuf, err := hijacker.Hijack()
	if err != nil {
		backendConn.Close()
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	if clientBuf.Reader.Buffered() > 0 {
		// Flush bytes gin's bufio.Reader already read past the request
		// headers before the pumps take over the raw connection.
		if _, err := io.CopyN(backendConn, clientBuf.Reader, int64(clientBuf.Reader.Buffered())); err != nil {
			log.Printf("gateway: failed to flush buffered client bytes: %v", err)
		}
	}
	go pump(&wg, backendConn, clientConn)
	go pump(&wg, clientConn, backendConn)
	wg.Wait()
}

func pump(wg *sync.WaitGroup, dst io.WriteCloser, src io.Reader) {
	defer wg.Done()
	defer dst.Close()
	_, _ = io.Copy(dst, src)
}
