package router

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/image-pipeline/internal/api/handlers/invoke"
	"github.com/aliskhannn/image-pipeline/internal/api/respond"
)

// Setup registers the invocation API, the health check and the metrics
// endpoint. hostID is reported by /health as the container id.
func Setup(h *invoke.Handler, metrics http.Handler, hostID string) *ginext.Engine {
	r := ginext.New()

	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	r.GET("/health", func(c *ginext.Context) {
		respond.OK(c, map[string]string{"status": "ok", "container": hostID})
	})
	if metrics != nil {
		r.GET("/metrics", func(c *ginext.Context) {
			metrics.ServeHTTP(c.Writer, c.Request)
		})
	}

	api := r.Group("/api")

	api.POST("/invoke", h.Invoke)              // any request shape
	api.POST("/invoke/upload", h.InvokeUpload) // multipart payload mode
	api.POST("/upload", h.Upload)              // store into input/

	return r
}
