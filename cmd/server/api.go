package main

import (
	"log"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"lanhub/internal/chat"
	"lanhub/internal/cid"
	"lanhub/internal/events"
	"lanhub/internal/file"
	"lanhub/internal/hub"
)

// newRouter builds the admin/monitoring HTTP surface served next to the
// relay ports.
func newRouter(h *hub.Hub, chatSvc *chat.Service, files *file.Service, bus *events.Bus) *gin.Engine {
	r := gin.Default()
	r.Use(cidMiddleware(), otelMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "lanhub",
		})
	})

	r.GET("/api", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "lanhub communication server",
			"version": "0.1.0",
		})
	})

	r.GET("/api/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, h.Stats())
	})

	r.GET("/api/users", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"users": h.Users()})
	})

	r.GET("/api/files", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"files": files.Files()})
	})

	r.GET("/api/history", func(c *gin.Context) {
		limit := 50
		if raw := c.Query("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}
		c.JSON(http.StatusOK, gin.H{"messages": chatSvc.History(limit)})
	})

	r.GET("/ws", func(c *gin.Context) {
		handleMonitor(c, bus)
	})

	return r
}

// handleMonitor streams hub events to one websocket subscriber until it
// disconnects. Monitors are read-only; anything they send is discarded.
func handleMonitor(c *gin.Context, bus *events.Bus) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("monitor upgrade failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	id := uuid.New().String()
	ch := bus.Subscribe(id)
	defer bus.Unsubscribe(id)

	log.Printf("monitor %s connected", id)
	ctx := conn.CloseRead(c.Request.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, evt); err != nil {
				log.Printf("monitor %s write failed: %v", id, err)
				return
			}
		}
	}
}

// cidMiddleware attaches a correlation id to every admin request,
// preserving one supplied by the caller.
func cidMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(cid.HeaderName)
		if id == "" {
			id = ksuid.New().String()
		}
		c.Writer.Header().Set(cid.HeaderName, id)
		c.Request = c.Request.WithContext(cid.WithCID(c.Request.Context(), id))
		c.Next()
	}
}

// otelMiddleware opens a span per admin request and tags it with the
// correlation id and response status.
func otelMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("lanhub/admin")
	return func(c *gin.Context) {
		name := c.FullPath()
		if name == "" {
			name = c.Request.URL.Path
		}
		ctx, span := tracer.Start(c.Request.Context(), name)
		defer span.End()

		if id := cid.CIDFromContext(ctx); id != "" {
			span.SetAttributes(attribute.String(cid.AttributeName, id))
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
	}
}
