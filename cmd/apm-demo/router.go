package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GriffinCanCode/apmagent/apm"
	"github.com/GriffinCanCode/apmagent/model"
	"github.com/GriffinCanCode/apmagent/module/apmgin"
	"github.com/GriffinCanCode/apmagent/module/apmhttp"
)

// corsConfig lets browser clients send and read trace-context headers.
func corsConfig() cors.Config {
	return cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Authorization",
			"Origin",
			apm.TraceparentHeader,
			apm.TracestateHeader,
			apm.ElasticTraceparentHeader,
		},
		ExposeHeaders: []string{apm.TraceparentHeader},
		MaxAge:        12 * time.Hour,
	}
}

type handlers struct {
	tracer *apm.Tracer
	client *http.Client
}

func newRouter(tracer *apm.Tracer, client *http.Client) *gin.Engine {
	h := &handlers{tracer: tracer, client: apmhttp.WrapClient(client)}

	router := gin.New()
	router.Use(gin.Recovery(), cors.New(corsConfig()), apmgin.Middleware(tracer))

	router.GET("/health", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(tracer.Registry(), promhttp.HandlerOpts{})))
	router.GET("/stats", h.stats)
	router.GET("/orders/:id", h.order)
	router.POST("/fetch", h.fetch)
	return router
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) stats(c *gin.Context) {
	s := h.tracer.Stats()
	c.JSON(http.StatusOK, gin.H{
		"queue_length":   s.Agent.QueueLength,
		"events_sent":    s.Agent.EventsSent,
		"events_dropped": s.Agent.EventsDropped,
		"active_flows":   s.ActiveFlows,
	})
}

// order simulates a database lookup so the transaction carries a span.
func (h *handlers) order(c *gin.Context) {
	ctx := c.Request.Context()
	span, _ := apm.StartSpan(ctx, "SELECT orders", "db.postgresql.query")
	span.SetDatabase(model.Database{
		Type:      "sql",
		Instance:  "orders",
		Statement: "SELECT * FROM orders WHERE id = $1",
	})
	time.Sleep(2 * time.Millisecond)
	span.End()

	id := c.Param("id")
	if id == "0" {
		apm.CaptureError(ctx, fmt.Errorf("order %s not found", id))
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": "shipped"})
}

type fetchRequest struct {
	URL string `json:"url" binding:"required"`
}

// fetch calls another service, producing an exit span with propagation.
func (h *handlers) fetch(c *gin.Context) {
	var req fetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, req.URL, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := h.client.Do(out)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	defer resp.Body.Close()
	c.JSON(http.StatusOK, gin.H{"status": resp.StatusCode})
}
