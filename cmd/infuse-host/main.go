// infuse-host is the operator-side orchestrator: it discovers Infuse
// devices on the network (passively via key-id announcements,
// actively via a control-plane sweep), proxies their status over a
// REST API, and serves its own metrics. gin runs in release mode; a
// mutex-guarded orchestrator struct holds the device inventory, and
// SIGTERM shuts everything down gracefully.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"infuse/internal/controlplane"
	"infuse/internal/discovery"
)

var (
	port             = flag.Int("port", 8080, "HTTP API server port")
	devicePort       = flag.Int("device-port", 9223, "control-plane gRPC port devices listen on")
	announcePort     = flag.Int("announce-port", 9224, "UDP port to listen on for key-id announcements")
	discoverOnStart  = flag.Bool("discover", true, "run a discovery sweep at startup")
	discoverySubnet  = flag.String("subnet", "", "subnet to sweep (CIDR, empty = auto-detect)")
	discoveryTimeout = flag.Duration("discovery-timeout", 2*time.Second, "timeout per probed host")
	skipLocalhost    = flag.Bool("skip-localhost", false, "skip localhost during discovery")
)

// Orchestrator tracks known devices and their control-plane clients.
type Orchestrator struct {
	mu            sync.RWMutex
	devices       []discovery.Result
	announcements []discovery.Announcement
	clients       map[string]*controlplane.Client
	startTime     time.Time

	scans      prometheus.Counter
	probeFails prometheus.Counter
}

func newOrchestrator(reg prometheus.Registerer) *Orchestrator {
	o := &Orchestrator{
		clients:   make(map[string]*controlplane.Client),
		startTime: time.Now(),
		scans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "infuse_host_discovery_scans_total",
			Help: "Discovery sweeps run by this host.",
		}),
		probeFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "infuse_host_probe_failures_total",
			Help: "Device control-plane calls that failed.",
		}),
	}
	reg.MustRegister(o.scans, o.probeFails)
	return o
}

func main() {
	flag.Parse()

	log.Printf("Infuse host orchestrator starting...")

	reg := prometheus.NewRegistry()
	orch := newOrchestrator(reg)

	// Passive discovery: collect key-id announcements in the
	// background for the whole process lifetime.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		err := discovery.ListenAnnouncements(ctx, *announcePort, orch.recordAnnouncement)
		if err != nil {
			log.Printf("Warning: announcement listener stopped: %v", err)
		}
	}()
	log.Printf("Listening for key-id announcements on UDP port %d", *announcePort)

	// Active discovery at startup.
	if *discoverOnStart {
		log.Printf("Discovering Infuse devices on the network...")
		if err := orch.scan(); err != nil {
			log.Printf("Warning: discovery sweep failed: %v", err)
		} else {
			log.Printf("Discovery complete: %d devices responding", len(orch.responding()))
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/v1")
	{
		api.GET("/devices", orch.handleDevices)
		api.POST("/discovery/scan", orch.handleScan)
		api.GET("/announcements", orch.handleAnnouncements)
		api.GET("/device/:addr/status", orch.handleDeviceStatus)
		api.GET("/device/:addr/schedule", orch.handleDeviceSchedule)
		api.GET("/device/:addr/loggers", orch.handleDeviceLoggers)
		api.POST("/device/:addr/flush", orch.handleDeviceFlush)
		api.GET("/health", orch.handleHealth)
		api.POST("/shutdown", handleShutdown)
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: router,
	}
	go func() {
		log.Printf("API server listening on :%d", *port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	orch.closeClients()
	log.Println("Host orchestrator stopped")
}

// scan runs one discovery sweep and replaces the device list.
func (o *Orchestrator) scan() error {
	cfg := discovery.NewConfig()
	cfg.Port = *devicePort
	cfg.Subnet = *discoverySubnet
	cfg.Timeout = *discoveryTimeout
	cfg.SkipLocalhost = *skipLocalhost

	results, err := discovery.Discover(cfg)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.devices = results
	o.mu.Unlock()
	o.scans.Inc()
	return nil
}

// responding returns the subset of discovered devices that answered.
func (o *Orchestrator) responding() []discovery.Result {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []discovery.Result
	for _, r := range o.devices {
		if r.Responding {
			out = append(out, r)
		}
	}
	return out
}

func (o *Orchestrator) recordAnnouncement(a discovery.Announcement) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.announcements = append(o.announcements, a)
	// Keep a bounded tail; old announcements have no operational value.
	if len(o.announcements) > 256 {
		o.announcements = o.announcements[len(o.announcements)-256:]
	}
}

// client returns (creating if needed) a control-plane client for addr.
func (o *Orchestrator) client(addr string) (*controlplane.Client, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.clients[addr]; ok {
		return c, nil
	}
	c, err := controlplane.Dial(addr)
	if err != nil {
		return nil, err
	}
	o.clients[addr] = c
	return c, nil
}

func (o *Orchestrator) closeClients() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for addr, c := range o.clients {
		if err := c.Close(); err != nil {
			log.Printf("Warning: closing client %s: %v", addr, err)
		}
	}
	o.clients = make(map[string]*controlplane.Client)
}

func (o *Orchestrator) handleDevices(c *gin.Context) {
	o.mu.RLock()
	devices := append([]discovery.Result(nil), o.devices...)
	o.mu.RUnlock()
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (o *Orchestrator) handleScan(c *gin.Context) {
	if err := o.scan(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"responding": o.responding()})
}

func (o *Orchestrator) handleAnnouncements(c *gin.Context) {
	o.mu.RLock()
	anns := append([]discovery.Announcement(nil), o.announcements...)
	o.mu.RUnlock()
	c.JSON(http.StatusOK, gin.H{"announcements": anns})
}

// deviceCall resolves the :addr param to a client and runs fn with a
// bounded per-request timeout.
func (o *Orchestrator) deviceCall(c *gin.Context, fn func(ctx context.Context, client *controlplane.Client) (any, error)) {
	addr := c.Param("addr")
	client, err := o.client(addr)
	if err != nil {
		o.probeFails.Inc()
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	out, err := fn(ctx, client)
	if err != nil {
		o.probeFails.Inc()
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (o *Orchestrator) handleDeviceStatus(c *gin.Context) {
	o.deviceCall(c, func(ctx context.Context, client *controlplane.Client) (any, error) {
		return client.GetStatus(ctx)
	})
}

func (o *Orchestrator) handleDeviceSchedule(c *gin.Context) {
	o.deviceCall(c, func(ctx context.Context, client *controlplane.Client) (any, error) {
		return client.GetSchedule(ctx)
	})
}

func (o *Orchestrator) handleDeviceLoggers(c *gin.Context) {
	o.deviceCall(c, func(ctx context.Context, client *controlplane.Client) (any, error) {
		return client.GetLoggers(ctx)
	})
}

func (o *Orchestrator) handleDeviceFlush(c *gin.Context) {
	var req struct {
		LoggersMask uint16 `json:"loggers_mask"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	o.deviceCall(c, func(ctx context.Context, client *controlplane.Client) (any, error) {
		return client.Flush(ctx, req.LoggersMask)
	})
}

func (o *Orchestrator) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"devices": len(o.responding()),
		"uptime":  time.Since(o.startTime).String(),
	})
}

// handleShutdown is the API-triggered graceful stop: reply first,
// then signal ourselves.
func handleShutdown(c *gin.Context) {
	log.Println("Received shutdown request via API...")
	c.JSON(http.StatusOK, gin.H{"message": "shutdown sequence initiated"})
	go func() {
		time.Sleep(100 * time.Millisecond)
		p, err := os.FindProcess(os.Getpid())
		if err != nil {
			log.Printf("Error finding process to signal shutdown: %v", err)
			return
		}
		if err := p.Signal(syscall.SIGTERM); err != nil {
			log.Printf("Error sending SIGTERM to self: %v", err)
		}
	}()
}
