package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/qbitspark/sms-relay/internal/api"
	"github.com/qbitspark/sms-relay/internal/archive"
	"github.com/qbitspark/sms-relay/internal/auth"
	"github.com/qbitspark/sms-relay/internal/device"
	"github.com/qbitspark/sms-relay/internal/forward"
	"github.com/qbitspark/sms-relay/internal/killswitch"
	"github.com/qbitspark/sms-relay/internal/metrics"
	"github.com/qbitspark/sms-relay/internal/netmon"
	"github.com/qbitspark/sms-relay/internal/outbox"
	"github.com/qbitspark/sms-relay/internal/scheduler"
	"github.com/qbitspark/sms-relay/internal/sim"
	"github.com/qbitspark/sms-relay/internal/storage"
	"github.com/sirupsen/logrus"
)

func main() {
	configureLogging()

	port := envDefault("PORT", "8080")
	host := envDefault("HOST", "127.0.0.1")
	dbPath := envDefault("DB_PATH", "/var/lib/sms-relay/relay.db")
	endpoint := os.Getenv("FORWARD_ENDPOINT")
	if endpoint == "" {
		logrus.Fatal("FORWARD_ENDPOINT environment variable is required")
	}

	store, err := storage.NewStore(dbPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize storage")
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close storage")
		}
	}()

	if branch := os.Getenv("DEFAULT_BRANCH_ID"); branch != "" {
		if err := store.SetSetting(context.Background(), outbox.DefaultBranchKey, branch); err != nil {
			logrus.WithError(err).Fatal("Failed to persist default branch id")
		}
	}

	registry := sim.NewRegistry(store, sim.NewModemManagerSource(0))

	gate := killswitch.NewGate(
		os.Getenv("KILLSWITCH_URL"),
		envSeconds("KILLSWITCH_TIMEOUT_SECONDS", killswitch.DefaultTimeout),
	)

	forwarder := forward.NewClient(
		endpoint,
		envSeconds("FORWARD_TIMEOUT_SECONDS", 15*time.Second),
		device.NewCollector(),
	)

	archiver, err := archive.NewFromEnv()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize archive client")
	}

	var arch outbox.Archiver
	if archiver != nil {
		arch = archiver
	}
	box := outbox.New(store, gate, forwarder, arch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var monitor *netmon.Monitor
	sched := scheduler.New(box, func() bool { return monitor.Online() })
	sched.SetInitialDelay(envSeconds("SYNC_INITIAL_DELAY_SECONDS", time.Minute))

	probeAddr := envDefault("NETWORK_PROBE_ADDR", defaultProbeAddr(endpoint))
	monitor = netmon.New(
		netmon.DialProbe(probeAddr, 3*time.Second),
		envSeconds("NETWORK_POLL_SECONDS", 15*time.Second),
		sched.TriggerImmediate,
	)

	go sched.Run(ctx)
	go monitor.Run(ctx)
	go runSIMPoller(ctx, registry, envSeconds("SIM_POLL_SECONDS", 30*time.Second))

	sched.SchedulePeriodic(ctx, envMinutes("SYNC_INTERVAL_MINUTES", 15*time.Minute))
	// Process start is itself a trigger: drain anything left over from
	// before the last shutdown.
	sched.TriggerImmediate()

	if _, err := registry.Reconcile(ctx); err != nil {
		logrus.WithError(err).Warn("Initial SIM reconciliation failed")
	}

	authValidator, err := auth.NewValidator()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize auth validator")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Scrapers and liveness probes carry no tokens; only the capture API
	// is authenticated.
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiHandler := api.NewHandler(box, registry, sched)
	api.SetupRoutes(router, apiHandler, authValidator.Middleware())

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", host, port),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logrus.WithField("addr", srv.Addr).Info("Starting sms-relay server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Fatal("Server forced to shutdown")
	}

	logrus.Info("Server exited")
}

// runSIMPoller reconciles on a fixed cadence so a swap is noticed even
// when no messages arrive.
func runSIMPoller(ctx context.Context, registry *sim.Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := registry.Reconcile(ctx)
			if err != nil {
				logrus.WithError(err).Warn("Periodic SIM reconciliation failed")
				continue
			}
			metrics.SIMChangesTotal.WithLabelValues("new").Add(float64(len(result.New)))
			metrics.SIMChangesTotal.WithLabelValues("removed").Add(float64(len(result.Removed)))
			metrics.SIMChangesTotal.WithLabelValues("moved").Add(float64(len(result.Moved)))
		}
	}
}

func configureLogging() {
	level, err := logrus.ParseLevel(envDefault("LOG_LEVEL", "info"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

func envDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envSeconds(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		logrus.WithField(key, raw).Warn("Invalid duration setting, using default")
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func envMinutes(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes <= 0 {
		logrus.WithField(key, raw).Warn("Invalid duration setting, using default")
		return fallback
	}
	return time.Duration(minutes) * time.Minute
}

// defaultProbeAddr derives a connectivity probe target from the forward
// endpoint so "online" means "can plausibly reach the collector".
func defaultProbeAddr(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return "1.1.1.1:443"
	}
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "http" {
		return u.Host + ":80"
	}
	return u.Host + ":443"
}
