package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fieldops/dispatchd/internal/api"
	"github.com/fieldops/dispatchd/internal/calendar"
	"github.com/fieldops/dispatchd/internal/circuitbreaker"
	"github.com/fieldops/dispatchd/internal/config"
	"github.com/fieldops/dispatchd/internal/confirmation"
	"github.com/fieldops/dispatchd/internal/cron"
	"github.com/fieldops/dispatchd/internal/leaderelection"
	"github.com/fieldops/dispatchd/internal/lease"
	"github.com/fieldops/dispatchd/internal/metrics"
	"github.com/fieldops/dispatchd/internal/reconciler"
	"github.com/fieldops/dispatchd/internal/scheduler"
	"github.com/fieldops/dispatchd/internal/store/postgres"
	"github.com/fieldops/dispatchd/internal/ticket"
	"github.com/fieldops/dispatchd/internal/transport/channel"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	switch os.Args[1] {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`dispatchd - field service appointment confirmation service

Usage:
  dispatchd <command>

Commands:
  serve      Start the API server and response reconciler
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL               PostgreSQL connection string (required)
  CALENDAR_BASE_URL          External calendar service base URL (required)
  TICKET_BASE_URL            Ticket system base URL (required)
  REDIS_ADDR                 Redis address for reconcile leases (optional)
  HTTP_ADDR                  HTTP server address (default: ":8080")
  MIGRATIONS_PATH            SQL migrations directory (default: "./migrations")

  BUFFER_MINUTES             Margin between a technician's bookings (default: "30")
  DEFAULT_DURATION           Appointment length fallback (default: "2h")
  CALENDAR_TIMEOUT           Calendar request timeout (default: "10s")
  TICKET_TIMEOUT             Ticket request timeout (default: "10s")

  DB_MAX_OPEN_CONNS          Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS          Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME       Max connection lifetime (default: "30m")
  HTTP_SHUTDOWN_TIMEOUT      Graceful HTTP shutdown timeout (default: "10s")

  METRICS_ENABLED            Enable Prometheus metrics (default: "true")
  METRICS_PATH               Metrics endpoint path (default: "/metrics")

  RECONCILE_ENABLED          Enable the response reconciler (default: "true")
  RECONCILE_INTERVAL         Polling cadence (default: "2m")
  RECONCILE_BATCH_SIZE       Max schedules per pass (default: "100")
  RECONCILE_STUCK_AFTER      Age before awaiting schedules count as stuck (default: "24h")
  RECONCILE_CRON             Cron cadence overriding the interval (optional)
  RECONCILE_CRON_TIMEZONE    Timezone for RECONCILE_CRON (default: UTC)
  BUS_BUFFER_SIZE            On-demand reconcile queue depth (default: "100")
  LEASE_TTL                  Per-schedule reconcile lease TTL (default: "30s")

  CIRCUIT_BREAKER_THRESHOLD  Failures before the calendar circuit opens, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN   Open circuit cooldown (default: "2m")

  LEADER_ELECTION_ENABLED    Run the reconciler on one replica only (default: "false")
  LEADER_LOCK_KEY            Advisory lock key shared by all replicas (default: "915407")
  LEADER_RETRY_INTERVAL      Follower acquisition retry cadence (default: "5s")
  LEADER_HEARTBEAT_INTERVAL  Leader connection health check cadence (default: "2s")`)
}

// logConfigWarnings flags valid but risky configuration combinations.
func logConfigWarnings(cfg config.Config) {
	if !cfg.ReconcileEnabled {
		log.Warn().Msg("dispatchd: RECONCILE_ENABLED=false; calendar responses will not be observed and awaiting schedules will not progress")
	}
	if cfg.LeaderElectionEnabled && !cfg.ReconcileEnabled {
		log.Warn().Msg("dispatchd: LEADER_ELECTION_ENABLED=true with RECONCILE_ENABLED=false; the leader has no duties")
	}
	if cfg.ReconcileEnabled && cfg.LeaderElectionEnabled && cfg.RedisAddr == "" {
		log.Warn().Msg("dispatchd: leader election without REDIS_ADDR; a demoted leader mid-pass may briefly overlap the new one")
	}
	if cfg.BufferMinutes == 0 {
		log.Warn().Msg("dispatchd: BUFFER_MINUTES=0; back-to-back bookings with no travel margin are allowed")
	}
	if cfg.CircuitBreakerThreshold == 0 {
		log.Info().Msg("dispatchd: CIRCUIT_BREAKER_THRESHOLD=0; calendar requests are never short-circuited")
	}
}

// reconcileRunner owns the reconciler goroutines so they can be started
// directly or from leader election callbacks.
type reconcileRunner struct {
	rec     *reconciler.Reconciler
	bus     *channel.ReconcileBus
	cadence cron.Schedule
	wg      sync.WaitGroup
}

// start launches the periodic loop and the on-demand trigger consumer.
// Both stop when ctx is cancelled.
func (rr *reconcileRunner) start(ctx context.Context) {
	rr.wg.Add(2)
	go func() {
		defer rr.wg.Done()
		if rr.cadence != nil {
			rr.rec.RunCron(ctx, rr.cadence)
		} else {
			rr.rec.Run(ctx)
		}
	}()
	go func() {
		defer rr.wg.Done()
		rr.rec.RunTriggers(ctx, rr.bus.Channel())
	}()
}

// wait blocks until all reconciler goroutines have stopped.
func (rr *reconcileRunner) wait() {
	rr.wg.Wait()
}

func runServe() int {
	_ = godotenv.Load()
	zerolog.TimeFieldFormat = time.RFC3339

	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error:\n%v\n", err)
		return exitInvalidConfig
	}
	logConfigWarnings(cfg)

	db, err := postgres.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Error().Err(err).Msg("dispatchd: database connection failed")
		return exitRuntimeError
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	if err := postgres.RunMigrations(db, cfg.MigrationsPath); err != nil {
		log.Error().Err(err).Msg("dispatchd: migrations failed")
		return exitRuntimeError
	}
	store := postgres.New(db)

	var sink metrics.Sink = metrics.NewNoopSink()
	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Info().Str("path", cfg.MetricsPath).Msg("dispatchd: metrics enabled")
	} else {
		log.Info().Msg("dispatchd: METRICS_ENABLED=false; metrics disabled")
	}

	var gateway calendar.Gateway = calendar.NewHTTPGateway(cfg.CalendarBaseURL, cfg.CalendarTimeout)
	if cfg.CircuitBreakerThreshold > 0 {
		breaker := circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
		gateway = calendar.WithBreaker(gateway, breaker).WithMetrics(sink)
		log.Info().
			Int("threshold", cfg.CircuitBreakerThreshold).
			Dur("cooldown", cfg.CircuitBreakerCooldown).
			Msg("dispatchd: calendar circuit breaker enabled")
	}

	tickets := ticket.NewClient(cfg.TicketBaseURL, cfg.TicketTimeout)
	machine := confirmation.New(gateway, tickets)
	sched := scheduler.New(
		scheduler.Config{Buffer: cfg.Buffer(), DefaultDuration: cfg.DefaultDuration},
		store,
		machine,
		tickets,
	)

	var redisClient *redis.Client
	var scheduleLease reconciler.Lease
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		scheduleLease = lease.New(redisClient, cfg.LeaseTTL)
		log.Info().Str("redis", cfg.RedisAddr).Msg("dispatchd: reconcile leases enabled")
	} else {
		log.Info().Msg("dispatchd: REDIS_ADDR not set; reconcile leases disabled")
	}

	var bus *channel.ReconcileBus
	var runner *reconcileRunner
	if cfg.ReconcileEnabled {
		bus = channel.NewReconcileBus(cfg.BusBufferSize)
		rec := reconciler.New(
			reconciler.Config{
				Interval:   cfg.ReconcileInterval,
				BatchSize:  cfg.ReconcileBatchSize,
				StuckAfter: cfg.ReconcileStuckAfter,
			},
			store,
			gateway,
			machine,
			scheduleLease,
			sink,
		)
		runner = &reconcileRunner{rec: rec, bus: bus}
		if cfg.ReconcileCron != "" {
			runner.cadence, err = cron.Parse(cfg.ReconcileCron, cfg.ReconcileCronTimezone)
			if err != nil {
				fmt.Fprintf(os.Stderr, "configuration error: RECONCILE_CRON: %v\n", err)
				return exitInvalidConfig
			}
			log.Info().Str("cron", cfg.ReconcileCron).Msg("dispatchd: reconciler on cron cadence")
		}
	} else {
		log.Info().Msg("dispatchd: RECONCILE_ENABLED=false; reconciler disabled")
	}

	reconcilerCtx, cancelReconciler := context.WithCancel(context.Background())
	electionCtx, cancelElection := context.WithCancel(context.Background())
	var electionWg sync.WaitGroup

	if runner != nil {
		if cfg.LeaderElectionEnabled {
			elector := leaderelection.New(
				db.DB,
				cfg.LeaderLockKey,
				cfg.LeaderRetryInterval,
				cfg.LeaderHeartbeatInterval,
				runner.start,
				runner.wait,
			).WithMetrics(sink)
			electionWg.Add(1)
			go func() {
				defer electionWg.Done()
				elector.Run(electionCtx)
			}()
		} else {
			runner.start(reconcilerCtx)
		}
	}

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	ready := func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
	api.New(sched, bus, sink, ready).Register(router)
	if cfg.MetricsEnabled {
		router.GET(cfg.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("dispatchd: http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("dispatchd: http server error")
		}
	}()

	log.Info().
		Str("version", version).
		Int("buffer_minutes", cfg.BufferMinutes).
		Msg("dispatchd: started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	log.Info().Str("signal", received.String()).Msg("dispatchd: shutting down")

	// Stop the reconciler first so no transitions race the HTTP drain.
	cancelElection()
	electionWg.Wait()
	cancelReconciler()
	if runner != nil {
		runner.wait()
		log.Info().Msg("dispatchd: reconciler stopped")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("dispatchd: http server shutdown error")
	}
	log.Info().Msg("dispatchd: stopped")
	return exitSuccess
}

func runValidate() int {
	_ = godotenv.Load()
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	_ = godotenv.Load()
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("dispatchd version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
