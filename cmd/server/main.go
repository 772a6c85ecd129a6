// Sentinel is an LLM-powered clinical encounter triage service with a
// model-tier router, a safety gate and a full audit trail.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/prof"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/health"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sentinelhealth/sentinel/internal/audit"
	auditmem "github.com/sentinelhealth/sentinel/internal/audit/memstore"
	auditpg "github.com/sentinelhealth/sentinel/internal/audit/pgstore"
	"github.com/sentinelhealth/sentinel/internal/authmw"
	"github.com/sentinelhealth/sentinel/internal/bus"
	sc "github.com/sentinelhealth/sentinel/internal/cfg"
	"github.com/sentinelhealth/sentinel/internal/embedding"
	"github.com/sentinelhealth/sentinel/internal/llm/claude"
	"github.com/sentinelhealth/sentinel/internal/notify/slack"
	"github.com/sentinelhealth/sentinel/internal/pipeline"
	"github.com/sentinelhealth/sentinel/internal/postgres"
	"github.com/sentinelhealth/sentinel/internal/protocols"
	"github.com/sentinelhealth/sentinel/internal/routing"
	"github.com/sentinelhealth/sentinel/internal/session"
	sessionmem "github.com/sentinelhealth/sentinel/internal/session/memstore"
	sessionpg "github.com/sentinelhealth/sentinel/internal/session/pgstore"
	"github.com/sentinelhealth/sentinel/internal/sidecar"
	"github.com/sentinelhealth/sentinel/internal/stream"
	"github.com/sentinelhealth/sentinel/internal/triageapi"
)

const appName = "sentinel"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    sc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	// register flags for each package, which will be parsed into the shared config struct
	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// parse flags to get config values from cmdline, we check env vars next which do not override cmdline flags
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// Fill in config values from environment variables with prefix SENTINEL_,
	// these do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "SENTINEL_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// cross-cutting checks that only main can validate
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	// initialize logger early
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	// no-op for slog/stderr, but here if we swap backends in the future to ensure any buffered logs are flushed on shutdown
	defer func() { _ = lg.Sync() }()

	// create a logger with component field pre-filled for structured logging in this package
	L := lg.With("component", vi.Component)

	// add logger to context
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"trace_sample", traceCfg.TraceSample,
		"trace_insecure", traceCfg.Insecure,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"pyro_server", profCfg.PyroServer,
		"pyro_tenant", profCfg.PyroTenantID,
		"include_error_links", logCfg.IncludeErrorLinks,
		"max_error_links", logCfg.MaxErrorLinks,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
		"classifier_model", appCfg.ClassifierModel,
		"sentinel_model", appCfg.SentinelModel,
	)

	// Setup pyroscope profiling early so we get profiles from the entire app lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
		"source":    "lmlabs-go-agent",
	}
	// Start profiling, returns a stop function to call for clean shutdown (flush buffers, etc)
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	defer stopProfiler(stopProf)

	// Setup otel for tracing
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	// Start otel, returns a shutdown function to call for clean shutdown (flush buffers, etc)
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	// Setup metrics, we use our own metrics package for internal instrumentation
	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	// Initialize the persistence layer. With a database URL we get durable
	// audit, session and protocol stores; without one everything is in-memory
	// and vector retrieval is unavailable.
	var (
		auditStore    audit.Store
		sessionStore  session.Store
		protocolStore *protocols.Store
		healthChecks  []triageapi.Check
	)
	if appCfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()

		if auditStore, err = auditpg.New(ctx, pool); err != nil {
			return fmt.Errorf("audit pgstore init: %w", err)
		}
		if sessionStore, err = sessionpg.New(ctx, pool); err != nil {
			return fmt.Errorf("session pgstore init: %w", err)
		}
		if protocolStore, err = protocols.New(ctx, pool); err != nil {
			return fmt.Errorf("protocols store init: %w", err)
		}
		healthChecks = append(healthChecks, triageapi.Check{
			Name:     "database",
			Critical: true,
			Probe:    pool.Ping,
		})
		L.Info(ctx, "using postgres stores")
	} else {
		auditStore = auditmem.New()
		sessionStore = sessionmem.New()
		L.Info(ctx, "using in-memory stores (no database-url configured)")
	}

	// Webhook publisher carries terminal and audit events to the worker.
	pub := bus.NewWebhookPublisher(map[string]string{
		bus.TopicAuditEvents:     appCfg.AuditEventsURL,
		bus.TopicTriageCompleted: appCfg.TriageCompletedURL,
	})

	// Compliance sidecar strips PHI and vets node output. Optional but
	// strongly recommended outside development.
	var scrubber audit.Scrubber
	var validator pipeline.Validator
	if appCfg.SidecarURL != "" {
		sidecarClient := sidecar.New(appCfg.SidecarURL, L)
		scrubber = sidecarClient
		validator = sidecarClient
		healthChecks = append(healthChecks, triageapi.Check{
			Name:     "sidecar",
			Critical: true,
			Probe:    sidecarClient.Ping,
		})
		L.Info(ctx, "compliance sidecar enabled", "url", appCfg.SidecarURL)
	} else {
		L.Warn(ctx, "compliance sidecar disabled, audit summaries are not scrubbed")
	}

	// Audit writer owns the store write plus the best-effort bus copy.
	auditWriter := audit.NewWriter(auditStore, pub, scrubber, L)
	defer auditWriter.Close()

	// Initialize Claude provider and the routing layer.
	claudeProvider := claude.New(appCfg.ClaudeAPIKey)
	L.Info(ctx, "initialized LLM provider", "provider", "claude", "classifier_model", appCfg.ClassifierModel)

	policy := routing.DefaultPolicy()
	if appCfg.RoutingPolicyPath != "" {
		if policy, err = routing.LoadPolicy(appCfg.RoutingPolicyPath); err != nil {
			return fmt.Errorf("routing policy: %w", err)
		}
		L.Info(ctx, "loaded routing policy", "path", appCfg.RoutingPolicyPath)
	}
	classifier := routing.NewClassifier(claudeProvider, appCfg.ClassifierModel, L)
	router := routing.NewRouter(policy)

	// Initialize pipeline metrics on the shared Prometheus registry.
	pipelineMetrics := pipeline.NewMetrics(m.Registry())

	// Register per-query DB duration histogram and wire the observer.
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, method, route, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(method, route, outcome).Observe(dur.Seconds())
		},
	))

	// Assemble the orchestrator.
	orch := pipeline.New(claudeProvider, classifier, router, auditWriter, pipeline.Config{
		SentinelModel:          appCfg.SentinelModel,
		HallucinationThreshold: appCfg.HallucinationThreshold,
		ConfidenceThreshold:    appCfg.ConfidenceThreshold,
		ContextTopK:            appCfg.ContextTopK,
	}, L).WithMetrics(pipelineMetrics)

	if validator != nil {
		orch.WithValidator(validator)
	}

	// Protocol retrieval needs both an embedding provider and the pgvector
	// store; either one missing disables context augmentation.
	if protocolStore != nil && appCfg.VoyageAPIKey != "" {
		var fallback embedding.Provider
		if appCfg.OpenAIAPIKey != "" {
			fallback = embedding.NewOpenAI(appCfg.OpenAIAPIKey)
		}
		embedSvc := embedding.NewService(
			embedding.NewVoyage(appCfg.VoyageAPIKey, ""),
			fallback,
			appCfg.EmbeddingDimension,
			L,
		)
		orch.WithRetrieval(embedSvc, protocolStore)
		healthChecks = append(healthChecks, triageapi.Check{
			Name:     "protocols",
			Critical: false,
			Probe:    protocolStore.Ping,
		})
		L.Info(ctx, "protocol retrieval enabled",
			"dimension", appCfg.EmbeddingDimension,
			"top_k", appCfg.ContextTopK,
			"fallback", appCfg.OpenAIAPIKey != "",
		)
	} else {
		L.Info(ctx, "protocol retrieval disabled")
	}

	// Live-updates hub for the SSE stream.
	hub := stream.NewHub(L)

	// setup toggle for server shutdown. this is used to fail readiness checks
	// during shutdown to drain connections from load balancer before killing the process.
	var shutdownGate health.ShutdownGate

	// setup readiness checks, currently just the shutdown gate
	readiness := health.All(
		shutdownGate.Probe(),
	)
	// liveness is always true if the app is able to respond
	liveness := health.Fixed(true, "")

	// Configure ops http server for metrics, health checks, pprof, etc
	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	// start admin/ops listener. sg restricts inbound to internal monitoring infrastructure.
	// we reject connections from public ips and requests with x-forwarded set in middleware
	// to prevent accidental exposure if sg is misconfigured or load balancer ever sends traffic here
	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		err := opsHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	// setup main api chi router and middleware stack
	r := chi.NewRouter()

	// Compress text responses (we are JSON only for now)
	r.Use(middleware.Compress(5, "application/json"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// Stash HTTP method in context for DB query metrics labelling.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(postgres.WithHTTPMethod(req.Context(), req.Method)))
		})
	})

	// Access log middleware
	r.Use(httpmw.AccessLog())

	// Limit request body size, this is a wrapper around http.MaxBytesHandler which returns 413 if limit is exceeded
	r.Use(httpmw.MaxBody(1024 * 64)) // encounter text caps at 50KB plus envelope

	// add health check endpoints to main listener
	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	// register api routes
	api := triageapi.New(L, orch, sessionStore).
		WithPublisher(auditWriter).
		WithStream(hub).
		WithHealth(triageapi.NewHealthChecker(healthChecks...))
	if appCfg.SlackWebhookURL != "" {
		api.WithNotifier(slack.New(appCfg.SlackWebhookURL))
		L.Info(ctx, "notifier enabled", "type", "slack")
	}
	if appCfg.APIToken != "" {
		api.WithAuth(authmw.BearerToken(appCfg.APIToken))
	} else {
		L.Warn(ctx, "api token not configured, triage routes are unauthenticated")
	}
	api.RegisterRoutes(r)

	// middleware stack for main listener, order matters these are wrappers, outermost sees raw request
	// first and is last to see response, innermost is last to see request and first to see response but
	// has access to the full rich context from outer middleware and handlers
	var h http.Handler = r

	// Request-scoped logging (inner so it sees trace_id, chi route, etc)
	h = httpmw.WithLogger(L)(h)

	// add trace-id and span-id headers to any requests with a recording trace
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	// otel instrumentation for automatic spans and trace context propagation
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			// dont trace health/readiness checks
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// AnnotateHTTPRoute will rename the span later to the final route pattern
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		// WithPublicEndpointFn is the replacement for WithPublicEndpoint()
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)

	// Metrics middleware for prometheus instrumentation
	h = m.Middleware(h)

	// Client IP resolution and spoofing protection middleware, outer so downstream middleware
	// and handlers can use the resolved client ip from context for consistency and security
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)

	// Request ID (outer so everything downstream sees it)
	h = httpmw.RequestID("X-Request-Id")(h) // request ID

	// Recovery middleware to recover and log panics and serve 500 response.
	// Outer to catch panics from any downstream middleware or handlers
	h = httpmw.Recover(L, nil)(h)

	// Security headers outermost to ensure they are served on every response
	h = httpmw.SecurityHeaders(h)

	// Configure http server options from config
	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	// Start triage API HTTP server with middleware and handlers
	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start triage api http listener")
		return err
	}
	defer func() {
		err := apiHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop triage api http listener")
		}
	}()

	// Notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// Wait for ctrl+c / sigterm
	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	// fail health checks to drain connections
	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// Wait for in-flight requests to finish and for load balancer
	// to detect unhealthy and stop sending new requests.
	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// Close the SSE hub so stream subscribers disconnect cleanly.
	hub.Close()

	// Shutdown components with per-component budget sliced from total.
	// The profiler stops via its deferred call; it is synchronous and
	// needs no context.
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"triage api http server", apiHTTPStop},
		{"ops http server", opsHTTPStop},
		{"otel", shutdownOtelx},
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	L.Info(context.Background(), "shutdown complete")
	return nil
}

// stopProfiler flushes the profiler on shutdown. prof.Start returns a nil
// stop function when the profiler fails to start.
func stopProfiler(stop func()) {
	if stop != nil {
		stop()
	}
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
