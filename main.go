package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"mogakjak-gateway/internal/auth"
	"mogakjak-gateway/internal/config"
	"mogakjak-gateway/internal/handlers"
	"mogakjak-gateway/internal/middleware"
	"mogakjak-gateway/internal/models"
	"mogakjak-gateway/internal/observability"
	"mogakjak-gateway/internal/presence"
	"mogakjak-gateway/internal/proxy"
	"mogakjak-gateway/internal/rabbitmq"
	"mogakjak-gateway/internal/realtime"
	"mogakjak-gateway/internal/stomp"
	"mogakjak-gateway/internal/telemetry"
	"mogakjak-gateway/internal/upstream"
	"mogakjak-gateway/internal/ws"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("application error: %v", err)
	}
}

func run(ctx context.Context) error {
	watchGroup := flag.String("watch-group", "", "Follow a group's presence from the command line instead of serving")
	tokenEndpoint := flag.String("token-endpoint", "", "Token endpoint used by -watch-group, e.g. https://host/api/auth/token")
	cookie := flag.String("cookie", "", "Cookie header sent to -token-endpoint")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if *watchGroup != "" {
		return watch(ctx, cfg, *watchGroup, *tokenEndpoint, *cookie)
	}
	return serve(ctx, cfg)
}

func brokerDialer(cfg *config.Config) stomp.Dialer {
	if cfg.WSSockJS {
		return stomp.SockJSDialer{}
	}
	return stomp.WebSocketDialer{}
}

func clientDefaults(cfg *config.Config) realtime.Config {
	defaults := realtime.Config{
		ReconnectDelay:    cfg.ReconnectDelay,
		HeartbeatIncoming: cfg.HeartbeatIncoming,
		HeartbeatOutgoing: cfg.HeartbeatOutgoing,
	}
	if cfg.WSDebug {
		defaults.Debug = func(msg string) { log.Printf("stomp: %s", msg) }
	}
	return defaults
}

func serve(ctx context.Context, cfg *config.Config) error {
	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			log.Printf("tracer shutdown error: %v", err)
		}
	}()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer func() { _ = publisher.Close() }()
	observability.SetPublisher(publisher)
	mode := rabbitmq.PublisherMode(publisher)
	log.Printf("event publisher mode=%s reason=%q", mode, rabbitmq.PublisherNoopReason(publisher))

	audit := telemetry.NewAuditEmitter(publisher, "audit.auth", cfg.ServiceName, cfg.Environment)
	hub := ws.NewHub()
	bridge := ws.NewBridgeHandler(hub, ws.BridgeConfig{
		Dialer:            brokerDialer(cfg),
		BrokerURL:         cfg.WSURL,
		Client:            clientDefaults(cfg),
		GraceDelay:        cfg.GraceDelay,
		AccessCookie:      cfg.AccessTokenCookie,
		Members:           upstream.NewClient(cfg.UpstreamURL, nil),
		ReconcileInterval: cfg.ReconcileInterval,
	})
	apiProxy := proxy.New(proxy.Config{
		Upstream:      cfg.UpstreamURL,
		RefreshPath:   cfg.RefreshPath,
		AccessCookie:  cfg.AccessTokenCookie,
		RefreshCookie: cfg.RefreshTokenCookie,
		CookieSecure:  cfg.CookieSecure,
		AccessMaxAge:  cfg.AccessTokenMaxAge,
		RefreshMaxAge: cfg.RefreshTokenMaxAge,
		MaxBodyBytes:  cfg.ProxyMaxBodyBytes,
	}, nil, audit)

	router := gin.New()

	// middlewares
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.RequestID())
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/health", handlers.Health(mode))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/api/auth/token", auth.TokenHandler(cfg.AccessTokenCookie))

	router.GET("/ws/groups/:group_id", bridge.HandleGroup)
	router.GET("/ws/me", bridge.HandleMe)

	handlers.RegisterDebugRoutes(router, audit, hub, cfg.DebugRoutes)
	router.NoRoute(apiProxy.Handle)

	server := &http.Server{Addr: ":" + cfg.Port, Handler: router}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("gateway listening on :%s upstream=%s broker=%s", cfg.Port, cfg.UpstreamURL, cfg.WSURL)
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("shutting down gateway...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		hub.CloseAll()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

// watch follows one group from the terminal, fetching the token the same
// way a browser would.
func watch(ctx context.Context, cfg *config.Config, groupID, tokenEndpoint, cookie string) error {
	if tokenEndpoint == "" {
		tokenEndpoint = "http://localhost:" + cfg.Port + "/api/auth/token"
	}
	supplier := auth.NewRemoteSupplier(ctx, tokenEndpoint, cookie, nil, time.Minute)
	factory := &realtime.Factory{
		Supplier: supplier,
		Dialer:   brokerDialer(cfg),
		URL:      cfg.WSURL,
		Defaults: clientDefaults(cfg),
	}
	// A rejected token is dropped from the cache and the session redialed.
	reauth := realtime.NewReauthenticator(supplier.Invalidate)
	opts := presence.Options{
		GraceDelay: cfg.GraceDelay,
		OnStateChange: func(from, to realtime.State) {
			log.Printf("watch %s: %s -> %s", groupID, from, to)
			reauth.Observe(from, to)
		},
	}

	members := presence.NewMemberStatusWatcher(factory, opts, groupID, presence.NewMemberStatusStore(), nil, func(ms []models.MemberStatus) {
		for _, m := range ms {
			log.Printf("watch %s: member %s (%s) %s", groupID, m.UserID, m.Nickname, m.ParticipationStatus)
		}
	})
	timer := presence.NewGroupTimerWatcher(factory, opts, groupID, func(v models.TimerView) {
		log.Printf("watch %s: timer %s %s elapsed=%ds", groupID, v.Mode, v.Status, v.ElapsedSeconds)
	})

	reauth.Watch(members.Session(), timer.Session())
	go reauth.Run(ctx)

	if err := members.Start(ctx); err != nil {
		return err
	}
	if err := timer.Start(ctx); err != nil {
		members.Stop(context.Background())
		return err
	}

	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	members.Stop(stopCtx)
	timer.Stop(stopCtx)
	return nil
}
