// redistd is the server entrypoint: it wires together the backing store,
// transactional client, codec, dispatcher, background GC pool, and
// topology manager, then serves the RESP port and an admin HTTP surface
// side by side until signalled to shut down.
//
// Flag/TOML/validator bootstrap and the zap logger setup are grounded on
// the teacher's cmd/zmux-server/main.go; the admin gin router and its
// ZapLogger middleware are carried over from the same file almost
// verbatim, retargeted from channel-CRUD routes to /healthz, /metrics,
// and /debug/clients.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/redistd/redistd/internal/clientreg"
	"github.com/redistd/redistd/internal/config"
	"github.com/redistd/redistd/internal/dispatcher"
	"github.com/redistd/redistd/internal/gc"
	"github.com/redistd/redistd/internal/keycodec"
	"github.com/redistd/redistd/internal/lua"
	"github.com/redistd/redistd/internal/metrics"
	"github.com/redistd/redistd/internal/store"
	"github.com/redistd/redistd/internal/topology"
	"github.com/redistd/redistd/internal/txn"
)

func main() {
	cfg := config.Default()
	var configPath string

	root := &cobra.Command{
		Use:           "redistd",
		Short:         "RESP-compatible server backed by a Percolator-style transactional store",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				overlaid, err := config.LoadTOML(cfg, configPath)
				if err != nil {
					return err
				}
				cfg = overlaid
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			return run(cfg)
		},
	}

	flags := root.Flags()
	flags.StringVar(&configPath, "config", "", "path to a TOML config file overlaid on the defaults")
	flags.StringVar(&cfg.Listen, "listen", cfg.Listen, "RESP listener bind address")
	flags.IntVar(&cfg.Port, "port", cfg.Port, "RESP listener port")
	flags.StringVar(&cfg.AdminListen, "admin-listen", cfg.AdminListen, "admin HTTP bind address")
	flags.IntVar(&cfg.AdminPort, "admin-port", cfg.AdminPort, "admin HTTP port")
	flags.StringVar(&cfg.InstanceID, "instance-id", cfg.InstanceID, "key-encoding instance identifier")
	flags.StringVar(&cfg.Password, "password", cfg.Password, "required AUTH password, empty disables auth")
	flags.IntVar(&cfg.MetaKeyNumber, "meta-key-number", cfg.MetaKeyNumber, "sub-meta shard fan-out per collection key")
	flags.BoolVar(&cfg.AsyncDeletionEnabled, "async-deletion-enabled", cfg.AsyncDeletionEnabled, "orphan large collections to the GC queue instead of deleting them inline")
	flags.StringVar(&cfg.ClusterBroadcastAddr, "cluster-broadcast-addr", cfg.ClusterBroadcastAddr, "address this node heartbeats under for topology ownership")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	log := buildLogger()
	defer log.Sync()

	if cfg.ClusterBroadcastAddr == "" {
		cfg.ClusterBroadcastAddr = net.JoinHostPort(cfg.Listen, fmt.Sprintf("%d", cfg.Port))
	}

	codec := keycodec.New([]byte(cfg.InstanceID), cfg.MetaKeyNumber)
	eng := store.NewMemEngine()
	txc := txn.New(eng, txn.RetryPolicy{
		MaxAttempts:     cfg.TxnRetryCount,
		InitialBackoff:  cfg.TxnInitialBackoffMs,
		MaxBackoff:      cfg.TxnMaxBackoffMs,
		BackoffMultiple: cfg.TxnBackoffMultiple,
	}, log)

	registry := clientreg.New()
	m := metrics.New()
	vm := lua.NewGopherVM()
	dsp := dispatcher.New(codec, txc, registry, m, vm, log, cfg)

	topo := topology.New(codec, eng, cfg.ClusterBroadcastAddr, time.Duration(cfg.ClusterTopologyIntervalMs)*time.Millisecond, cfg.ClusterTopologyExpireMs, log)

	gcPool := gc.New(codec, eng, topo, m, log, time.Duration(cfg.AsyncGCIntervalMs)*time.Millisecond, cfg.AsyncGCWorkerNumber, cfg.AsyncGCWorkerQueueSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topo.Start(ctx)
	defer topo.Stop()
	gcPool.Start(ctx)
	defer gcPool.Stop()

	var ready atomic.Bool

	listenAddr := net.JoinHostPort(cfg.Listen, fmt.Sprintf("%d", cfg.Port))
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("redistd: listen %s: %w", listenAddr, err)
	}
	log.Info("RESP listener up", zap.String("addr", listenAddr))

	go acceptLoop(ctx, ln, dsp, log)
	ready.Store(true)

	adminSrv := buildAdminServer(cfg, registry, m, &ready, log)
	go func() {
		log.Info("admin HTTP listener up", zap.String("addr", adminSrv.Addr))
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("admin server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = adminSrv.Shutdown(shutdownCtx)
	_ = ln.Close()
	cancel()

	return nil
}

func acceptLoop(ctx context.Context, ln net.Listener, dsp *dispatcher.Dispatcher, log *zap.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			log.Warn("accept failed", zap.Error(err))
			return
		}
		go dsp.ServeConn(ctx, conn)
	}
}

// buildLogger mirrors the teacher's development zap config: colorized
// levels, no timestamp/caller noise, stacktraces disabled.
func buildLogger() *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	return zap.Must(logConfig.Build()).Named("redistd")
}

// zapGinLogger is the teacher's ZapLogger gin middleware, applied only to
// the admin router — the RESP port logs per-command through the
// dispatcher instead.
func zapGinLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		var errs []error
		for _, ge := range c.Errors {
			if ge.Err != nil {
				errs = append(errs, ge.Err)
			}
		}
		joinedErr := errors.Join(errs...)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("latency", latency),
		}
		if joinedErr != nil {
			fields = append(fields, zap.Error(joinedErr))
		}

		switch {
		case status >= 500:
			log.Error("request", fields...)
		case status >= 400:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

func buildAdminServer(cfg config.Config, registry *clientreg.Registry, m *metrics.Metrics, ready *atomic.Bool, log *zap.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(zapGinLogger(log.Named("admin")))

	r.GET("/healthz", func(c *gin.Context) {
		if !ready.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))

	r.GET("/debug/clients", func(c *gin.Context) {
		if cfg.Password != "" && c.GetHeader("Authorization") != "Bearer "+cfg.Password {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "unauthorized"})
			return
		}
		c.JSON(http.StatusOK, registry.List())
	})

	addr := net.JoinHostPort(cfg.AdminListen, fmt.Sprintf("%d", cfg.AdminPort))
	return &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     zap.NewStdLog(log.Named("admin-http").WithOptions(zap.AddCallerSkip(1))),
	}
}
