// Command pubsub-publish 在命令行中复现 k6 示例脚本：
// 多个并发调用方各自发布若干消息，然后关闭客户端并输出统计。
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uniyakcom/xk6-pubsub/config"
	"github.com/uniyakcom/xk6-pubsub/core"
	"github.com/uniyakcom/xk6-pubsub/internal/impl/publisher"
	"github.com/uniyakcom/xk6-pubsub/metrics"
	"github.com/uniyakcom/xk6-pubsub/sink"
)

const defaultPayload = `{"StringField":"", "FloatField":0.1, "BooleanField":false}`

type flags struct {
	configPath  string
	project     string
	backend     string
	url         string
	preset      string
	topic       string
	payload     string
	count       int
	concurrency int
	attrs       map[string]string
	metricsAddr string
	debug       bool
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "pubsub-publish",
		Short: "Publish test messages through the batching publisher client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.config(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, f, cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}

	fs := cmd.Flags()
	fs.StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	fs.StringVar(&f.project, "project", "", "project ID (overrides config and "+config.EnvProjectID+")")
	fs.StringVar(&f.backend, "backend", "", "sink backend: local, gcp, nats, zmq, kafka, redis, gocloud")
	fs.StringVar(&f.url, "url", "", "backend URL or endpoint")
	fs.StringVar(&f.preset, "preset", "", "batching preset: latency, balanced, throughput, auto")
	fs.StringVarP(&f.topic, "topic", "t", "test_topic_1", "topic to publish to")
	fs.StringVarP(&f.payload, "payload", "p", defaultPayload, "message payload")
	fs.IntVarP(&f.count, "count", "n", 1, "messages per publisher goroutine")
	fs.IntVar(&f.concurrency, "concurrency", 1, "concurrent publisher goroutines")
	fs.StringToStringVarP(&f.attrs, "attr", "a", nil, "message attributes (key=value)")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9100)")
	fs.BoolVar(&f.debug, "debug", false, "verbose logging")
	return cmd
}

// config 文件 + 环境变量，再由显式给出的命令行参数覆盖
func (f *flags) config(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	fs := cmd.Flags()
	if fs.Changed("project") {
		cfg.ProjectID = f.project
	}
	if fs.Changed("backend") {
		cfg.Sink.Backend = f.backend
	}
	if fs.Changed("url") {
		cfg.Sink.URL = f.url
	}
	if fs.Changed("preset") {
		cfg.Preset = f.preset
	}
	if fs.Changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if f.debug {
		cfg.Publisher.Debug = true
	}
	if f.count < 1 || f.concurrency < 1 {
		return nil, &core.ConfigError{Field: "count/concurrency", Reason: "must be at least 1"}
	}
	return cfg, cfg.Validate()
}

func newLogger(debug bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger.Named("pubsub-publish")
}

func run(ctx context.Context, cfg *config.Config, f *flags, out io.Writer) error {
	logger := newLogger(cfg.Publisher.Debug)
	defer logger.Sync()

	s, err := sink.Open(ctx, cfg.ProjectID, cfg.Sink)
	if err != nil {
		return fmt.Errorf("open %s sink: %w", cfg.Sink.Backend, err)
	}

	client, err := publisher.New(cfg.PublisherConfig(logger), core.Wrap(s, cfg.Middlewares(logger)...))
	if err != nil {
		s.Close()
		return err
	}

	if cfg.Metrics.Addr != "" {
		srv, err := serveMetrics(cfg, client, logger)
		if err != nil {
			client.Close()
			return err
		}
		defer srv.Close()
	}

	logger.Info("publishing",
		zap.String("backend", cfg.Sink.Backend),
		zap.String("topic", f.topic),
		zap.Int("concurrency", f.concurrency),
		zap.Int("count", f.count))

	start := time.Now()
	var failed atomic.Int64
	var g errgroup.Group
	for range f.concurrency {
		g.Go(func() error {
			for range f.count {
				if ctx.Err() != nil {
					return nil
				}
				if err := client.Publish(ctx, f.topic, []byte(f.payload), f.attrs); err != nil {
					failed.Add(1)
					logger.Warn("publish failed", zap.Error(err))
				}
			}
			return nil
		})
	}
	g.Wait()

	closeErr := client.Close()
	elapsed := time.Since(start)
	st := client.Stats()

	fmt.Fprintf(out, "published=%d delivered=%d failed=%d batches=%d timeouts=%d rejected=%d elapsed=%s\n",
		st.Published, st.Delivered, st.Failed, st.Batches, st.Timeouts, st.Rejected, elapsed.Round(time.Millisecond))

	if closeErr != nil {
		return closeErr
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d publish calls failed", n)
	}
	return nil
}

func serveMetrics(cfg *config.Config, src metrics.StatsSource, logger *zap.Logger) (*http.Server, error) {
	reg := prometheus.NewRegistry()
	if _, err := metrics.Register(reg, src, prometheus.Labels{"backend": cfg.Sink.Backend}); err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
