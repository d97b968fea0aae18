// Command sendlaterd runs the scheduled message delivery pipeline.
//
// It wires the configured stores into a sendlater.Pipeline, exposes
// Prometheus metrics over HTTP and a gRPC health service, and runs until
// SIGINT or SIGTERM.
//
// Usage:
//
//	sendlaterd -config /etc/sendlater.yaml
//	sendlaterd -config /etc/sendlater.yaml -once
//	sendlaterd -config /etc/sendlater.yaml -replay-deadletters
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rbaliyan/sendlater"
	"github.com/rbaliyan/sendlater/conversation"
	"github.com/rbaliyan/sendlater/deadletter"
	"github.com/rbaliyan/sendlater/delivery"
	"github.com/rbaliyan/sendlater/notify"
	"github.com/rbaliyan/sendlater/trigger"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a yaml config file")
	once := flag.Bool("once", false, "run a single delivery pass and exit")
	replay := flag.Bool("replay-deadletters", false, "reschedule every dead letter and exit")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *replay:
		err = runReplay(ctx, cfg)
	case *once:
		err = runOnce(ctx, cfg)
	default:
		err = run(ctx, cfg)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("sendlaterd failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(h).With("service", "sendlaterd")
}

// closers releases resources in reverse order of acquisition.
type closers struct {
	names []string
	fns   []func() error
}

func (c *closers) add(name string, fn func() error) {
	c.names = append(c.names, name)
	c.fns = append(c.fns, fn)
}

func (c *closers) close() error {
	var err error
	for i := len(c.fns) - 1; i >= 0; i-- {
		if cerr := c.fns[i](); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close %s: %w", c.names[i], cerr))
		}
	}
	return err
}

// pipeline builds the stores, notifiers and pipeline from cfg.
func pipeline(ctx context.Context, cfg *Config, cl *closers) (*sendlater.Pipeline, error) {
	b, err := openBackends(ctx, cfg, cl)
	if err != nil {
		return nil, err
	}

	store, err := b.scheduledStore(ctx)
	if err != nil {
		return nil, err
	}
	convs, err := b.conversationStore(ctx)
	if err != nil {
		return nil, err
	}

	notifier, err := notifiers(cfg, cl)
	if err != nil {
		return nil, err
	}

	exporter, err := otelprom.New()
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(mp)
	cl.add("meter provider", func() error { return mp.Shutdown(context.Background()) })

	workerOpts := []delivery.Option{
		delivery.WithGuard(b.guard()),
		delivery.WithMeterProvider(mp),
	}
	if cfg.DeadLetter.Enabled {
		workerOpts = append(workerOpts,
			delivery.WithDeadLetter(b.deadLetters(), cfg.DeadLetter.MaxAttempts),
			delivery.WithAttemptCounter(b.attempts()))
	}

	opts := []sendlater.Option{
		sendlater.WithWorkerOptions(workerOpts...),
		sendlater.WithFastInterval(cfg.Trigger.FastInterval),
		sendlater.WithDurableInterval(cfg.Trigger.DurableInterval),
		sendlater.WithInitialDelay(cfg.Trigger.InitialDelay),
		sendlater.WithStateStore(b.stateStore()),
	}
	if cfg.Trigger.ConstraintAddr != "" {
		opts = append(opts, sendlater.WithConstraint(
			trigger.Network(cfg.Trigger.ConstraintAddr, 5*time.Second),
			cfg.Trigger.ConstraintRecheck))
	}

	p := sendlater.New(store,
		conversation.NewResolver(convs),
		conversation.NewSender(convs).WithNotifier(notifier),
		opts...)
	return p, nil
}

// notifiers connects the configured realtime fan-out targets.
func notifiers(cfg *Config, cl *closers) (notify.Notifier, error) {
	codec := notify.CodecByName(cfg.Notify.Codec)
	if codec == nil {
		return nil, fmt.Errorf("unknown notify codec %q", cfg.Notify.Codec)
	}

	var out notify.Multi
	if cfg.Notify.NATS.URL != "" {
		conn, err := nats.Connect(cfg.Notify.NATS.URL, nats.Name("sendlaterd"))
		if err != nil {
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		cl.add("nats", func() error { conn.Close(); return nil })

		n, err := notify.NewNATS(conn,
			notify.WithSubjectPrefix(cfg.Notify.NATS.SubjectPrefix),
			notify.WithNATSCodec(codec))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}

	if len(cfg.Notify.Kafka.Brokers) > 0 {
		sc := sarama.NewConfig()
		sc.ClientID = "sendlaterd"
		sc.Producer.Return.Successes = true
		sc.Producer.RequiredAcks = sarama.WaitForAll
		producer, err := sarama.NewSyncProducer(cfg.Notify.Kafka.Brokers, sc)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}

		k, err := notify.NewKafka(producer,
			notify.WithTopic(cfg.Notify.Kafka.Topic),
			notify.WithKafkaCodec(codec))
		if err != nil {
			producer.Close()
			return nil, err
		}
		cl.add("kafka", k.Close)
		out = append(out, k)
	}

	if len(out) == 0 {
		return notify.Nop{}, nil
	}
	return out, nil
}

func run(ctx context.Context, cfg *Config) (err error) {
	cl := &closers{}
	defer func() { err = multierr.Append(err, cl.close()) }()

	p, err := pipeline(ctx, cfg, cl)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	healthServer := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	lis, err := net.Listen("tcp", cfg.Health.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Health.Addr, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.Start(gctx)
	})

	g.Go(func() error {
		slog.Info("metrics server starting", "addr", cfg.Metrics.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("health server starting", "addr", cfg.Health.Addr)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		grpcServer.GracefulStop()
		return metricsServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func runOnce(ctx context.Context, cfg *Config) (err error) {
	cl := &closers{}
	defer func() { err = multierr.Append(err, cl.close()) }()

	p, err := pipeline(ctx, cfg, cl)
	if err != nil {
		return err
	}

	result := p.RunOnce(ctx)
	slog.Info("delivery pass finished", "result", result)
	if result == delivery.Retry {
		return errors.New("delivery pass asked for a retry")
	}
	return nil
}

func runReplay(ctx context.Context, cfg *Config) (err error) {
	cl := &closers{}
	defer func() { err = multierr.Append(err, cl.close()) }()

	b, err := openBackends(ctx, cfg, cl)
	if err != nil {
		return err
	}
	store, err := b.scheduledStore(ctx)
	if err != nil {
		return err
	}

	n, err := deadletter.NewManager(b.deadLetters(), store).ReplayAll(ctx, deadletter.Filter{})
	if err != nil {
		return err
	}
	slog.Info("replayed dead letters", "count", n)
	return nil
}
