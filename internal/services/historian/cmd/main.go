package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/dataaccess"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/logging"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/entities"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/services/historian"
	"github.com/LeonardoBeccarini/greenhouse_monitor/pkg/rabbitmq"
)

func main() {
	_ = godotenv.Load()
	cfg := loadConfig()
	log := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatalf("historian: %v", err)
	}
	log.Infof("historian: shutdown complete")
}

func run(ctx context.Context, cfg Config, log logging.Logger) error {
	fleet := entities.DefaultFleet()
	if cfg.Fleet != "" {
		f, err := entities.LoadFleet(cfg.Fleet)
		if err != nil {
			return err
		}
		fleet = f
	}

	metrics := historian.NewMetrics()
	health := &historian.Health{MinErrorAge: 30 * time.Second}
	g, ctx := errgroup.WithContext(ctx)

	var backend dataaccess.DataAccess
	switch cfg.Backend {
	case "mock":
		backend = dataaccess.NewSimulated(fleet,
			dataaccess.WithRecomputeDelay(cfg.RecomputeDelay),
			dataaccess.WithLogger(log))
		log.Infof("historian: serving synthetic data")
	case "influx":
		if cfg.InfluxToken == "" {
			return errors.New("influx config incomplete: INFLUX_TOKEN is required")
		}
		mq, err := rabbitmq.NewRabbitMQConn(ctx, &rabbitmq.RabbitMQConfig{
			Host:     cfg.MQTTHost,
			Port:     cfg.MQTTPort,
			User:     cfg.MQTTUser,
			Password: cfg.MQTTPass,
			ClientID: cfg.MQTTClientID,
		}, log)
		if err != nil {
			return fmt.Errorf("mqtt connect failed: %w", err)
		}
		influx := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
		defer influx.Close()
		writer := influx.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket)

		dispatcher := historian.NewDispatcher(rabbitmq.NewPublisher(mq, log), metrics, log)
		consumer := rabbitmq.NewMultiConsumer(mq, historian.IngestTopics(), nil, log)
		ingestor := historian.NewIngestor(consumer, writer, dispatcher, metrics, log)
		backend = historian.NewInfluxStore(fleet, cfg.InfluxBucket,
			historian.NewFluxRunner(influx, cfg.InfluxOrg), writer, dispatcher, log)

		health.MQTTConnected = mq.IsConnectionOpen
		health.Influx = influx
		health.Ingest = ingestor
		g.Go(func() error { return ingestor.Start(ctx) })
	default:
		return fmt.Errorf("unknown HISTORIAN_BACKEND %q", cfg.Backend)
	}

	api := historian.NewAPI(backend, log)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.Router(metrics, health, cfg.Origins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc :%s: %w", cfg.GRPCPort, err)
	}
	grpcServer := grpc.NewServer()
	health.RegisterGRPC(grpcServer)

	g.Go(func() error {
		log.Infof("historian HTTP listening on :%s (backend %s)", cfg.Port, cfg.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Infof("historian gRPC health on :%s", cfg.GRPCPort)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		health.Watch(ctx, 10*time.Second)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
