// cmd/sensor-sim/main.go
package main

import (
	"context"
	"flag"
	"math/rand/v2"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/logging"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/entities"
	sensorSimulator "github.com/LeonardoBeccarini/greenhouse_monitor/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/greenhouse_monitor/pkg/rabbitmq"
)

func env(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func main() {
	_ = godotenv.Load()

	clientID := flag.String("client-id", env("MQTT_CLIENT_ID", "greenhouseSimulator1"), "MQTT client ID")
	interval := flag.Duration("interval", 10*time.Second, "publish interval")
	fleetPath := flag.String("fleet", env("FLEET_CONFIG", ""), "fleet JSON file (default: built-in fleet)")
	seed := flag.Uint64("seed", 0, "random seed (0 = unseeded)")
	flag.Parse()

	log := logging.NewLogger(env("LOG_LEVEL", "info"))

	fleet := entities.DefaultFleet()
	if *fleetPath != "" {
		f, err := entities.LoadFleet(*fleetPath)
		if err != nil {
			log.Fatalf("load fleet: %v", err)
		}
		fleet = f
	}

	cfg := &rabbitmq.RabbitMQConfig{
		Host:     env("MQTT_HOST", "localhost"),
		Port:     envInt("MQTT_PORT", 1883),
		User:     env("MQTT_USER", "guest"),
		Password: env("MQTT_PASS", "guest"),
		ClientID: *clientID,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := rabbitmq.NewRabbitMQConn(ctx, cfg, log)
	if err != nil {
		log.Fatal(err)
	}

	var opts []sensorSimulator.Option
	if *seed != 0 {
		opts = append(opts, sensorSimulator.WithRand(rand.New(rand.NewPCG(*seed, *seed))))
	}
	generator := sensorSimulator.NewGenerator(opts...)
	publisher := rabbitmq.NewPublisher(client, log)
	consumer := rabbitmq.NewMultiConsumer(client, sensorSimulator.Subscriptions(), nil, log)

	sim := sensorSimulator.NewSensorSimulator(consumer, publisher, generator, fleet.Greenhouses, log)
	log.Infof("sensor-sim: %d greenhouses, interval %s", len(fleet.Greenhouses), *interval)
	if err := sim.Start(ctx, *interval); err != nil {
		log.Fatalf("sensor-sim: %v", err)
	}
}
