package metrics

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/voltplan/voltplan/core/events"
	"github.com/voltplan/voltplan/core/logger"
)

// InfluxConfig configures the evaluation history sink.
type InfluxConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Token   string `json:"token"`
	Org     string `json:"org"`
	Bucket  string `json:"bucket"`
}

// InfluxSink writes one point per evaluation cycle so decisions can be
// replayed and graphed after the fact.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	log      logger.Logger
}

// NewInfluxSink connects and verifies the server health. An unreachable
// server is an error; callers typically degrade to the nop sink.
func NewInfluxSink(cfg InfluxConfig, log logger.Logger) (*InfluxSink, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influx health check: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("influx unhealthy: %s", health.Status)
	}

	s := &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		log:      log,
	}
	go func() {
		for err := range s.writeAPI.Errors() {
			log.Errorf("influx write failed: %v", err)
		}
	}()
	return s, nil
}

func (s *InfluxSink) RecordEvaluation(e events.Evaluation) {
	fields := map[string]interface{}{
		"battery_should_charge": e.BatteryShouldCharge,
		"car_should_charge":     e.CarShouldCharge,
		"charger_limit_w":       e.ChargerLimitW,
		"grid_setpoint_w":       e.GridSetpointW,
		"feed_in":               e.FeedInShouldEnable,
		"solar_surplus_w":       e.SolarSurplusW,
		"duration_ms":           float64(e.Duration.Microseconds()) / 1000,
	}
	if e.CurrentPrice != nil {
		fields["current_price"] = *e.CurrentPrice
	}
	if e.AverageSoC != nil {
		fields["average_soc"] = *e.AverageSoC
	}

	p := influxdb2.NewPoint("evaluation", nil, fields, e.Time)
	s.writeAPI.WritePoint(p)
}

func (s *InfluxSink) RecordOverride(e events.OverrideChanged) {
	p := influxdb2.NewPoint("override",
		map[string]string{"target": e.Target},
		map[string]interface{}{"action": e.Action, "set": e.Set},
		e.Time)
	s.writeAPI.WritePoint(p)
}

func (s *InfluxSink) Close() error {
	s.writeAPI.Flush()
	s.client.Close()
	return nil
}
