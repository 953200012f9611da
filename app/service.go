package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	apiplanner "github.com/voltplan/voltplan/api/planner"
	"github.com/voltplan/voltplan/config"
	"github.com/voltplan/voltplan/core/events"
	coremetrics "github.com/voltplan/voltplan/core/metrics"
	"github.com/voltplan/voltplan/core/model"
	"github.com/voltplan/voltplan/core/override"
	"github.com/voltplan/voltplan/core/planner"
	"github.com/voltplan/voltplan/infra/logger"
	"github.com/voltplan/voltplan/infra/metrics"
	"github.com/voltplan/voltplan/infra/mqtt"
	"github.com/voltplan/voltplan/internal/eventbus"
)

// Service wires the planner loop, sinks, MQTT and the HTTP API together.
type Service struct {
	Engine *planner.Engine
	Loop   *planner.Loop

	cfg  *config.Config
	bus  eventbus.EventBus
	sink coremetrics.Sink
	pub  mqtt.Publisher
	api  *apiplanner.Server
	log  logger.Logger

	mu   sync.RWMutex
	snap *model.Snapshot
}

// New creates a Service from the configuration. When MQTT is enabled, sensor
// snapshots arrive on the state topic; otherwise the loop evaluates whatever
// snapshot was last injected via Inject.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	var sinks []coremetrics.Sink
	if cfg.Metrics.Prometheus.Enabled {
		sinks = append(sinks, metrics.NewPromSink())
	}
	if cfg.Metrics.Influx.Enabled {
		sink, err := metrics.NewInfluxSink(cfg.Metrics.Influx, logger.New("influx"))
		if err != nil {
			logg.Errorf("influx sink unavailable, metrics degraded: %v", err)
		} else {
			sinks = append(sinks, sink)
		}
	}
	var sink coremetrics.Sink = coremetrics.NopSink{}
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	engine := planner.New(cfg.Planner, logger.New("planner"), sink)

	svc := &Service{
		Engine: engine,
		cfg:    cfg,
		bus:    eventbus.New(),
		sink:   sink,
		log:    logg,
	}
	svc.Loop = planner.NewLoop(cfg.Loop, engine, svc.source, logger.New("loop"))
	svc.Loop.OnCycle(svc.publishDecision)

	if cfg.MQTT.Enabled {
		client, err := mqtt.NewPahoClient(cfg.MQTT, svc.handleCommand, svc.Inject)
		if err != nil {
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
		svc.pub = client
	}
	if cfg.API.Enabled {
		svc.api = apiplanner.NewServer(cfg.API.Addr, engine, svc.Loop, svc.overrideChanged)
	}
	return svc, nil
}

// Inject stores a sensor snapshot as the loop's input and requests an
// immediate evaluation.
func (s *Service) Inject(snap model.Snapshot) {
	s.mu.Lock()
	s.snap = &snap
	s.mu.Unlock()
	s.Loop.Trigger()
}

func (s *Service) source(ctx context.Context) (model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return model.Snapshot{Time: time.Now()}, nil
	}
	return *s.snap, nil
}

func (s *Service) handleCommand(cmd mqtt.Command) {
	if cmd.Permissive != nil {
		s.Engine.SetPermissive(*cmd.Permissive)
		s.log.Infof("permissive mode set to %v via mqtt", *cmd.Permissive)
		s.Loop.Trigger()
		return
	}
	target, err := override.ParseTarget(cmd.Target)
	if err != nil {
		s.log.Errorf("command rejected: %v", err)
		return
	}
	if cmd.Clear {
		s.Engine.Overrides().Clear(target)
		s.overrideChanged(events.OverrideChanged{Time: time.Now(), Target: string(target), Set: false})
		s.Loop.Trigger()
		return
	}
	action, err := override.ParseAction(cmd.Action)
	if err != nil {
		s.log.Errorf("command rejected: %v", err)
		return
	}
	ov := s.Engine.Overrides().Set(target, action, time.Duration(cmd.DurationMinutes)*time.Minute)
	s.overrideChanged(events.OverrideChanged{Time: time.Now(), ID: ov.ID, Target: string(target), Action: string(action), Set: true})
	s.Loop.Trigger()
}

func (s *Service) overrideChanged(ev events.OverrideChanged) {
	s.sink.RecordOverride(ev)
	s.bus.Publish(ev)
	if s.pub != nil {
		if err := s.pub.PublishOverride(ev); err != nil {
			s.log.Errorf("publish override: %v", err)
		}
	}
}

func (s *Service) publishDecision(dec planner.Decision) {
	ev := events.Evaluation{
		Time:                dec.Time,
		BatteryShouldCharge: dec.BatteryShouldCharge,
		BatteryReason:       dec.BatteryReason,
		CarShouldCharge:     dec.CarShouldCharge,
		CarReason:           dec.CarReason,
		ChargerLimitW:       dec.ChargerLimitW,
		GridSetpointW:       dec.GridSetpointW,
		FeedInShouldEnable:  dec.FeedInShouldEnable,
		SolarSurplusW:       dec.Diagnostics.Allocation.SolarSurplusW,
	}
	if dec.Diagnostics.Price.Available {
		cur := dec.Diagnostics.Price.Current
		ev.CurrentPrice = &cur
	}
	if dec.Diagnostics.Battery.Available {
		soc := dec.Diagnostics.Battery.AverageSoC
		ev.AverageSoC = &soc
	}
	s.bus.Publish(ev)
	if s.pub != nil {
		if err := s.pub.PublishDecision(ev); err != nil {
			s.log.Errorf("publish decision: %v", err)
		}
	}
}

// Bus exposes the internal event bus for additional subscribers.
func (s *Service) Bus() eventbus.EventBus { return s.bus }

// Run starts the loop and servers and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.cfg.Metrics.Prometheus.Enabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.Prometheus.Addr); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	if s.api != nil {
		go func() {
			if err := s.api.Start(ctx); err != nil {
				s.log.Errorf("api server: %v", err)
			}
		}()
	}
	err := s.Loop.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if s.pub != nil {
		s.pub.Disconnect()
	}
	s.bus.Close()
	return s.sink.Close()
}
