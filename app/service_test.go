package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voltplan/voltplan/config"
	"github.com/voltplan/voltplan/core/events"
	"github.com/voltplan/voltplan/core/model"
	"github.com/voltplan/voltplan/core/override"
	"github.com/voltplan/voltplan/infra/mqtt"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := &config.Config{}
	cfg.Planner.SetDefaults()
	cfg.Loop.Interval = time.Hour
	cfg.Loop.MinSpacing = time.Millisecond
	svc, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func testSnapshot() model.Snapshot {
	return model.Snapshot{
		Time: time.Now(),
		Prices: model.PriceSnapshot{
			Current:   model.Float(0.10),
			HighToday: model.Float(0.40),
			LowToday:  model.Float(0.08),
		},
		Batteries: []model.BatteryReading{{ID: "b1", SoC: 40, CapacityKWh: 10}},
	}
}

func TestInjectTriggersEvaluation(t *testing.T) {
	svc := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		svc.Inject(testSnapshot())
		dec, ok := svc.Loop.Last()
		return ok && dec.Diagnostics.Price.Available
	}, time.Second, 10*time.Millisecond)
}

func TestDecisionPublishedOnBusAndBroker(t *testing.T) {
	svc := newTestService(t)
	pub := mqtt.NewMockPublisher()
	svc.pub = pub
	sub := svc.Bus().Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		svc.Inject(testSnapshot())
		return pub.Count() > 0
	}, time.Second, 10*time.Millisecond)

	select {
	case e := <-sub:
		ev, ok := e.(events.Evaluation)
		require.True(t, ok)
		require.NotEmpty(t, ev.BatteryReason)
	case <-time.After(time.Second):
		t.Fatal("no evaluation on bus")
	}
}

func TestCommandSetsOverride(t *testing.T) {
	svc := newTestService(t)

	svc.handleCommand(mqtt.Command{Target: "battery", Action: "force_charge", DurationMinutes: 10})
	ov, ok := svc.Engine.Overrides().Get(override.TargetBattery)
	require.True(t, ok)
	require.Equal(t, override.ForceCharge, ov.Action)

	svc.handleCommand(mqtt.Command{Target: "battery", Clear: true})
	_, ok = svc.Engine.Overrides().Get(override.TargetBattery)
	require.False(t, ok)
}

func TestCommandTogglesPermissive(t *testing.T) {
	svc := newTestService(t)
	on := true
	svc.handleCommand(mqtt.Command{Permissive: &on})
	require.True(t, svc.Engine.Permissive())
	off := false
	svc.handleCommand(mqtt.Command{Permissive: &off})
	require.False(t, svc.Engine.Permissive())
}

func TestMalformedCommandLeavesStateAlone(t *testing.T) {
	svc := newTestService(t)
	svc.handleCommand(mqtt.Command{Target: "toaster", Action: "force_charge"})
	require.Empty(t, svc.Engine.Overrides().Active())
}

func TestOverrideChangeReachesBroker(t *testing.T) {
	svc := newTestService(t)
	pub := mqtt.NewMockPublisher()
	svc.pub = pub

	svc.handleCommand(mqtt.Command{Target: "car", Action: "force_block"})
	require.Len(t, pub.Overrides, 1)
	require.True(t, pub.Overrides[0].Set)
	require.Equal(t, "car", pub.Overrides[0].Target)
}
