package processor

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/getdoover/digital-matter/channel"
	"github.com/getdoover/digital-matter/dm"
)

// recordingStore remembers every publish so tests can assert on save_log
// flags and publish order.
type recordingStore struct {
	*channel.MemoryStore
	published []recordedPublish
}

type recordedPublish struct {
	name    string
	doc     channel.Document
	saveLog bool
}

func (s *recordingStore) Publish(ctx context.Context, agentID, name string, doc channel.Document, saveLog bool) error {
	s.published = append(s.published, recordedPublish{name: name, doc: doc, saveLog: saveLog})
	return s.MemoryStore.Publish(ctx, agentID, name, doc, saveLog)
}

func stateChild(t *testing.T, aggregate channel.Document, name string) map[string]interface{} {
	t.Helper()
	state, ok := aggregate["state"].(map[string]interface{})
	if !ok {
		t.Fatal("aggregate has no state:", aggregate)
	}
	children, ok := state["children"].(map[string]interface{})
	if !ok {
		t.Fatal("state has no children:", state)
	}
	child, ok := children[name].(map[string]interface{})
	if !ok {
		t.Fatal("missing child:", name)
	}
	return child
}

func TestDeployPublishesFullTree(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	store := &recordingStore{MemoryStore: channel.NewMemoryStore()}

	uplink := channel.Document{"SerNo": 812981.0}
	if err := store.MemoryStore.Publish(ctx, "agent-1", channel.OEMUplink, uplink, true); err != nil {
		t.Fatal(err)
	}

	p := MustNew(&Builder{AgentID: "agent-1", Store: store, Now: fixedClock(now)})
	if err := p.Deploy(ctx); err != nil {
		t.Fatal(err)
	}

	aggregate, err := store.GetAggregate(ctx, "agent-1", channel.UIState)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{
		"deviceRunHours", "deviceOdometer", "speed",
		"maintenance_submodule", "config_submodule", "details_submodule",
		"node_connection_info",
	} {
		stateChild(t, aggregate, name)
	}

	// previously received telemetry is republished for reprocessing,
	// without logging it again
	last := store.published[len(store.published)-1]
	if last.name != channel.OEMUplink || last.saveLog {
		t.Fatal("unexpected final publish:", last)
	}
	if !reflect.DeepEqual(last.doc, uplink) {
		t.Fatal("unexpected republished uplink:", last.doc)
	}
}

func TestDeployWithoutUplinkHistory(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{MemoryStore: channel.NewMemoryStore()}
	p := MustNew(&Builder{AgentID: "agent-1", Store: store})
	if err := p.Deploy(ctx); err != nil {
		t.Fatal(err)
	}
	for _, pub := range store.published {
		if pub.name == channel.OEMUplink {
			t.Fatal("no uplink republish expected:", pub)
		}
	}
}

func TestHandleUplink(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	store := channel.NewMemoryStore()
	position := map[string]interface{}{"lat": -27.47, "long": 153.02, "alt": 32.0}

	p := MustNew(&Builder{
		AgentID:  "agent-1",
		Store:    store,
		Reporter: store,
		Config: channel.Document{
			ConfigRunHoursOffset: 50.0,
			ConfigOdoOffset:      100.0,
		},
		Now: fixedClock(now),
	})

	event := dm.Event{
		"run_hours":     2.0,
		"odometer_km":   123.0,
		"ignition_on":   true,
		"speed_kmh":     30.0,
		"position":      position,
		"uplink_reason": "Heartbeat",
	}
	if err := p.HandleUplink(ctx, event); err != nil {
		t.Fatal(err)
	}

	aggregate, err := store.GetAggregate(ctx, "agent-1", channel.UIState)
	if err != nil {
		t.Fatal(err)
	}
	if v := stateChild(t, aggregate, "deviceRunHours")["currentValue"]; v != 52.0 {
		t.Fatal("run hours offset not applied:", v)
	}
	if v := stateChild(t, aggregate, "deviceOdometer")["currentValue"]; v != 223.0 {
		t.Fatal("odometer offset not applied:", v)
	}
	state := aggregate["state"].(map[string]interface{})
	if state["displayString"] != "Running" {
		t.Fatal("unexpected display string:", state["displayString"])
	}
	if _, ok := state["statusIcon"]; ok {
		t.Fatal("running machines carry no status icon")
	}

	location, err := store.GetAggregate(ctx, "agent-1", channel.Location)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(location, channel.Document(position)) {
		t.Fatal("unexpected location:", location)
	}

	ping, ok := store.LastPing("agent-1")
	if !ok {
		t.Fatal("connection ping not recorded")
	}
	if ping.Status != channel.StatusPeriodicUnknown || !ping.OnlineAt.Equal(now) || !ping.OfflineAt.Equal(now.Add(time.Hour)) {
		t.Fatal("unexpected ping:", ping)
	}
}

func TestHandleUplinkIdle(t *testing.T) {
	ctx := context.Background()
	store := channel.NewMemoryStore()
	p := MustNew(&Builder{AgentID: "agent-1", Store: store})

	// ignition on but no speed reading counts as idle
	err := p.HandleUplink(ctx, dm.Event{"ignition_on": true, "uplink_reason": "Heartbeat"})
	if err != nil {
		t.Fatal(err)
	}

	aggregate, err := store.GetAggregate(ctx, "agent-1", channel.UIState)
	if err != nil {
		t.Fatal(err)
	}
	state := aggregate["state"].(map[string]interface{})
	if state["displayString"] != "Idle" || state["statusIcon"] != "idle" {
		t.Fatal("unexpected status:", state["displayString"], state["statusIcon"])
	}
}

func TestMachineStatus(t *testing.T) {
	cases := []struct {
		ignitionOn    bool
		speed         float64
		hasSpeed      bool
		display, icon string
	}{
		{false, 0, false, "Off", "off"},
		{false, 30, true, "Off", "off"},
		{true, 0, false, "Idle", "idle"},
		{true, 0.5, true, "Idle", "idle"},
		{true, 1.5, true, "Running", ""},
	}
	for _, c := range cases {
		display, icon := machineStatus(c.ignitionOn, c.speed, c.hasSpeed)
		if display != c.display || icon != c.icon {
			t.Fatalf("machineStatus(%v, %v, %v) = %q, %q", c.ignitionOn, c.speed, c.hasSpeed, display, icon)
		}
	}
}
