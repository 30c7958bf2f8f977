package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/getdoover/digital-matter/channel"
	"github.com/getdoover/digital-matter/dm"
	"github.com/getdoover/digital-matter/routing"
)

const deliveryPayload = `{
	"SerNo": 812981,
	"Records": [{
		"Reason": 11,
		"DateUTC": "2025-06-15 01:02:03",
		"SeqNo": 1,
		"Fields": [
			{"FType": 27, "Odo": 12345678, "RH": 7200},
			{"FType": 2, "DIn": 1}
		]
	}]
}`

func newTestIntegration(t *testing.T) (*Integration, *channel.MemoryStore) {
	t.Helper()
	store := channel.NewMemoryStore()
	i := MustNew(&Builder{Store: store, Directory: store, OwnerAgentID: "owner"})
	return i, store
}

func TestHandleIngestionRoutesEvents(t *testing.T) {
	ctx := context.Background()
	i, store := newTestIntegration(t)
	store.AddAgent(channel.Agent{ID: "agent-a", DeploymentConfig: channel.Document{routing.DeploymentKey: "812981"}})

	if err := i.HandleIngestion(ctx, []byte(deliveryPayload)); err != nil {
		t.Fatal(err)
	}

	// the raw delivery is archived under the owner agent
	archive, err := store.GetAggregate(ctx, "owner", channel.OEMUplink)
	if err != nil {
		t.Fatal(err)
	}
	if archive["SerNo"] != 812981.0 {
		t.Fatal("unexpected archive:", archive)
	}

	// the decoded event lands on the owner's event log and on the device
	// agent's own event channel, stamped with the serial number
	for _, target := range []struct{ agentID, name string }{
		{"owner", channel.Events},
		{"agent-a", channel.OnEvent},
	} {
		event, err := store.GetAggregate(ctx, target.agentID, target.name)
		if err != nil {
			t.Fatal(target.name, err)
		}
		if event["serial_number"] != "812981" {
			t.Fatal("event not stamped with serial:", event)
		}
		if event["run_hours"] != 2.0 {
			t.Fatal("unexpected run hours:", event["run_hours"])
		}
		if event["ignition_on"] != true {
			t.Fatal("unexpected ignition:", event["ignition_on"])
		}
		if event["uplink_reason"] != "Heartbeat" {
			t.Fatal("unexpected reason:", event["uplink_reason"])
		}
	}
}

// a serial no agent claims drops the delivery without failing the caller
func TestHandleIngestionUnmappedSerial(t *testing.T) {
	ctx := context.Background()
	i, store := newTestIntegration(t)

	if err := i.HandleIngestion(ctx, []byte(deliveryPayload)); err != nil {
		t.Fatal(err)
	}

	// archived, but no event written anywhere
	if _, err := store.GetAggregate(ctx, "owner", channel.OEMUplink); err != nil {
		t.Fatal("delivery must still be archived:", err)
	}
	if _, err := store.GetAggregate(ctx, "owner", channel.Events); !errors.Is(err, channel.ErrNotFound) {
		t.Fatal("no event expected:", err)
	}
}

// a record without fields aborts the whole batch, so a delivery is either
// fully applied or not at all
func TestHandleIngestionBatchAbort(t *testing.T) {
	ctx := context.Background()
	i, store := newTestIntegration(t)
	store.AddAgent(channel.Agent{ID: "agent-a", DeploymentConfig: channel.Document{routing.DeploymentKey: "812981"}})

	payload := `{
		"SerNo": 812981,
		"Records": [
			{"Reason": 11, "Fields": [{"FType": 27, "RH": 7200}]},
			{"Reason": 11}
		]
	}`
	if err := i.HandleIngestion(ctx, []byte(payload)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetAggregate(ctx, "owner", channel.Events); !errors.Is(err, channel.ErrNotFound) {
		t.Fatal("no partial events expected:", err)
	}
	if _, err := store.GetAggregate(ctx, "agent-a", channel.OnEvent); !errors.Is(err, channel.ErrNotFound) {
		t.Fatal("no partial events expected:", err)
	}
}

func TestHandleIngestionMalformed(t *testing.T) {
	i, _ := newTestIntegration(t)
	err := i.HandleIngestion(context.Background(), []byte("definitely not a payload"))
	if !errors.Is(err, dm.ErrMalformedPayload) {
		t.Fatal("expected ErrMalformedPayload, got", err)
	}
}

func TestSyncSerials(t *testing.T) {
	ctx := context.Background()
	i, store := newTestIntegration(t)
	store.AddAgent(channel.Agent{ID: "agent-a", DeploymentConfig: channel.Document{routing.DeploymentKey: "407000"}})

	if err := i.SyncSerials(ctx); err != nil {
		t.Fatal(err)
	}
	table, err := routing.Load(ctx, store, "owner")
	if err != nil {
		t.Fatal(err)
	}
	if agentID, err := table.Resolve("407000"); err != nil || agentID != "agent-a" {
		t.Fatal("unexpected mapping:", agentID, err)
	}
}
