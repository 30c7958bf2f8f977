/*Package integration receives raw Digital Matter deliveries, decodes them
and routes the resulting events to the owning device agents.

The integration runs under a single tenant agent that owns the shared
channels: the raw uplink archive, the decoded event log and the serial
lookup table. Decoded events are additionally forwarded to each device
agent's own event channel, which triggers that agent's processor.
*/
package integration

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/getdoover/digital-matter/channel"
	"github.com/getdoover/digital-matter/core/logger"
	"github.com/getdoover/digital-matter/core/metrics"
	"github.com/getdoover/digital-matter/dm"
	"github.com/getdoover/digital-matter/routing"
)

// Builder holds the dependencies of an Integration.
type Builder struct {
	// Store for channel access. Mandatory.
	Store channel.Store
	// Directory of the tenant's agents. Mandatory.
	Directory channel.Directory
	// OwnerAgentID is the agent the integration itself runs as, the owner
	// of the shared channels. Mandatory.
	OwnerAgentID string
}

// Integration decodes and routes OEM deliveries.
type Integration struct {
	store        channel.Store
	directory    channel.Directory
	ownerAgentID string
}

// MustNew returns a new Integration. It panics when mandatory dependencies
// are missing.
func MustNew(b *Builder) *Integration {
	if b.Store == nil {
		panic("please specify a channel store")
	}
	if b.Directory == nil {
		panic("please specify an agent directory")
	}
	if b.OwnerAgentID == "" {
		panic("please specify an owner agent id")
	}
	return &Integration{
		store:        b.Store,
		directory:    b.Directory,
		ownerAgentID: b.OwnerAgentID,
	}
}

// SyncSerials rebuilds and publishes the serial lookup table from the
// current agent directory.
func (i *Integration) SyncSerials(ctx context.Context) error {
	_, err := routing.Sync(ctx, i.store, i.directory, i.ownerAgentID)
	return err
}

// HandleIngestion processes one OEM delivery end to end: parse, archive,
// resolve the target agent, decode every record and fan the events out.
//
// A malformed payload is an error for the caller to surface; an unmapped
// serial or a record without fields drops the whole delivery without
// writing any event, so a batch is either fully applied or not at all.
func (i *Integration) HandleIngestion(ctx context.Context, raw []byte) error {
	timer := prometheus.NewTimer(metrics.IngestionDuration)
	defer timer.ObserveDuration()

	rlog := logger.FromContext(ctx)

	payload, err := dm.ParsePayload(raw)
	if err != nil {
		metrics.PayloadsRejected.Inc()
		return err
	}
	serial := payload.SerialNumber()
	rlog = rlog.WithField("serialNumber", serial)

	err = i.store.Publish(ctx, i.ownerAgentID, channel.OEMUplink, channel.Document{
		"SerNo":   payload.SerNo,
		"Records": payload.Records,
	}, true)
	if err != nil {
		return fmt.Errorf("cannot archive uplink: %w", err)
	}

	agentID, err := i.resolveSerial(ctx, serial)
	if err != nil {
		if errors.Is(err, routing.ErrNotFound) {
			rlog.Warn("no agent mapped, dropping delivery")
			metrics.EventsDropped.WithLabelValues("unmapped_serial").Inc()
			return nil
		}
		return err
	}
	rlog = rlog.WithField("agentID", agentID)

	// decode the full batch before writing anything
	events := make([]dm.Event, 0, len(payload.Records))
	for _, record := range payload.Records {
		if record.Fields == nil {
			rlog.Warn("record without fields, dropping delivery")
			metrics.EventsDropped.WithLabelValues("missing_fields").Inc()
			return nil
		}
		event := dm.Decode(record)
		event["serial_number"] = serial
		events = append(events, event)
	}

	for _, event := range events {
		doc := channel.Document(event)
		if err := i.store.Publish(ctx, i.ownerAgentID, channel.Events, doc, true); err != nil {
			return fmt.Errorf("cannot publish event: %w", err)
		}
		if err := i.store.Publish(ctx, agentID, channel.OnEvent, doc, true); err != nil {
			return fmt.Errorf("cannot forward event: %w", err)
		}
		if reason, ok := event.String("uplink_reason"); ok {
			metrics.RecordsDecoded.WithLabelValues(reason).Inc()
		}
	}
	rlog.Infof("routed %d events", len(events))
	return nil
}

// resolveSerial looks the serial up in the published table, rebuilding the
// table once when it does not exist yet.
func (i *Integration) resolveSerial(ctx context.Context, serial string) (string, error) {
	table, err := routing.Load(ctx, i.store, i.ownerAgentID)
	if errors.Is(err, channel.ErrNotFound) {
		table, err = routing.Sync(ctx, i.store, i.directory, i.ownerAgentID)
	}
	if err != nil {
		return "", fmt.Errorf("cannot load serial lookup: %w", err)
	}
	return table.Resolve(serial)
}
