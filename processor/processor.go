/*Package processor reacts to decoded telemetry on behalf of one device
agent: it maintains the agent's UI state, publishes locations, projects
service estimates and reports device liveness.
*/
package processor

import (
	"context"
	"errors"
	"time"

	"github.com/getdoover/digital-matter/channel"
	"github.com/getdoover/digital-matter/core/logger"
	"github.com/getdoover/digital-matter/core/metrics"
	"github.com/getdoover/digital-matter/dm"
	"github.com/getdoover/digital-matter/ui"
)

// Deployment-config keys read by the processor.
const (
	ConfigOdoOffset      = "ODO_OFFSET"
	ConfigRunHoursOffset = "MACHINE_HOURS_OFFSET"
)

const offlineGrace = time.Hour

// Builder holds the dependencies of a Processor.
type Builder struct {
	// AgentID of the device agent this processor works for. Mandatory.
	AgentID string
	// Store for the agent's channels. Mandatory.
	Store channel.Store
	// Reporter for device liveness. Optional.
	Reporter channel.ConnectionReporter
	// Config is the agent's deployment config. Optional.
	Config channel.Document
	// Now overrides the clock, for tests. Optional.
	Now func() time.Time
}

// Processor handles one agent's telemetry lifecycle.
type Processor struct {
	agentID   string
	store     channel.Store
	reporter  channel.ConnectionReporter
	config    channel.Document
	now       func() time.Time
	manager   *ui.Manager
	transport *ui.StoreTransport
	tree      *trackerUI
}

// MustNew returns a new Processor. It panics when mandatory dependencies
// are missing.
func MustNew(b *Builder) *Processor {
	if b.AgentID == "" {
		panic("please specify an agent id")
	}
	if b.Store == nil {
		panic("please specify a channel store")
	}
	now := b.Now
	if now == nil {
		now = time.Now
	}
	p := &Processor{
		agentID:  b.AgentID,
		store:    b.Store,
		reporter: b.Reporter,
		config:   b.Config,
		now:      now,
	}
	p.transport = ui.NewStoreTransport(p.store, p.agentID)
	p.manager = ui.NewManagerAt(p.agentID, p.transport, now)
	p.tree = newTrackerUI(defaultSMSAlertDays)
	p.manager.SetChildren(p.tree.elements()...)
	return p
}

// sync subscribes and downloads the current channel aggregates.
func (p *Processor) sync(ctx context.Context) error {
	if err := p.manager.StartComms(); err != nil {
		return err
	}
	return p.transport.Poll(ctx)
}

func (p *Processor) plan() servicePlan {
	return servicePlan{cmds: p.manager.Commands()}
}

// Deploy publishes the full UI tree for a fresh or re-deployed agent, then
// republishes the OEM uplink aggregate so previously received data gets
// reprocessed against the new tree.
func (p *Processor) Deploy(ctx context.Context) error {
	if err := p.sync(ctx); err != nil {
		return err
	}
	p.tree.serviceAlerts.SetDisplayString(smsAlertDisplay(p.plan().smsAlertDays()))
	if err := p.manager.HandleComms(ctx, true); err != nil {
		return err
	}
	metrics.UIFlushes.WithLabelValues("logged").Inc()

	aggregate, err := p.store.GetAggregate(ctx, p.agentID, channel.OEMUplink)
	if errors.Is(err, channel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return p.store.Publish(ctx, p.agentID, channel.OEMUplink, aggregate, false)
}

// HandleUplink folds one decoded telemetry event into the agent's UI
// state, publishes its location, refreshes the service projection and
// pings the connection reporter.
func (p *Processor) HandleUplink(ctx context.Context, event dm.Event) error {
	rlog := logger.FromContext(ctx)
	if err := p.sync(ctx); err != nil {
		return err
	}

	runHours := p.offsetValue(ctx, event, "run_hours", ConfigRunHoursOffset)
	odometer := p.offsetValue(ctx, event, "odometer_km", ConfigOdoOffset)

	p.updateTree(event, runHours, odometer)

	if position, ok := event["position"].(map[string]interface{}); ok {
		if err := p.store.Publish(ctx, p.agentID, channel.Location, position, true); err != nil {
			return err
		}
	}

	if ignitionOn, ok := event.Bool("ignition_on"); ok {
		speed, hasSpeed := event.Float("speed_kmh")
		display, icon := machineStatus(ignitionOn, speed, hasSpeed)
		p.manager.SetDisplayString(display)
		p.manager.SetStatusIcon(icon)
		p.manager.RecordCriticalValue("ignition_on", ignitionOn)
	}

	plan := p.plan()
	rates := AverageRates(ctx, p.store, p.agentID, plan.rateWindowDays(), p.now)
	if rates.HoursPerDay != nil {
		p.tree.aveHoursPerDay.SetValue(*rates.HoursPerDay)
	}
	if rates.KmsPerDay != nil {
		p.tree.aveKmsPerDay.SetValue(*rates.KmsPerDay)
	}

	estimate := NextServiceEstimate(p.now(), runHours, odometer, rates, plan)
	if !estimate.IsZero() {
		p.tree.nextServiceEst.SetValue(FormatServiceEstimate(estimate))
	}
	p.tree.serviceAlerts.SetDisplayString(smsAlertDisplay(plan.smsAlertDays()))
	if err := maybeSendServiceAlert(ctx, p.store, p.agentID, estimate, plan.smsAlertDays(), p.now); err != nil {
		rlog.WithError(err).Warn("cannot send service alert")
	}

	if p.reporter != nil {
		err := p.reporter.PingConnection(ctx, p.agentID, p.now(),
			channel.StatusPeriodicUnknown, p.now().Add(offlineGrace))
		if err != nil {
			rlog.WithError(err).Warn("cannot ping connection")
		}
	}

	if err := p.manager.HandleComms(ctx, true); err != nil {
		return err
	}
	metrics.UIFlushes.WithLabelValues("logged").Inc()
	return nil
}

// offsetValue reads a metric from the event and applies the configured
// deployment offset. A nil result means the event did not carry the metric.
func (p *Processor) offsetValue(ctx context.Context, event dm.Event, key, configKey string) *float64 {
	value, ok := event.Float(key)
	if !ok {
		return nil
	}
	if offset, ok := p.config[configKey].(float64); ok {
		logger.FromContext(ctx).Debugf("applying %s of %v", configKey, offset)
		value += offset
	}
	return &value
}

func (p *Processor) updateTree(event dm.Event, runHours, odometer *float64) {
	if runHours != nil {
		p.tree.runHours.SetValue(*runHours)
	}
	if odometer != nil {
		p.tree.odometer.SetValue(*odometer)
	}
	if position, ok := event["position"].(map[string]interface{}); ok {
		p.tree.location.SetValue(position)
	}
	if v, ok := event.Float("speed_kmh"); ok {
		p.tree.speed.SetValue(v)
	}
	if v, ok := event.Bool("ignition_on"); ok {
		p.tree.ignitionOn.SetValue(v)
	}
	if v, ok := event.Float("gps_accuracy_m"); ok {
		p.tree.gpsAccuracy.SetValue(v)
	}
	if v, ok := event.Float("system_voltage"); ok {
		p.tree.sysVoltage.SetValue(v)
	}
	if v, ok := event.Float("battery_voltage"); ok {
		p.tree.battVoltage.SetValue(v)
	}
	if v, ok := event.Float("signal_strength_percent"); ok {
		p.tree.signalStrength.SetValue(v)
	}
	if v, ok := event.Float("device_temp_c"); ok {
		p.tree.deviceTemp.SetValue(v)
	}
	if v, ok := event.String("uplink_reason"); ok {
		p.tree.uplinkReason.SetValue(v)
	}
	if v, ok := event.String("device_time_utc"); ok {
		p.tree.deviceTimeUTC.SetValue(v)
	}
}

// machineStatus maps ignition and speed to the headline status. A machine
// with ignition on but no meaningful speed counts as idle.
func machineStatus(ignitionOn bool, speed float64, hasSpeed bool) (display, icon string) {
	switch {
	case !ignitionOn:
		return "Off", "off"
	case !hasSpeed || speed <= 1:
		return "Idle", "idle"
	default:
		return "Running", ""
	}
}
