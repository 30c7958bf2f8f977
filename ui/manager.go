package ui

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/getdoover/digital-matter/channel"
	"github.com/getdoover/digital-matter/core/logger"
)

// State is the lifecycle state of a Manager.
type State int

const (
	// StateUninitialized means StartComms has not run yet.
	StateUninitialized State = iota
	// StateSubscribed means the channels are subscribed but the remote
	// state has not been downloaded.
	StateSubscribed
	// StateSynced means the remote UI state aggregate has been received
	// at least once.
	StateSynced
)

const (
	defaultMinLogPeriod    = 600 * time.Second
	defaultMinUpdatePeriod = 4 * time.Second
)

// Transport moves channel aggregates between the Manager and wherever the
// UI state lives, either a channel store or a device link.
type Transport interface {
	// Subscribe registers interest in a channel. The callback receives the
	// channel name and the current aggregate whenever it changes.
	Subscribe(name string, callback func(name string, aggregate channel.Document)) error
	// Publish merges a patch into the channel aggregate.
	Publish(ctx context.Context, name string, patch channel.Document, saveLog bool) error
	// Online reports whether updates can currently be delivered.
	Online() bool
}

// logTracker decides when a state flush must be recorded in the message
// log: immediately after a critical value changes, and at least once per
// minimum log period.
type logTracker struct {
	minPeriod      time.Duration
	criticalValues map[string]interface{}
	logRequired    bool
	lastLog        time.Time
	now            func() time.Time
}

func newLogTracker(now func() time.Time) *logTracker {
	return &logTracker{
		minPeriod:      defaultMinLogPeriod,
		criticalValues: map[string]interface{}{},
		logRequired:    true,
		lastLog:        now(),
		now:            now,
	}
}

func (t *logTracker) recordValue(name string, value interface{}) {
	previous, seen := t.criticalValues[name]
	if seen && reflect.DeepEqual(previous, value) {
		return
	}
	t.criticalValues[name] = value
	t.logRequired = true
}

func (t *logTracker) isLogRequired() bool {
	return t.logRequired || t.now().Sub(t.lastLog) >= t.minPeriod
}

func (t *logTracker) recordLogSent() {
	t.logRequired = false
	t.lastLog = t.now()
}

// Manager owns the declarative UI tree of one agent and reconciles it with
// the remote UI state and command aggregates. All methods are safe for
// concurrent use; transport callbacks may arrive on any goroutine.
type Manager struct {
	mu        sync.Mutex
	agentID   string
	transport Transport
	state     State

	root *Container

	lastUIState    channel.Document
	lastUICmds     channel.Document
	wssConnections channel.Document

	coercions map[string]interface{}
	onCmds    []func(cmds channel.Document)

	log             *logTracker
	minUpdatePeriod time.Duration
	lastUpdateSent  time.Time
	now             func() time.Time
}

// NewManager returns a manager for the given agent. The root container
// starts empty.
func NewManager(agentID string, transport Transport) *Manager {
	return NewManagerAt(agentID, transport, time.Now)
}

// NewManagerAt is NewManager with an injected clock.
func NewManagerAt(agentID string, transport Transport, now func() time.Time) *Manager {
	return &Manager{
		agentID:         agentID,
		transport:       transport,
		root:            NewContainer("", ""),
		coercions:       map[string]interface{}{},
		log:             newLogTracker(now),
		minUpdatePeriod: defaultMinUpdatePeriod,
		now:             now,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StartComms subscribes to the UI state, command and observer channels and
// moves the manager to StateSubscribed.
func (m *Manager) StartComms() error {
	for _, name := range []string{channel.UIState, channel.UICmds, channel.WSSConnections} {
		if err := m.transport.Subscribe(name, m.recvChannelUpdate); err != nil {
			return err
		}
	}
	m.mu.Lock()
	if m.state == StateUninitialized {
		m.state = StateSubscribed
	}
	m.mu.Unlock()
	return nil
}

func (m *Manager) recvChannelUpdate(name string, aggregate channel.Document) {
	m.mu.Lock()
	var notify []func(cmds channel.Document)
	var cmds channel.Document
	switch name {
	case channel.UIState:
		m.lastUIState = aggregate
		if m.state == StateSubscribed {
			m.state = StateSynced
		}
	case channel.UICmds:
		m.lastUICmds = aggregate
		cmds = m.downloadedCmdsLocked()
		// a coercion has done its job once the remote agrees with it
		for name, coerced := range m.coercions {
			if value, ok := cmds[name]; ok && reflect.DeepEqual(value, coerced) {
				delete(m.coercions, name)
			}
		}
		notify = append(notify, m.onCmds...)
	case channel.WSSConnections:
		m.wssConnections = aggregate
	}
	m.mu.Unlock()

	for _, callback := range notify {
		callback(cmds)
	}
}

// OnCommandsUpdate registers a callback invoked with the full downloaded
// command set whenever the command aggregate changes.
func (m *Manager) OnCommandsUpdate(callback func(cmds channel.Document)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCmds = append(m.onCmds, callback)
}

// SetChildren replaces the root container's children.
func (m *Manager) SetChildren(children ...Element) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.root.SetChildren(children)
}

// AddChildren appends children to the root container.
func (m *Manager) AddChildren(children ...Element) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, child := range children {
		m.root.AddChild(child)
	}
}

// SetDisplayString sets the root display string, the headline summary.
func (m *Manager) SetDisplayString(displayStr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.root.SetDisplayString(displayStr)
}

// SetStatusIcon sets the root status icon, "" clears it.
func (m *Manager) SetStatusIcon(statusIcon string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.root.SetStatusIcon(statusIcon)
}

// SetMinLogPeriod overrides how long the manager may go without recording
// a state flush in the message log.
func (m *Manager) SetMinLogPeriod(period time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log.minPeriod = period
}

// RecordCriticalValue notes a value whose change forces the next flush to
// be logged regardless of the minimum log period.
func (m *Manager) RecordCriticalValue(name string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log.recordValue(name, value)
}

// Commands returns a copy of the full downloaded command set.
func (m *Manager) Commands() channel.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmds := channel.Document{}
	for name, value := range m.downloadedCmdsLocked() {
		cmds[name] = value
	}
	return cmds
}

// Command returns the downloaded value of a named command.
func (m *Manager) Command(name string) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.downloadedCmdsLocked()[name]
	return value, ok
}

// CoerceCommand forces a command to the given value on the next flush. The
// coercion clears itself once the downloaded value agrees.
func (m *Manager) CoerceCommand(name string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coercions[name] = value
}

// IsBeingObserved reports whether anyone beyond the device itself holds a
// live connection to this agent's UI.
func (m *Manager) IsBeingObserved() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isObservedLocked()
}

func (m *Manager) downloadedCmdsLocked() channel.Document {
	cmds, _ := m.lastUICmds["cmds"].(map[string]interface{})
	return cmds
}

// CmdsUpdate computes the command reconciliation patch: stale commands
// whose element no longer exists are nulled out, coercions are overlaid,
// and unchanged keys are dropped. A nil result means nothing to send.
func (m *Manager) CmdsUpdate() channel.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cmdsUpdateLocked()
}

func (m *Manager) cmdsUpdateLocked() channel.Document {
	downloaded := m.downloadedCmdsLocked()
	update := channel.Document{}
	for name, value := range downloaded {
		update[name] = value
	}

	wanted := map[string]bool{}
	for _, name := range InteractionNames(m.root) {
		wanted[name] = true
	}
	for name := range downloaded {
		if !wanted[name] {
			update[name] = nil
		}
	}
	for name, value := range m.coercions {
		update[name] = value
	}
	for name, value := range update {
		if previous, ok := downloaded[name]; ok && reflect.DeepEqual(previous, value) {
			delete(update, name)
		}
	}
	if len(update) == 0 {
		return nil
	}
	return update
}

// StateUpdate computes the state patch that brings the remote UI state
// aggregate in line with the local tree. A nil result means no change.
func (m *Manager) StateUpdate() channel.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateUpdateLocked()
}

func (m *Manager) stateUpdateLocked() channel.Document {
	desired := channel.Document{"state": m.root.Serialize()}
	current := m.lastUIState
	if current == nil {
		current = channel.Document{}
	}
	patch := JSONUpdate(map[string]interface{}(current), map[string]interface{}(desired)).(map[string]interface{})
	if len(patch) == 0 {
		return nil
	}
	return channel.Document(patch)
}

// HandleComms is the periodic tick: it flushes pending updates when a log
// is due or when an observer is watching and the minimum UI update period
// has passed. With force set a logged flush happens unconditionally.
func (m *Manager) HandleComms(ctx context.Context, force bool) error {
	m.mu.Lock()
	logRequired := force || m.log.isLogRequired()
	observed := m.isObservedLocked()
	if m.lastUpdateSent.IsZero() || m.now().Sub(m.lastUpdateSent) < m.minUpdatePeriod {
		observed = false
	}
	if !logRequired && !observed {
		m.mu.Unlock()
		return nil
	}
	if m.state == StateUninitialized || !m.transport.Online() {
		m.mu.Unlock()
		logger.FromContext(ctx).Debug("skipping ui flush, transport not ready")
		return nil
	}
	cmdsPatch := m.cmdsUpdateLocked()
	statePatch := m.stateUpdateLocked()

	// optimistically apply so a burst of ticks does not resend
	if statePatch != nil {
		merged := channel.MergeAggregate(m.lastUIState, statePatch)
		m.lastUIState = merged
	}
	m.lastUpdateSent = m.now()
	if logRequired {
		m.log.recordLogSent()
	}
	m.mu.Unlock()

	if cmdsPatch != nil {
		err := m.transport.Publish(ctx, channel.UICmds, channel.Document{"cmds": cmdsPatch}, true)
		if err != nil {
			return err
		}
	}
	if statePatch != nil {
		if err := m.transport.Publish(ctx, channel.UIState, statePatch, logRequired); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) isObservedLocked() bool {
	connections, _ := m.wssConnections["connections"].(map[string]interface{})
	return len(connections) > 1
}
