/*Package channel models the pub/sub document store the integration talks to.

A channel belongs to an agent and carries a JSON aggregate - the merged
snapshot of everything published to it - plus an optional message history.
There is no schema enforcement beyond "JSON document".
*/
package channel

import (
	"context"
	"errors"
	"time"
)

// Well-known channel names.
const (
	UIState        = "ui_state"
	UICmds         = "ui_cmds"
	WSSConnections = "ui_state@wss_connections"
	Location       = "location"
	OEMUplink      = "dm_oem_uplink_recv"
	Events         = "dm_events"
	OnEvent        = "on_dm_event"
	SerialLookup   = "dm_serial_lookup"
	CrashLogs      = "crash_logs"
	Notifications  = "dm_service_notifications"
)

// ErrNotFound is returned when a channel has no aggregate yet.
var ErrNotFound = errors.New("channel: not found")

// Document is an arbitrary JSON document.
type Document = map[string]interface{}

// Message is one entry of a channel's message history.
type Message struct {
	ID        string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Document  `json:"payload"`
}

// Store gives access to channel aggregates and message histories. The
// at-most-one-writer property for aggregates is assumed to be provided by
// the store itself; concurrent publishes for the same agent are an accepted
// last-publish-wins inconsistency window.
type Store interface {
	// GetAggregate returns the current aggregate of the channel, or
	// ErrNotFound if nothing has ever been published to it.
	GetAggregate(ctx context.Context, agentID, name string) (Document, error)
	// Publish merges doc into the channel's aggregate. With saveLog the
	// message is also appended to the channel's history.
	Publish(ctx context.Context, agentID, name string, doc Document, saveLog bool) error
	// MessagesInWindow returns the logged messages with start <= timestamp < end,
	// oldest first.
	MessagesInWindow(ctx context.Context, agentID, name string, start, end time.Time) ([]Message, error)
}

// Agent is one entry of the agent directory.
type Agent struct {
	ID               string   `json:"agent"`
	DeploymentConfig Document `json:"deployment_config"`
}

// Directory lists the device agents of the tenant.
type Directory interface {
	ListAgents(ctx context.Context) ([]Agent, error)
}

// ConnectionStatus classifies device liveness for the connection reporter.
type ConnectionStatus string

// Connection status values.
const (
	StatusOnline          ConnectionStatus = "online"
	StatusOffline         ConnectionStatus = "offline"
	StatusPeriodicUnknown ConnectionStatus = "periodic_unknown"
)

// ConnectionReporter marks device liveness. Opaque to the core.
type ConnectionReporter interface {
	PingConnection(ctx context.Context, agentID string, onlineAt time.Time, status ConnectionStatus, offlineAt time.Time) error
}

// MergeAggregate applies a published document to an aggregate: a null value
// deletes the key, nested documents merge recursively, anything else
// replaces. The input documents are not modified.
func MergeAggregate(aggregate, doc Document) Document {
	merged := Document{}
	for k, v := range aggregate {
		merged[k] = v
	}
	for k, v := range doc {
		if v == nil {
			delete(merged, k)
			continue
		}
		subDoc, ok := v.(map[string]interface{})
		if !ok {
			merged[k] = v
			continue
		}
		subAgg, ok := merged[k].(map[string]interface{})
		if !ok {
			subAgg = Document{}
		}
		merged[k] = MergeAggregate(subAgg, subDoc)
	}
	return merged
}
