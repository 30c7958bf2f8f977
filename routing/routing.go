/*Package routing resolves inbound device serial numbers to agent ids.

The lookup table is kept as the aggregate of the shared serial-lookup
channel and rebuilt wholesale from all agents' deployment configs.
*/
package routing

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/getdoover/digital-matter/channel"
	"github.com/getdoover/digital-matter/core/logger"
)

// DeploymentKey is the deployment-config key that claims a serial number.
const DeploymentKey = "DM_SERIAL"

// AggregateKey is the key the table is stored under in the lookup
// channel's aggregate.
const AggregateKey = "serial_number_lookup"

// ErrNotFound is returned when a serial number has no agent mapping. The
// caller's policy is to log and drop the event; the miss is not fatal.
var ErrNotFound = errors.New("routing: serial number not mapped")

// Table maps device serial numbers to agent ids.
type Table map[string]string

// Resolve returns the agent id for a serial number.
func (t Table) Resolve(serialNumber string) (string, error) {
	agentID, ok := t[serialNumber]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, serialNumber)
	}
	return agentID, nil
}

// Rebuild builds a fresh table from the agents' deployment configs. Agents
// without a DM_SERIAL key are skipped. When two agents claim the same
// serial the last writer wins; the overwrite is surfaced in the logs only.
func Rebuild(ctx context.Context, agents []channel.Agent) Table {
	rlog := logger.FromContext(ctx)
	table := Table{}
	for _, agent := range agents {
		serial, ok := serialFromConfig(agent.DeploymentConfig)
		if !ok {
			continue
		}
		if previous, claimed := table[serial]; claimed && previous != agent.ID {
			rlog.WithField("serialNumber", serial).
				Warnf("serial claimed by both %s and %s, keeping %s", previous, agent.ID, agent.ID)
		}
		table[serial] = agent.ID
	}
	return table
}

// Sync rebuilds the table from the directory and publishes it wholesale as
// the aggregate of the shared lookup channel, replacing the previous map.
func Sync(ctx context.Context, store channel.Store, directory channel.Directory, ownerAgentID string) (Table, error) {
	agents, err := directory.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot list agents: %w", err)
	}
	table := Rebuild(ctx, agents)

	lookup := map[string]interface{}{}
	for serial, agentID := range table {
		lookup[serial] = agentID
	}
	err = store.Publish(ctx, ownerAgentID, channel.SerialLookup,
		channel.Document{AggregateKey: lookup}, false)
	if err != nil {
		return nil, fmt.Errorf("cannot publish serial lookup: %w", err)
	}
	logger.FromContext(ctx).Infof("synced %d serial mappings", len(table))
	return table, nil
}

// Load reads the table from the lookup channel's aggregate.
func Load(ctx context.Context, store channel.Store, ownerAgentID string) (Table, error) {
	aggregate, err := store.GetAggregate(ctx, ownerAgentID, channel.SerialLookup)
	if err != nil {
		return nil, err
	}
	lookup, ok := aggregate[AggregateKey].(map[string]interface{})
	if !ok {
		return nil, channel.ErrNotFound
	}
	table := Table{}
	for serial, v := range lookup {
		if agentID, ok := v.(string); ok {
			table[serial] = agentID
		}
	}
	return table, nil
}

func serialFromConfig(config channel.Document) (string, bool) {
	v, ok := config[DeploymentKey]
	if !ok {
		return "", false
	}
	switch serial := v.(type) {
	case string:
		return serial, true
	case float64:
		return strconv.FormatFloat(serial, 'f', -1, 64), true
	default:
		return fmt.Sprintf("%v", serial), true
	}
}
