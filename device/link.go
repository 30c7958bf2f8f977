/*Package device connects on-device agents to the channel system over MQTT.

Devices publish channel patches to dm/<agent>/<channel> and receive fresh
aggregates on dm/<agent>/<channel>/aggregate. The Link implements the UI
manager's transport so device-side code reconciles its UI exactly like a
cloud-side processor does.
*/
package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"

	"github.com/getdoover/digital-matter/channel"
	"github.com/getdoover/digital-matter/core/logger"
	"github.com/getdoover/digital-matter/ui"
)

const (
	topicPrefix    = "dm"
	connectTimeout = 10 * time.Second
	requestTimeout = 5 * time.Second
)

// envelope is the wire format of a device publish.
type envelope struct {
	SaveLog bool             `json:"save_log"`
	Payload channel.Document `json:"payload"`
}

// Link is the device side of the MQTT channel transport. It implements
// the ui.Transport interface.
type Link struct {
	agentID string
	client  mqtt.Client

	mu        sync.Mutex
	connected bool
}

var _ ui.Transport = (*Link)(nil)

// NewLink returns a link for the given agent, not yet connected. The MQTT
// client id is the agent id, which the broker checks against the client
// certificate.
func NewLink(brokerURL, agentID string) *Link {
	l := &Link{agentID: agentID}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(agentID)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Default().WithError(err).Warn("device link lost")
		l.setConnected(false)
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		l.setConnected(true)
	})
	l.client = mqtt.NewClient(opts)
	return l
}

func (l *Link) setConnected(connected bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = connected
}

// Connect dials the broker.
func (l *Link) Connect() error {
	token := l.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("connection to broker timed out")
	}
	return token.Error()
}

// Close disconnects from the broker.
func (l *Link) Close() {
	l.client.Disconnect(250)
	l.setConnected(false)
}

func (l *Link) patchTopic(name string) string {
	return topicPrefix + "/" + l.agentID + "/" + name
}

func (l *Link) aggregateTopic(name string) string {
	return l.patchTopic(name) + "/aggregate"
}

// Subscribe implements ui.Transport. The broker pushes the current
// aggregate immediately after the subscription and again on every change.
func (l *Link) Subscribe(name string, callback func(name string, aggregate channel.Document)) error {
	token := l.client.Subscribe(l.aggregateTopic(name), 1, func(_ mqtt.Client, msg mqtt.Message) {
		var aggregate channel.Document
		if err := json.Unmarshal(msg.Payload(), &aggregate); err != nil {
			logger.Default().WithError(err).Warnf("invalid aggregate on %s", msg.Topic())
			return
		}
		callback(name, aggregate)
	})
	if !token.WaitTimeout(requestTimeout) {
		return fmt.Errorf("subscription to %s timed out", name)
	}
	return token.Error()
}

// Publish implements ui.Transport.
func (l *Link) Publish(ctx context.Context, name string, patch channel.Document, saveLog bool) error {
	body, err := json.Marshal(envelope{SaveLog: saveLog, Payload: patch})
	if err != nil {
		return err
	}
	token := l.client.Publish(l.patchTopic(name), 1, false, body)
	if !token.WaitTimeout(requestTimeout) {
		return fmt.Errorf("publish to %s timed out", name)
	}
	return token.Error()
}

// Online implements ui.Transport.
func (l *Link) Online() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected && l.client.IsConnected()
}
