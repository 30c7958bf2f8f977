package device

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/DrmagicE/gmqtt"
	"github.com/DrmagicE/gmqtt/pkg/packets"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/getdoover/digital-matter/channel"
	"github.com/getdoover/digital-matter/core/logger"
)

// Broker is the MQTT broker terminating device links. Devices authenticate
// with client certificates whose common name is their agent id; each device
// may only touch its own dm/<agent>/... topics.
type Broker struct {
	p *plugin
}

// BrokerBuilder holds the dependencies of a Broker.
type BrokerBuilder struct {
	// Store backing the channels. Mandatory.
	Store channel.Store
	// CACertFile is the X.509 certificate of the certificate authority.
	// Mandatory.
	CACertFile string
	// CertFile is the broker's X.509 certificate. Mandatory.
	CertFile string
	// KeyFile is the broker's X.509 private key. Mandatory.
	KeyFile string
	// Address to listen on, default ":8883".
	Address string
}

type plugin struct {
	tlsln    net.Listener
	store    channel.Store
	service  gmqtt.Server
	agentsMu sync.RWMutex
	agents   map[net.Conn]uuid.UUID
}

// MustNewBroker returns a new broker. The broker does not run until Run is
// called. It panics when mandatory dependencies are missing.
func MustNewBroker(bb *BrokerBuilder) *Broker {
	if bb.Store == nil {
		panic("please specify a channel store")
	}
	if bb.CACertFile == "" || bb.CertFile == "" || bb.KeyFile == "" {
		panic("please specify the broker certificates")
	}
	address := bb.Address
	if address == "" {
		address = ":8883"
	}

	crt, err := tls.LoadX509KeyPair(bb.CertFile, bb.KeyFile)
	if err != nil {
		panic(err)
	}
	caCert, err := os.ReadFile(bb.CACertFile)
	if err != nil {
		panic(err)
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		panic("cannot parse ca certificate")
	}

	tlsln, err := tls.Listen("tcp", address, &tls.Config{
		Certificates: []tls.Certificate{crt},
		ClientCAs:    caCertPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
	})
	if err != nil {
		panic(err)
	}

	return &Broker{
		p: &plugin{
			tlsln:  tlsln,
			store:  bb.Store,
			agents: make(map[net.Conn]uuid.UUID),
		},
	}
}

// Run is blocking and serves device links until SIGTERM.
func (b *Broker) Run() {
	s := gmqtt.NewServer(
		gmqtt.WithTCPListener(b.p.tlsln),
		gmqtt.WithPlugin(b.p),
	)
	s.Run()

	logger.Default().Info("device broker started")
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	<-signalCh
	s.Stop(context.Background())
	logger.Default().Info("device broker stopped")
}

// Load implements the gmqtt plugin interface.
func (p *plugin) Load(service gmqtt.Server) error {
	p.service = service
	return nil
}

// Unload implements the gmqtt plugin interface.
func (p *plugin) Unload() error { return nil }

// Name implements the gmqtt plugin interface.
func (p *plugin) Name() string { return "device channel broker" }

// HookWrapper implements the gmqtt plugin interface.
func (p *plugin) HookWrapper() gmqtt.HookWrapper {
	return gmqtt.HookWrapper{
		OnAcceptWrapper:     p.OnAcceptWrapper,
		OnConnectWrapper:    p.OnConnectWrapper,
		OnSubscribeWrapper:  p.OnSubscribeWrapper,
		OnSubscribedWrapper: p.OnSubscribedWrapper,
		OnMsgArrivedWrapper: p.OnMsgArrivedWrapper,
	}
}

func (p *plugin) agentIDFromConnection(conn net.Conn) uuid.UUID {
	p.agentsMu.RLock()
	defer p.agentsMu.RUnlock()
	return p.agents[conn]
}

// OnAcceptWrapper authorizes devices via their TLS client certificate.
func (p *plugin) OnAcceptWrapper(accept gmqtt.OnAccept) gmqtt.OnAccept {
	return func(ctx context.Context, conn net.Conn) bool {
		tlsConn, ok := conn.(*tls.Conn)
		if ok {
			if err := tlsConn.Handshake(); err != nil {
				return false
			}
			state := tlsConn.ConnectionState()
			commonName := state.VerifiedChains[0][0].Subject.CommonName
			agentID, err := uuid.Parse(commonName)
			if err != nil {
				logger.Default().Warnf("invalid agent id in certificate: %s", commonName)
				return false
			}
			p.agentsMu.Lock()
			p.agents[conn] = agentID
			p.agentsMu.Unlock()
			logger.Default().Infof("accept %s", commonName)
		}
		return accept(ctx, conn)
	}
}

// OnConnectWrapper enforces that the MQTT client id matches the
// certificate common name.
func (p *plugin) OnConnectWrapper(connect gmqtt.OnConnect) gmqtt.OnConnect {
	return func(ctx context.Context, client gmqtt.Client) (code uint8) {
		agentID := p.agentIDFromConnection(client.Connection())
		if client.OptionsReader().ClientID() != agentID.String() {
			logger.Default().Warnf("connect denied, %s not authorized", client.OptionsReader().ClientID())
			return packets.CodeNotAuthorized
		}
		return connect(ctx, client)
	}
}

// OnSubscribeWrapper restricts devices to their own aggregate topics.
func (p *plugin) OnSubscribeWrapper(subscribe gmqtt.OnSubscribe) gmqtt.OnSubscribe {
	return func(ctx context.Context, client gmqtt.Client, topic packets.Topic) (qos uint8) {
		agentID := client.OptionsReader().ClientID()
		if !strings.HasPrefix(topic.Name, topicPrefix+"/"+agentID+"/") ||
			!strings.HasSuffix(topic.Name, "/aggregate") {
			logger.Default().Warnf("subscription to %s denied for %s", topic.Name, agentID)
			return packets.SUBSCRIBE_FAILURE
		}
		return subscribe(ctx, client, topic)
	}
}

// OnSubscribedWrapper pushes the current aggregate to a fresh subscriber.
func (p *plugin) OnSubscribedWrapper(subscribed gmqtt.OnSubscribed) gmqtt.OnSubscribed {
	return func(ctx context.Context, client gmqtt.Client, topic packets.Topic) {
		agentID := client.OptionsReader().ClientID()
		name := strings.TrimSuffix(strings.TrimPrefix(topic.Name, topicPrefix+"/"+agentID+"/"), "/aggregate")
		p.pushAggregate(ctx, agentID, name)
		subscribed(ctx, client, topic)
	}
}

// OnMsgArrivedWrapper folds device patches into the channel store and
// pushes the merged aggregate back out.
func (p *plugin) OnMsgArrivedWrapper(arrived gmqtt.OnMsgArrived) gmqtt.OnMsgArrived {
	return func(ctx context.Context, client gmqtt.Client, msg packets.Message) (valid bool) {
		agentID := client.OptionsReader().ClientID()
		topic := msg.Topic()
		prefix := topicPrefix + "/" + agentID + "/"
		if !strings.HasPrefix(topic, prefix) || strings.HasSuffix(topic, "/aggregate") {
			logger.Default().Warnf("publish to %s denied for %s", topic, agentID)
			return false
		}
		name := strings.TrimPrefix(topic, prefix)
		if strings.Contains(name, "/") {
			logger.Default().Warnf("invalid channel name %s", name)
			return false
		}

		var env envelope
		if err := json.Unmarshal(msg.Payload(), &env); err != nil || env.Payload == nil {
			logger.Default().Warnf("invalid patch on %s", topic)
			return false
		}
		if err := p.store.Publish(ctx, agentID, name, env.Payload, env.SaveLog); err != nil {
			logger.Default().WithError(err).Errorf("cannot store patch for %s/%s", agentID, name)
			return false
		}
		p.pushAggregate(ctx, agentID, name)
		return arrived(ctx, client, msg)
	}
}

func (p *plugin) pushAggregate(ctx context.Context, agentID, name string) {
	aggregate, err := p.store.GetAggregate(ctx, agentID, name)
	if errors.Is(err, channel.ErrNotFound) {
		return
	}
	if err != nil {
		logger.Default().WithError(err).Errorf("cannot read aggregate %s/%s", agentID, name)
		return
	}
	body, err := json.Marshal(aggregate)
	if err != nil {
		logger.Default().WithError(err).Error("cannot marshal aggregate")
		return
	}
	topic := topicPrefix + "/" + agentID + "/" + name + "/aggregate"
	p.service.PublishService().Publish(gmqtt.NewMessage(topic, body, packets.QOS_1))
}
