// Package mqtt is a supervised interface (spec component C) bridging MQTT
// topics into the connection graph: every configured topic's payload is
// written into a named graph object as it arrives.
package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/shc-project/shc/internal/base"
	"github.com/shc-project/shc/internal/config"
)

// Interface implements supervisor.Interface over an MQTT broker connection.
// Each configured topic is mapped to a graph object; every message received
// on that topic is written to the object as a string, with a fresh origin.
type Interface struct {
	cfg     config.MQTTConfig
	targets map[string]base.Writable // topic -> object
	logger  *slog.Logger

	mu sync.Mutex
	cm *autopaho.ConnectionManager
}

// New constructs an MQTT interface. targets maps each configured topic name
// to the graph object that receives its payloads; topics in cfg.Topics with
// no matching entry in targets are still subscribed, with a warning at
// Subscribe time, and the messages received on them are dropped.
func New(cfg config.MQTTConfig, targets map[string]base.Writable, logger *slog.Logger) *Interface {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interface{cfg: cfg, targets: targets, logger: logger}
}

// Name implements supervisor.Interface.
func (i *Interface) Name() string {
	if i.cfg.Name != "" {
		return i.cfg.Name
	}
	return "mqtt"
}

// Connect dials the broker and blocks until the first connection succeeds
// or ctx expires. Subsequent reconnects are driven by the InterfaceSupervisor
// calling Connect again after a Disconnect, not by autopaho's own retry loop
// (autopaho's ConnectRetryDelay is left at its default but is superseded in
// practice by the supervisor's own backoff, since Disconnect tears the
// connection manager down between attempts).
func (i *Interface) Connect(ctx context.Context) error {
	brokerURL, err := url.Parse(i.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("parse broker_url: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: i.cfg.Username,
		ConnectPassword: []byte(i.cfg.Password),
		OnConnectError: func(err error) {
			i.logger.Warn("mqtt connection error", "interface", i.Name(), "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: i.cfg.ClientID,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	if err := cm.AwaitConnection(ctx); err != nil {
		_ = cm.Disconnect(ctx)
		return fmt.Errorf("await mqtt connection: %w", err)
	}

	i.mu.Lock()
	i.cm = cm
	i.mu.Unlock()
	return nil
}

// Run registers the inbound message handler and signals ready immediately —
// the connection established by Connect already accepts traffic. It blocks
// until ctx is cancelled.
func (i *Interface) Run(ctx context.Context, ready func()) error {
	i.mu.Lock()
	cm := i.cm
	i.mu.Unlock()
	if cm == nil {
		return fmt.Errorf("mqtt: Run called before a successful Connect")
	}

	cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
		target, ok := i.targets[pr.Packet.Topic]
		if !ok {
			return true, nil
		}
		if err := target.Write(ctx, string(pr.Packet.Payload), base.NewOrigin()); err != nil {
			i.logger.Warn("mqtt payload rejected by graph object",
				"interface", i.Name(), "topic", pr.Packet.Topic, "error", err)
		}
		return true, nil
	})

	ready()
	<-ctx.Done()
	return nil
}

// Subscribe sends SUBSCRIBE packets for every configured topic. Run on
// every (re-)connect since the broker does not remember subscriptions
// across a session loss.
func (i *Interface) Subscribe(ctx context.Context) error {
	i.mu.Lock()
	cm := i.cm
	i.mu.Unlock()
	if cm == nil {
		return fmt.Errorf("mqtt: Subscribe called before a successful Connect")
	}
	if len(i.cfg.Topics) == 0 {
		return nil
	}

	opts := make([]paho.SubscribeOptions, 0, len(i.cfg.Topics))
	for topic := range i.cfg.Topics {
		if _, ok := i.targets[topic]; !ok {
			i.logger.Warn("mqtt topic has no matching graph object, subscribing anyway", "topic", topic)
		}
		opts = append(opts, paho.SubscribeOptions{Topic: topic, QoS: 0})
	}

	_, err := cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: opts})
	if err != nil {
		return fmt.Errorf("mqtt subscribe: %w", err)
	}
	return nil
}

// Disconnect tears down the broker connection. Idempotent.
func (i *Interface) Disconnect(ctx context.Context) error {
	i.mu.Lock()
	cm := i.cm
	i.cm = nil
	i.mu.Unlock()
	if cm == nil {
		return nil
	}
	return cm.Disconnect(ctx)
}
