// Package mqttlayer implements the far layer over MQTT using
// github.com/eclipse/paho.mqtt.golang. The connect handler fires on
// every successful (re)connection so the attached bridge can replay its
// subscription set.
package mqttlayer

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/davidb137/spsp/pkg/node"
)

// Config holds the MQTT broker connection parameters.
type Config struct {
	Broker   string // e.g. "tcp://localhost:1883"
	ClientID string
	Username string
	Password string

	ConnectTimeout time.Duration
	QoS            byte

	Logger zerolog.Logger
}

func (c *Config) setDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
}

// Layer is a far layer backed by an MQTT broker connection.
type Layer struct {
	cfg    Config
	client mqtt.Client

	receiverMu sync.Mutex
	receiver   node.FarReceiver
	onConnect  func()
}

// New connects to the configured broker. Construction fails with a
// wrapped error (a "ConnectionError" per the error handling design) if the
// initial connection cannot be established within ConnectTimeout.
func New(cfg Config) (*Layer, error) {
	cfg.setDefaults()
	l := &Layer{cfg: cfg}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetOnConnectHandler(l.handleConnect)

	l.client = mqtt.NewClient(opts)
	tok := l.client.Connect()
	if !tok.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("mqttlayer: connect to %s: timed out", cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqttlayer: connect to %s: %w", cfg.Broker, err)
	}
	return l, nil
}

// Attach wires the node that receives upward delivery, and the hook
// invoked on every successful (re)connection so the bridge can
// ResubscribeAll.
func (l *Layer) Attach(receiver node.FarReceiver, onConnect func()) {
	l.receiverMu.Lock()
	l.receiver = receiver
	l.onConnect = onConnect
	l.receiverMu.Unlock()
}

func (l *Layer) handleConnect(mqtt.Client) {
	l.receiverMu.Lock()
	hook := l.onConnect
	l.receiverMu.Unlock()
	if hook != nil {
		hook()
	}
}

// Publish waits for the publish token to complete and reports whether it
// completed without error. At QoS 0 that involves no broker
// acknowledgement; at QoS 1 or 2 it waits for the broker's acknowledgement.
func (l *Layer) Publish(source, topic string, payload []byte) bool {
	tok := l.client.Publish(topic, l.cfg.QoS, false, payload)
	return tok.Wait() && tok.Error() == nil
}

// Subscribe blocks until the broker acknowledges the subscription.
func (l *Layer) Subscribe(topic string) bool {
	tok := l.client.Subscribe(topic, l.cfg.QoS, l.deliver)
	tok.Wait()
	return tok.Error() == nil
}

// Unsubscribe blocks until the broker acknowledges the unsubscription.
func (l *Layer) Unsubscribe(topic string) bool {
	tok := l.client.Unsubscribe(topic)
	tok.Wait()
	return tok.Error() == nil
}

func (l *Layer) deliver(_ mqtt.Client, msg mqtt.Message) {
	l.receiverMu.Lock()
	receiver := l.receiver
	l.receiverMu.Unlock()
	if receiver != nil {
		receiver.ReceiveFar(msg.Topic(), msg.Payload())
	}
}

// Close disconnects from the broker.
func (l *Layer) Close() {
	l.client.Disconnect(250)
}
