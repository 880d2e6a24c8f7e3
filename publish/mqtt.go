// Package publish forwards smoothed distances to an MQTT broker.
package publish

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"ranging-go/config"
	"ranging-go/distance"
)

const publishTimeout = 2 * time.Second

// Message is the retained payload on <prefix>/<peer>/distance.
type Message struct {
	Peer            string  `json:"peer"`
	TimestampMs     int64   `json:"ts"`
	Distance        float64 `json:"distance"`
	RawDistance     float64 `json:"rawDistance"`
	FilteredRssi    float64 `json:"filteredRssi"`
	Confidence      float64 `json:"confidence"`
	Method          string  `json:"method"`
	VelocityLimited bool    `json:"velocityLimited"`
}

// Publisher publishes completed pipeline updates. A nil client disables
// publishing so the engine runs without a broker.
type Publisher struct {
	client mqtt.Client
	prefix string
	qos    byte
	retain bool
}

func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = "ranging"
	}
	return &Publisher{client: client, prefix: prefix, qos: 0, retain: true}
}

// Connect dials the configured broker. It returns a nil publisher and no
// error when no broker is configured.
func Connect(cfg config.MQTTConfig) (*Publisher, error) {
	if cfg.Broker == "" {
		log.Println("MQTT disabled: no broker configured")
		return nil, nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Printf("MQTT connected to %s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("MQTT connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Broker, token.Error())
	}
	return NewPublisher(client, cfg.Prefix), nil
}

// Topic returns the distance topic for peer.
func (p *Publisher) Topic(peer string) string {
	return fmt.Sprintf("%s/%s/distance", p.prefix, topicSafe.Replace(peer))
}

var topicSafe = strings.NewReplacer("/", "_", "+", "_", "#", "_")

// Publish sends u when it carries a completed result. Updates still
// filling a batch are skipped.
func (p *Publisher) Publish(peer string, u distance.Update) error {
	if p == nil || u.Result == nil || u.Smoothed == nil {
		return nil
	}
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(Message{
		Peer:            peer,
		TimestampMs:     u.Sample.TimestampMs,
		Distance:        u.Smoothed.Distance,
		RawDistance:     u.Result.Distance,
		FilteredRssi:    u.Result.FilteredRssi,
		Confidence:      u.Result.Confidence,
		Method:          u.Result.Method,
		VelocityLimited: u.Smoothed.VelocityLimited,
	})
	if err != nil {
		return fmt.Errorf("marshaling distance: %w", err)
	}

	topic := p.Topic(peer)
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

func (p *Publisher) Close() {
	if p == nil || p.client == nil {
		return
	}
	p.client.Disconnect(250)
}
