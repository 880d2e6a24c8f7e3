package publish

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ranging-go/config"
	"ranging-go/distance"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

type fakeClient struct {
	mu         sync.Mutex
	connected  bool
	publishErr error
	messages   []published
	disconnect bool
}

func (c *fakeClient) IsConnected() bool      { return c.connected }
func (c *fakeClient) IsConnectionOpen() bool { return c.connected }
func (c *fakeClient) Connect() mqtt.Token    { return &fakeToken{} }
func (c *fakeClient) Disconnect(uint)        { c.disconnect = true }
func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic, qos, retained, payload.([]byte)})
	return &fakeToken{err: c.publishErr}
}
func (c *fakeClient) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token {
	return &fakeToken{}
}
func (c *fakeClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return &fakeToken{}
}
func (c *fakeClient) Unsubscribe(...string) mqtt.Token        { return &fakeToken{} }
func (c *fakeClient) AddRoute(string, mqtt.MessageHandler)    {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func completedUpdate() distance.Update {
	return distance.Update{
		Sample:       distance.Sample{TimestampMs: 4200, Rssi: -61},
		Accepted:     true,
		FilteredRssi: -60,
		Result: &distance.DistanceResult{
			Distance:     10,
			FilteredRssi: -60,
			Confidence:   0.91,
			Method:       distance.MethodClustered,
		},
		Smoothed: &distance.SmoothedResult{Distance: 9.2, IsSmoothed: true, VelocityLimited: true},
	}
}

func TestPublisher_PublishesCompletedUpdate(t *testing.T) {
	client := &fakeClient{connected: true}
	p := NewPublisher(client, "lab")

	require.NoError(t, p.Publish("10.0.0.7:5000", completedUpdate()))
	require.Len(t, client.messages, 1)

	m := client.messages[0]
	assert.Equal(t, "lab/10.0.0.7:5000/distance", m.topic)
	assert.Equal(t, byte(0), m.qos)
	assert.True(t, m.retain)

	var msg Message
	require.NoError(t, json.Unmarshal(m.payload, &msg))
	assert.Equal(t, Message{
		Peer:            "10.0.0.7:5000",
		TimestampMs:     4200,
		Distance:        9.2,
		RawDistance:     10,
		FilteredRssi:    -60,
		Confidence:      0.91,
		Method:          distance.MethodClustered,
		VelocityLimited: true,
	}, msg)
}

func TestPublisher_SkipsPartialBatches(t *testing.T) {
	client := &fakeClient{connected: true}
	p := NewPublisher(client, "")
	assert.NoError(t, p.Publish("peer", distance.Update{Accepted: true}))
	assert.Empty(t, client.messages)
}

func TestPublisher_NotConnected(t *testing.T) {
	p := NewPublisher(&fakeClient{}, "")
	assert.Error(t, p.Publish("peer", completedUpdate()))

	p = NewPublisher(nil, "")
	assert.Error(t, p.Publish("peer", completedUpdate()))
}

func TestPublisher_PublishError(t *testing.T) {
	client := &fakeClient{connected: true, publishErr: errors.New("broker gone")}
	err := NewPublisher(client, "").Publish("peer", completedUpdate())
	assert.ErrorContains(t, err, "broker gone")
	assert.ErrorContains(t, err, "ranging/peer/distance")
}

func TestPublisher_NilIsDisabled(t *testing.T) {
	var p *Publisher
	assert.NoError(t, p.Publish("peer", completedUpdate()))
	p.Close()
}

func TestPublisher_TopicSanitised(t *testing.T) {
	p := NewPublisher(nil, "r")
	assert.Equal(t, "r/a_b_c_d/distance", p.Topic("a/b+c#d"))
}

func TestPublisher_Close(t *testing.T) {
	client := &fakeClient{connected: true}
	NewPublisher(client, "").Close()
	assert.True(t, client.disconnect)
}

func TestConnect_DisabledWithoutBroker(t *testing.T) {
	p, err := Connect(config.MQTTConfig{})
	assert.NoError(t, err)
	assert.Nil(t, p)
}
