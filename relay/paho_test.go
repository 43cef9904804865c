package relay

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func TestPahoClientOptions(t *testing.T) {
	c := &PahoClient{
		cfg: MQTTConfig{
			BrokerURL: "tcp://broker.local:1883",
			ClientID:  "power-relay-1",
			Username:  "rider",
			Password:  "secret",
			KeepAlive: 30 * time.Second,
		},
		logger: zerolog.Nop(),
	}

	opts := c.clientOptions()
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://broker.local:1883", opts.Servers[0].String())
	assert.Equal(t, "power-relay-1", opts.ClientID)
	assert.Equal(t, "rider", opts.Username)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, int64(30), opts.KeepAlive)
	assert.True(t, opts.AutoReconnect)
	assert.True(t, opts.ConnectRetry)
	assert.True(t, opts.Order)
	assert.Equal(t, 10*time.Second, opts.ConnectTimeout)
}

func TestPahoClientCopiesPayload(t *testing.T) {
	var got []byte
	c := &PahoClient{handler: func(p []byte) { got = p }, logger: zerolog.Nop()}

	buf := []byte(`{"rx_time":1.5,"payload":"12 01 01 3C 00 08 2F 03"}`)
	c.onMessage(nil, &fakeMessage{topic: "power/frames", payload: buf})
	buf[0] = 'X'

	rx, payload, err := ParseFrameMessage(got)
	require.NoError(t, err)
	assert.Equal(t, 1.5, rx)
	assert.Equal(t, []byte{0x12, 0x01, 0x01, 0x3C, 0x00, 0x08, 0x2F, 0x03}, payload)
}

func TestNewPahoClientRequiresBroker(t *testing.T) {
	_, err := NewPahoClient(MQTTConfig{}, nil, zerolog.Nop())
	require.Error(t, err)
}
