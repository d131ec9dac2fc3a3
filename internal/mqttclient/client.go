package mqttclient

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

type MessageHandler func(topic string, payload []byte)

// Client is a paho connection that subscribes to the transcription request
// topic and publishes transcription events.
type Client struct {
	conn      mqtt.Client
	prefix    string
	connected atomic.Bool
	log       zerolog.Logger
	handler   atomic.Pointer[MessageHandler]
}

type Options struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Log         zerolog.Logger
}

// RequestTopic is where transcription requests arrive.
func RequestTopic(prefix string) string { return topicPrefix(prefix) + "/transcribe/request" }

// EventTopic is where generated transcriptions are announced.
func EventTopic(prefix string) string { return topicPrefix(prefix) + "/transcription" }

func topicPrefix(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return "voxarchive"
	}
	return p
}

func Connect(opts Options) (*Client, error) {
	c := &Client{
		prefix: topicPrefix(opts.TopicPrefix),
		log:    opts.Log,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetDefaultPublishHandler(c.onMessage)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", opts.BrokerURL, err)
	}

	return c, nil
}

// SetMessageHandler installs the handler for request messages. It may be
// called after Connect; messages arriving before it are logged and dropped.
func (c *Client) SetMessageHandler(h MessageHandler) {
	c.handler.Store(&h)
}

// onConnect subscribes on every (re)connect since the session is not
// persistent.
func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)
	topic := RequestTopic(c.prefix)
	c.log.Info().Str("topic", topic).Msg("mqtt connected, subscribing")

	token := client.Subscribe(topic, 1, nil)
	token.Wait()
	if err := token.Error(); err != nil {
		c.log.Error().Err(err).Msg("mqtt subscribe failed")
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if h := c.handler.Load(); h != nil {
		(*h)(msg.Topic(), msg.Payload())
		return
	}
	c.log.Debug().
		Str("topic", msg.Topic()).
		Int("payload_size", len(msg.Payload())).
		Msg("mqtt message received before handler was set")
}

// Publish sends v as JSON at QoS 1 without waiting for the broker ack.
func (c *Client) Publish(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	if !c.IsConnected() {
		return fmt.Errorf("mqtt not connected, dropping %s", topic)
	}
	c.conn.Publish(topic, 1, false, payload)
	return nil
}

// Prefix returns the normalized topic prefix.
func (c *Client) Prefix() string { return c.prefix }

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}
