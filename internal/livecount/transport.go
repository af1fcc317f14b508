package livecount

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrClosed is returned by Conn.Read once the transport has been closed.
var ErrClosed = errors.New("livecount: connection closed")

// Conn is one open duplex connection to the device.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, p []byte) error
	Close() error
}

// Dialer opens a Conn to addr. The context bounds the handshake only.
type Dialer func(ctx context.Context, addr string) (Conn, error)

// DialerFor picks a transport from the address scheme: ws/wss use WebSocket,
// mqtt/mqtts/tcp/ssl use MQTT.
func DialerFor(addr, mqttClientID string) (Dialer, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse live-count url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
		return WebSocketDialer(nil), nil
	case "mqtt", "mqtts", "tcp", "ssl":
		return MQTTDialer(mqttClientID), nil
	default:
		return nil, fmt.Errorf("unsupported live-count scheme %q", u.Scheme)
	}
}

// ---------- WebSocket ----------

type wsConn struct {
	c *websocket.Conn
}

// WebSocketDialer dials with coder/websocket. A nil opts uses a 10s HTTP client.
func WebSocketDialer(opts *websocket.DialOptions) Dialer {
	if opts == nil {
		opts = &websocket.DialOptions{HTTPClient: &http.Client{Timeout: 10 * time.Second}}
	}
	return func(ctx context.Context, addr string) (Conn, error) {
		c, _, err := websocket.Dial(ctx, addr, opts)
		if err != nil {
			return nil, fmt.Errorf("websocket dial %s: %w", addr, err)
		}
		// device frames are small; anything above this is garbage
		c.SetReadLimit(64 << 10)
		return &wsConn{c: c}, nil
	}
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, p []byte) error {
	return w.c.Write(ctx, websocket.MessageText, p)
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}

// ---------- MQTT ----------

type mqttConn struct {
	client mqtt.Client
	topic  string
	frames chan []byte
	lost   chan error

	once   sync.Once
	closed chan struct{}
}

// MQTTDialer connects to the broker in addr and subscribes to the topic named
// by the URL path (default "gym/occupancy"). Writes are published to
// "<topic>/cmd". Paho's own reconnect is disabled; the Manager owns retries.
func MQTTDialer(clientID string) Dialer {
	return func(ctx context.Context, addr string) (Conn, error) {
		broker, topic, err := mqttTarget(addr)
		if err != nil {
			return nil, err
		}

		mc := &mqttConn{
			topic:  topic,
			frames: make(chan []byte, 64),
			lost:   make(chan error, 1),
			closed: make(chan struct{}),
		}

		timeout := 10 * time.Second
		if dl, ok := ctx.Deadline(); ok {
			timeout = time.Until(dl)
		}
		opts := mqtt.NewClientOptions().
			AddBroker(broker).
			SetClientID(clientID).
			SetAutoReconnect(false).
			SetConnectRetry(false).
			SetConnectTimeout(timeout).
			SetConnectionLostHandler(func(_ mqtt.Client, err error) {
				select {
				case mc.lost <- err:
				default:
				}
			})
		mc.client = mqtt.NewClient(opts)

		tok := mc.client.Connect()
		if !tok.WaitTimeout(timeout) {
			return nil, fmt.Errorf("mqtt connect %s: timeout", broker)
		}
		if err := tok.Error(); err != nil {
			return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
		}

		sub := mc.client.Subscribe(topic, 0, func(_ mqtt.Client, m mqtt.Message) {
			payload := append([]byte(nil), m.Payload()...)
			select {
			case mc.frames <- payload:
			case <-mc.closed:
			}
		})
		if !sub.WaitTimeout(timeout) || sub.Error() != nil {
			mc.client.Disconnect(0)
			return nil, fmt.Errorf("mqtt subscribe %s: %v", topic, sub.Error())
		}
		return mc, nil
	}
}

func mqttTarget(addr string) (broker, topic string, err error) {
	u, err := url.Parse(addr)
	if err != nil {
		return "", "", fmt.Errorf("parse mqtt url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "mqtt":
		scheme = "tcp"
	case "mqtts":
		scheme = "ssl"
	}
	topic = strings.Trim(u.Path, "/")
	if topic == "" {
		topic = "gym/occupancy"
	}
	return scheme + "://" + u.Host, topic, nil
}

func (m *mqttConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case p := <-m.frames:
		return p, nil
	case err := <-m.lost:
		return nil, fmt.Errorf("mqtt connection lost: %w", err)
	case <-m.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *mqttConn) Write(ctx context.Context, p []byte) error {
	tok := m.client.Publish(m.topic+"/cmd", 0, false, p)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *mqttConn) Close() error {
	m.once.Do(func() {
		close(m.closed)
		m.client.Disconnect(250)
	})
	return nil
}
