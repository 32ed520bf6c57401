// Package mqtt carries mesh frames over an MQTT broker. The gateway radio
// bridges broker topics to the wireless mesh; from this side every frame is
// a retained-free QoS 1 publish.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/justinkk04/BLE-mesh-networking-sub001/common"
	"github.com/justinkk04/BLE-mesh-networking-sub001/mesh"
)

// Transport implements mesh.Transport over MQTT.
//
// Topic layout under the configured prefix:
//
//	<prefix>/node/<addr>   outbound unicast frames
//	<prefix>/group/<addr>  outbound group frames
//	<prefix>/reply/<addr>  inbound frames, one topic per source address
//
// Addresses are four hex digits. Each (re)connection signals the resets
// channel so frame reassembly never spans broker sessions.
type Transport struct {
	config *common.Config
	cliCfg autopaho.ClientConfig
	conn   *autopaho.ConnectionManager
	router paho.Router
	frames chan mesh.Frame
	resets chan struct{}
	log    *slog.Logger
}

func NewTransport(config *common.Config, log *slog.Logger) (*Transport, error) {
	u, err := url.Parse(config.Broker)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}

	t := &Transport{
		config: config,
		router: paho.NewStandardRouter(),
		frames: make(chan mesh.Frame, 64),
		resets: make(chan struct{}, 1),
		log:    log.With("component", "mqtt"),
	}

	replyFilter := fmt.Sprintf("%s/reply/+", config.TopicPrefix)
	t.router.RegisterHandler(replyFilter, t.handleReply)

	t.cliCfg = autopaho.ClientConfig{
		BrokerUrls: []*url.URL{u},
		KeepAlive:  20,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
			t.log.Info("mqtt connection up", "broker", config.Broker)
			if _, err := cm.Subscribe(context.Background(), &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{{Topic: replyFilter, QoS: 1}},
			}); err != nil {
				t.log.Error("reply subscription failed", "error", err)
				return
			}
			select {
			case t.resets <- struct{}{}:
			default:
			}
		},
		OnConnectError: func(err error) {
			t.log.Warn("mqtt connection attempt failed", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: config.ClientId,
			Router:   t.router,
			OnClientError: func(err error) {
				t.log.Warn("mqtt client error", "error", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				if d.Properties != nil {
					t.log.Warn("server requested disconnect", "reason", d.Properties.ReasonString)
				} else {
					t.log.Warn("server requested disconnect", "reasonCode", d.ReasonCode)
				}
			},
		},
	}

	return t, nil
}

// Open connects to the broker and blocks until the first connection is up.
func (t *Transport) Open(ctx context.Context) error {
	conn, err := autopaho.NewConnection(ctx, t.cliCfg)
	if err != nil {
		return err
	}
	if err := conn.AwaitConnection(ctx); err != nil {
		return err
	}
	t.conn = conn
	return nil
}

func (t *Transport) handleReply(p *paho.Publish) {
	addr, err := parseReplyTopic(t.config.TopicPrefix, p.Topic)
	if err != nil {
		t.log.Warn("ignoring message on unparsable topic", "topic", p.Topic, "error", err)
		return
	}

	payload := make([]byte, len(p.Payload))
	copy(payload, p.Payload)

	select {
	case t.frames <- mesh.Frame{Source: addr, Payload: payload}:
	default:
		t.log.Warn("frame channel full, dropping frame", "source", addr.String())
	}
}

func (t *Transport) Send(ctx context.Context, to mesh.Addr, payload []byte) error {
	_, err := t.conn.Publish(ctx, &paho.Publish{
		QoS:     1,
		Topic:   sendTopic(t.config.TopicPrefix, to),
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", to, err)
	}
	return nil
}

func (t *Transport) Frames() <-chan mesh.Frame {
	return t.frames
}

func (t *Transport) Resets() <-chan struct{} {
	return t.resets
}

func (t *Transport) Close(ctx context.Context) error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Disconnect(ctx)
}

func sendTopic(prefix string, to mesh.Addr) string {
	if to.IsGroup() {
		return fmt.Sprintf("%s/group/%04x", prefix, uint16(to))
	}
	return fmt.Sprintf("%s/node/%04x", prefix, uint16(to))
}

func replyTopic(prefix string, from mesh.Addr) string {
	return fmt.Sprintf("%s/reply/%04x", prefix, uint16(from))
}

func parseReplyTopic(prefix, topic string) (mesh.Addr, error) {
	rest, ok := strings.CutPrefix(topic, prefix+"/reply/")
	if !ok {
		return 0, fmt.Errorf("topic %q outside reply space", topic)
	}
	v, err := strconv.ParseUint(rest, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("bad address in topic %q", topic)
	}
	return mesh.Addr(v), nil
}
