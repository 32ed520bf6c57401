// simnode simulates one DC load node on the mesh topic layout: it accepts
// the node-native commands, models a PWM load on a 12 V rail, and replies
// the way real firmware does (chunked frames from its unicast address).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/justinkk04/BLE-mesh-networking-sub001/common"
	"github.com/justinkk04/BLE-mesh-networking-sub001/mesh"
)

const (
	nominalVoltage = 12.0
	mwPerPercent   = 50.0
	rampStep       = 5
	rampInterval   = 100 * time.Millisecond
)

type loadNode struct {
	mu       sync.Mutex
	running  bool
	duty     int // current PWM duty
	setpoint int // commanded duty while running
}

func (n *loadNode) handle(command string) string {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch {
	case command == "r":
		n.running = true
		if n.setpoint == 0 {
			n.setpoint = 50
		}
		return "running"
	case command == "s":
		n.running = false
		return "stopped"
	case strings.HasPrefix(command, "duty:"):
		v, err := strconv.Atoi(strings.TrimPrefix(command, "duty:"))
		if err != nil || v < 0 || v > 100 {
			return fmt.Sprintf("ERROR:UNKNOWN_CMD:%s", command)
		}
		n.setpoint = v
		n.running = v > 0
		return n.telemetryLocked()
	case command == "read":
		return n.telemetryLocked()
	default:
		return fmt.Sprintf("ERROR:UNKNOWN_CMD:%s", command)
	}
}

// step moves the PWM one ramp increment toward the setpoint (or zero when
// stopped), like the firmware's soft-start ramp.
func (n *loadNode) step() {
	n.mu.Lock()
	defer n.mu.Unlock()

	target := 0
	if n.running {
		target = n.setpoint
	}
	switch {
	case n.duty < target:
		n.duty += rampStep
		if n.duty > target {
			n.duty = target
		}
	case n.duty > target:
		n.duty -= rampStep
		if n.duty < target {
			n.duty = target
		}
	}
}

func (n *loadNode) telemetryLocked() string {
	// Small measurement jitter so readings look alive.
	voltage := nominalVoltage + (rand.Float64()-0.5)*0.2
	power := float64(n.duty) * mwPerPercent * (1 + (rand.Float64()-0.5)*0.04)
	current := 0.0
	if voltage > 0 {
		current = power / voltage
	}
	return fmt.Sprintf("D:%d%%,V:%.3fV,I:%.1fmA,P:%.1fmW", n.duty, voltage, current, power)
}

func main() {
	var id int
	var broker string
	var prefix string
	flag.IntVar(&id, "id", 0, "node id")
	flag.StringVar(&broker, "broker", "tcp://localhost:1883", "mqtt broker url")
	flag.StringVar(&prefix, "prefix", "dcmesh", "mesh topic prefix")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("node", id)

	if id < 0 || id >= mesh.MaxNodes {
		logger.Error("node id out of range")
		os.Exit(1)
	}
	addr := mesh.NodeAddr(id)

	u, err := url.Parse(broker)
	if err != nil {
		logger.Error("parse broker url", "error", err)
		os.Exit(1)
	}

	node := &loadNode{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	unicastTopic := fmt.Sprintf("%s/node/%04x", prefix, uint16(addr))
	groupTopic := fmt.Sprintf("%s/group/%04x", prefix, uint16(mesh.GroupAddr))
	replyTopic := fmt.Sprintf("%s/reply/%04x", prefix, uint16(addr))

	var conn *autopaho.ConnectionManager

	reply := func(payload string) {
		for _, chunk := range mesh.SplitFrames([]byte(payload)) {
			if _, err := conn.Publish(ctx, &paho.Publish{QoS: 1, Topic: replyTopic, Payload: chunk}); err != nil {
				logger.Warn("reply publish failed", "error", err)
				return
			}
		}
	}

	router := paho.NewStandardRouter()
	onCommand := func(p *paho.Publish) {
		command := strings.TrimSpace(string(p.Payload))
		logger.Info("command", "payload", command)
		reply(node.handle(command))
	}
	router.RegisterHandler(unicastTopic, onCommand)
	router.RegisterHandler(groupTopic, onCommand)

	cliCfg := autopaho.ClientConfig{
		BrokerUrls: []*url.URL{u},
		KeepAlive:  20,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			logger.Info("mqtt connection up")
			if _, err := cm.Subscribe(context.Background(), &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{
					{Topic: unicastTopic, QoS: 1},
					{Topic: groupTopic, QoS: 1},
				},
			}); err != nil {
				logger.Error("subscribe failed", "error", err)
			}
		},
		OnConnectError: func(err error) {
			logger.Warn("mqtt connection attempt failed", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: fmt.Sprintf("simnode-%d", id),
			Router:   router,
		},
	}

	if conn, err = autopaho.NewConnection(ctx, cliCfg); err != nil {
		logger.Error("mqtt connection", "error", err)
		os.Exit(1)
	}
	if err = conn.AwaitConnection(ctx); err != nil {
		logger.Error("mqtt connect", "error", err)
		os.Exit(1)
	}
	defer conn.Disconnect(context.Background())

	var ramp common.Ticker
	ramp.Start(rampInterval, node.step)
	defer ramp.Stop()

	logger.Info("simnode up", "addr", addr.String())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("simnode shutting down")
}
