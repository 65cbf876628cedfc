// Package mqttswitch is a device type mirroring an MQTT switch. The switch
// reports its state on <topic>/state and accepts commands on <topic>/set.
//
//	define <name> PythonModule mqttswitch <broker> <topic>
package mqttswitch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mfulz/geistbind/interfaces"
	"github.com/mfulz/geistbind/internal/setlist"
)

// Type is the device type name.
const Type = "mqttswitch"

const (
	quiesce        = 250
	hostTimeout    = 10 * time.Second
	connectTimeout = 10 * time.Second
	inboxSize      = 32
)

// ErrNotConnected is returned when a command is issued before Init succeeded.
var ErrNotConnected = errors.New("mqtt client not connected")

func init() {
	interfaces.RegisterHandler(interfaces.Registration{
		Type:    Type,
		Factory: New,
	})
}

// ClientFactory creates the paho client; replaced in tests.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

// Device is one MQTT switch.
type Device struct {
	env       interfaces.Env
	newClient ClientFactory
	sets      setlist.List
	inbox     chan []byte

	mu        sync.Mutex
	client    mqtt.Client
	topic     string
	qos       byte
	mirroring bool
}

// New creates an unconnected device.
func New(env interfaces.Env) (interfaces.Handler, error) {
	return newDevice(env, mqtt.NewClient), nil
}

func newDevice(env interfaces.Env, factory ClientFactory) *Device {
	d := &Device{
		env:       env,
		newClient: factory,
		inbox:     make(chan []byte, inboxSize),
	}
	d.sets = setlist.List{
		{Name: "on", Func: d.publish("on")},
		{Name: "off", Func: d.publish("off")},
	}
	return d
}

// Init connects to the broker named in the definition and starts mirroring
// the switch state.
func (d *Device) Init(ctx context.Context, call *interfaces.Call) (string, error) {
	if len(call.Args) < 5 {
		return "Usage: define <name> PythonModule mqttswitch <broker> <topic>", nil
	}
	broker, topic := call.Args[3], call.Args[4]

	// a redefinition replaces the broker connection
	d.mu.Lock()
	prev := d.client
	d.client = nil
	d.mu.Unlock()
	if prev != nil {
		d.env.Logger.Infof("redefined, closing previous broker connection")
		prev.Disconnect(quiesce)
	}

	call.Hash["BROKER"] = broker
	call.Hash["TOPIC"] = topic

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("geistbind-" + d.env.Name).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		d.mu.Lock()
		qos := d.qos
		d.mu.Unlock()
		c.Subscribe(topic+"/state", qos, func(_ mqtt.Client, m mqtt.Message) {
			select {
			case d.inbox <- m.Payload():
			default:
				d.env.Logger.Warnf("state update dropped, inbox full")
			}
		})
	})

	client := d.newClient(opts)
	if err := wait(ctx, client.Connect()); err != nil {
		return "", fmt.Errorf("connecting to %s: %w", broker, err)
	}

	d.mu.Lock()
	d.client = client
	d.topic = topic
	start := !d.mirroring
	d.mirroring = true
	d.mu.Unlock()

	if start && !d.env.Tasks.Go(d.mirror) {
		d.env.Logger.Warnf("device is shutting down, state not mirrored")
	}
	d.env.Logger.Infof("connected to %s, topic %s", broker, topic)
	return "", d.env.Host.ReadingsSingleUpdate(ctx, d.env.Name, "presence", "online", true)
}

// mirror copies state payloads into the state reading until the device is
// torn down.
func (d *Device) mirror(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-d.inbox:
			hctx, cancel := context.WithTimeout(ctx, hostTimeout)
			err := d.env.Host.ReadingsSingleUpdate(hctx, d.env.Name, "state", string(payload), true)
			cancel()
			if err != nil {
				d.env.Logger.Warnf("state update failed: %v", err)
			}
		}
	}
}

// Teardown disconnects from the broker.
func (d *Device) Teardown(context.Context, *interfaces.Call) error {
	d.mu.Lock()
	client := d.client
	d.client = nil
	d.mu.Unlock()

	if client != nil {
		client.Disconnect(quiesce)
	}
	return nil
}

// OnAttributeChange handles the qos attribute.
func (d *Device) OnAttributeChange(_ context.Context, call *interfaces.Call) (string, error) {
	if len(call.Args) < 3 || call.Args[2] != "qos" {
		return "", nil
	}

	var qos byte
	if call.Args[0] == "set" && len(call.Args) >= 4 {
		v, err := strconv.Atoi(call.Args[3])
		if err != nil || v < 0 || v > 2 {
			return fmt.Sprintf("Invalid qos '%s', use 0, 1 or 2", call.Args[3]), nil
		}
		qos = byte(v)
	}

	d.mu.Lock()
	d.qos = qos
	d.mu.Unlock()
	return "", nil
}

// HandleCommand serves Set.
func (d *Device) HandleCommand(ctx context.Context, name string, call *interfaces.Call) (string, bool, error) {
	if name != "Set" {
		return "", false, nil
	}
	res, err := setlist.Handle(ctx, d.sets, call)
	return res, true, err
}

func (d *Device) publish(payload string) setlist.Func {
	return func(ctx context.Context, _ *interfaces.Call, _ map[string]string) (string, error) {
		d.mu.Lock()
		client, topic, qos := d.client, d.topic, d.qos
		d.mu.Unlock()

		if client == nil {
			return "", ErrNotConnected
		}
		if err := wait(ctx, client.Publish(topic+"/set", qos, false, payload)); err != nil {
			return "", fmt.Errorf("publishing to %s/set: %w", topic, err)
		}
		return "", nil
	}
}

// wait blocks until token completes or ctx is done.
func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
