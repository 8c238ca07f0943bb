// Package mqttlink connects the box to an MQTT broker. Inbound messages
// on the device's own topic are treated as remote console commands, so a
// box can be driven from anywhere the broker reaches.
package mqttlink

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/littlebox/littlebox/internal/dispatch"
	"github.com/littlebox/littlebox/internal/manager"
	"github.com/littlebox/littlebox/internal/registry"
	"github.com/littlebox/littlebox/internal/settings"
)

// Version is the manager version reported in status output.
const Version = "2.1.0"

// Message is the payload of the mqtt.message event.
type Message struct {
	Topic   string
	Payload string
}

// Manager owns the broker connection. All broker callbacks run on the
// paho client's goroutines and only push into buffered channels; the
// cooperative Update drains them, so manager state is touched from one
// goroutine only.
type Manager struct {
	manager.Base
	rt        manager.Runtime
	now       func() time.Time
	newClient func(*paho.ClientOptions) paho.Client

	host       string
	port       int64
	user       string
	password   string
	deviceName string
	topicBase  string
	topicRecv  string

	client       paho.Client
	connectToken paho.Token
	nextConnect  time.Time

	connCh chan struct{}
	lostCh chan error
	msgCh  chan Message
}

// Definition registers the MQTT link.
func Definition() registry.Definition {
	return registry.Definition{
		Name:    "mqtt",
		Version: Version,
		New: func(rt manager.Runtime) manager.Manager {
			return &Manager{
				Base:      manager.NewBase("mqtt", Version),
				rt:        rt,
				now:       time.Now,
				newClient: paho.NewClient,
				connCh:    make(chan struct{}, 4),
				lostCh:    make(chan error, 4),
				msgCh:     make(chan Message, 32),
			}
		},
	}
}

func (m *Manager) Dependencies() []string { return []string{"net"} }

func (m *Manager) Defaults() settings.Value {
	return settings.MapValue(map[string]settings.Value{
		"enabled":    settings.BoolValue(false),
		"mqtthost":   settings.StringValue(""),
		"mqttport":   settings.IntValue(1883),
		"mqttuser":   settings.StringValue(""),
		"mqttpwd":    settings.StringValue(""),
		"devicename": settings.StringValue("littlebox"),
		"topicbase":  settings.StringValue("lb/data"),
	})
}

func (m *Manager) Setup(merged settings.Value) error {
	host, _ := merged.Key("mqtthost")
	m.host = host.Str()
	if m.host == "" {
		return fmt.Errorf("no broker host configured")
	}
	port, _ := merged.Key("mqttport")
	m.port = port.Int()
	user, _ := merged.Key("mqttuser")
	m.user = user.Str()
	pwd, _ := merged.Key("mqttpwd")
	m.password = pwd.Str()
	name, _ := merged.Key("devicename")
	m.deviceName = name.Str()
	base, _ := merged.Key("topicbase")
	m.topicBase = base.Str()
	m.topicRecv = m.topicBase + "/" + m.deviceName

	m.nextConnect = m.now()
	m.SetState(manager.StateWaiting)
	m.SetStatus(3001, "waiting for broker connection")
	return nil
}

func (m *Manager) Update() error {
	m.drainConnectionEvents()

	if m.client == nil && !m.now().Before(m.nextConnect) {
		m.startConnect()
	}
	m.pollConnectToken()
	m.drainMessages()
	return nil
}

func (m *Manager) startConnect() {
	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", m.host, m.port)).
		SetClientID(m.deviceName).
		SetAutoReconnect(true).
		SetResumeSubs(true)
	if m.user != "" {
		opts.SetUsername(m.user)
		opts.SetPassword(m.password)
	}
	opts.SetOnConnectHandler(func(c paho.Client) {
		c.Subscribe(m.topicRecv, 0, func(_ paho.Client, msg paho.Message) {
			select {
			case m.msgCh <- Message{Topic: msg.Topic(), Payload: string(msg.Payload())}:
			default:
			}
		})
		select {
		case m.connCh <- struct{}{}:
		default:
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		select {
		case m.lostCh <- err:
		default:
		}
	})

	m.client = m.newClient(opts)
	m.connectToken = m.client.Connect()
	m.SetStatus(3002, fmt.Sprintf("connecting to %s:%d", m.host, m.port))
}

func (m *Manager) pollConnectToken() {
	if m.connectToken == nil {
		return
	}
	select {
	case <-m.connectToken.Done():
		err := m.connectToken.Error()
		m.connectToken = nil
		if err != nil {
			m.client = nil
			m.nextConnect = m.now().Add(5 * time.Second)
			m.SetState(manager.StateWaiting)
			m.SetStatus(3004, fmt.Sprintf("connect failed, retrying: %v", err))
			m.rt.Publish("mqtt.disconnected", err)
		}
	default:
	}
}

func (m *Manager) drainConnectionEvents() {
	for {
		select {
		case <-m.connCh:
			m.SetState(manager.StateOK)
			m.SetStatus(3003, fmt.Sprintf("connected as %s, listening on %s", m.deviceName, m.topicRecv))
			m.rt.Publish("mqtt.connected", m.deviceName)
		case err := <-m.lostCh:
			m.SetState(manager.StateWaiting)
			m.SetStatus(3005, fmt.Sprintf("connection lost: %v", err))
			m.rt.Publish("mqtt.disconnected", err)
		default:
			return
		}
	}
}

func (m *Manager) drainMessages() {
	for {
		select {
		case msg := <-m.msgCh:
			m.rt.Publish("mqtt.message", msg)
			if msg.Topic == m.topicRecv {
				m.runRemoteCommand(msg.Payload)
			}
		default:
			return
		}
	}
}

// runRemoteCommand treats a payload on the device topic as one console
// line. Failures go to status; a bad remote command must never take the
// link down.
func (m *Manager) runRemoteCommand(line string) {
	fields := dispatch.SplitArgs(line)
	if len(fields) == 0 {
		return
	}
	args := make([]settings.Value, len(fields)-1)
	for i, raw := range fields[1:] {
		args[i] = dispatch.CoerceArg(raw)
	}
	if _, err := m.rt.Call(fields[0], args...); err != nil {
		m.SetStatus(3015, fmt.Sprintf("remote command: %v", err))
	}
}

func (m *Manager) Services() map[string]manager.Service {
	return map[string]manager.Service{
		"send": {
			Description: "send <box> <message>: publish to another device's topic",
			Handler: func(args []settings.Value) (settings.Value, error) {
				if len(args) != 2 {
					return settings.Value{}, fmt.Errorf("want <box> <message>")
				}
				if m.client == nil || !m.client.IsConnected() {
					return settings.Value{}, fmt.Errorf("not connected")
				}
				topic := m.topicBase + "/" + args[0].Str()
				m.client.Publish(topic, 0, false, args[1].String())
				return settings.BoolValue(true), nil
			},
		},
		"connected": {
			Description: "report broker connection state",
			Handler: func([]settings.Value) (settings.Value, error) {
				return settings.BoolValue(m.client != nil && m.client.IsConnected()), nil
			},
		},
	}
}

func (m *Manager) Teardown() error {
	if m.client != nil {
		m.client.Disconnect(100)
		m.client = nil
		m.rt.Publish("mqtt.disconnected", nil)
	}
	return nil
}
