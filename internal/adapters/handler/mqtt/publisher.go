package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"fieldops.dispatch/internal/core/domain"
	"fieldops.dispatch/internal/core/logger"
	"fieldops.dispatch/internal/core/ports"
)

// Publisher mirrors dispatch events onto MQTT topics so external dashboards
// and integrations can follow the operation without a WebSocket session.
// Topics: fieldops/<group-kind>/<event-type>.
type Publisher struct {
	client mqtt.Client
	prefix string
}

func NewPublisher(brokerURL string) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("fieldops-server-%d", time.Now().UnixNano()))
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	logger.Info("connected to MQTT broker", "broker", brokerURL)
	return &Publisher{client: client, prefix: "fieldops"}, nil
}

// Tee wraps a group bus so every published event is also mirrored to MQTT.
// The wrapped bus keeps full responsibility for session delivery; MQTT
// publishing is best-effort and never blocks dispatch.
func (p *Publisher) Tee(bus ports.GroupBus) ports.GroupBus {
	return &teeBus{inner: bus, pub: p}
}

func (p *Publisher) publish(group string, event domain.Event) {
	kind, _ := event["type"].(string)
	if kind == "" {
		kind = "unknown"
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	topic := fmt.Sprintf("%s/%s/%s", p.prefix, topicSegment(group), kind)
	token := p.client.Publish(topic, 0, false, data)
	go func() {
		if token.Wait() && token.Error() != nil {
			logger.Warn("mqtt publish failed", "topic", topic, "error", token.Error())
		}
	}()
}

func topicSegment(group string) string {
	if group == domain.GroupManagers {
		return "managers"
	}
	return group // agent:<id> / manager:<id>, colon is legal in a topic
}

type teeBus struct {
	inner ports.GroupBus
	pub   *Publisher
}

func (t *teeBus) Join(group string, sub ports.Subscriber)  { t.inner.Join(group, sub) }
func (t *teeBus) Leave(group string, sub ports.Subscriber) { t.inner.Leave(group, sub) }

func (t *teeBus) Publish(group string, event domain.Event) {
	t.inner.Publish(group, event)
	t.pub.publish(group, event)
}
