// Package mqtt republishes inbound push events onto MQTT topics so sidecar
// consumers (dashboards, automations) can follow the stream without a
// connection to the push channel.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"picpic.sync/internal/core/domain"
	"picpic.sync/internal/core/events"
	"picpic.sync/internal/core/logger"
	"picpic.sync/internal/core/ports"
)

var _ ports.EventMirror = (*Publisher)(nil)

const topicPrefix = "picpic"

type Publisher struct {
	client paho.Client
}

// NewPublisher connects to the broker and returns a ready publisher.
func NewPublisher(brokerURL string) (*Publisher, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("picpic-sync-%d", time.Now().UnixNano()))
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	client := paho.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	logger.Info("connected to MQTT broker", "broker", brokerURL)
	return &Publisher{client: client}, nil
}

// Attach subscribes the publisher to the event kinds it mirrors.
func (p *Publisher) Attach(bus *events.Dispatcher) {
	bus.On(events.KindJobUpdate, func(payload any) {
		update, ok := payload.(events.JobUpdate)
		if !ok {
			return
		}
		p.publish(fmt.Sprintf("%s/job/%s", topicPrefix, update.JobID), envelope("job_update", update))
	})
	bus.On(events.KindResourceUpdate, func(payload any) {
		update, ok := payload.(events.ResourceUpdate)
		if !ok {
			return
		}
		p.publish(fmt.Sprintf("%s/events", topicPrefix), envelope("resource_update", update))
	})
	bus.On(events.KindNotification, func(payload any) {
		n, ok := payload.(domain.Notification)
		if !ok {
			return
		}
		p.publish(fmt.Sprintf("%s/notifications", topicPrefix), envelope("notification", n))
	})
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

func (p *Publisher) publish(topic string, payload []byte) {
	if payload == nil {
		return
	}
	p.client.Publish(topic, 0, false, payload)
}

func envelope(kind string, payload any) []byte {
	data, err := json.Marshal(map[string]any{
		"type":    kind,
		"payload": payload,
	})
	if err != nil {
		logger.Warn("mqtt event not encodable", "type", kind, "error", err)
		return nil
	}
	return data
}
