package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/hotelhub/roomheating-exporter/internal/heating"
)

const mqttPublishTimeout = 5 * time.Second

// mqttPublisher pushes room updates to <prefix>/<location>/rooms and
// <prefix>/<location>/rooms/<room_id>, retained so late subscribers get the last state.
type mqttPublisher struct {
	client mqtt.Client
	prefix string
}

type mqttOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Prefix   string
}

func newMQTTPublisher(o mqttOptions) (*mqttPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
	}
	if o.Password != "" {
		opts.SetPassword(o.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return &mqttPublisher{client: client, prefix: o.Prefix}, nil
}

func (p *mqttPublisher) Name() string {
	return "mqtt"
}

func (p *mqttPublisher) Publish(ctx context.Context, list *heating.RoomList) error {
	payload, err := json.Marshal(list)
	if err != nil {
		return err
	}
	if err := p.publish(ctx, fmt.Sprintf("%s/%s/rooms", p.prefix, list.Location), payload); err != nil {
		return err
	}

	for _, room := range list.Rooms {
		payload, err := json.Marshal(room)
		if err != nil {
			return err
		}
		if err := p.publish(ctx, fmt.Sprintf("%s/%s/rooms/%s", p.prefix, list.Location, room.RoomID), payload); err != nil {
			return err
		}
	}
	return nil
}

func (p *mqttPublisher) publish(ctx context.Context, topic string, payload []byte) error {
	token := p.client.Publish(topic, 1, true, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mqttPublishTimeout):
		return fmt.Errorf("timeout publishing to topic %s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}
	return nil
}

func (p *mqttPublisher) Close() {
	p.client.Disconnect(250)
}
