package device

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/orientation_server/internal/orientation"
)

// MQTTOptions configures the broker-backed device.
type MQTTOptions struct {
	Broker          string
	ClientID        string
	TopicPose       string
	TopicPrediction string
	Wait            time.Duration
}

// PredictionMessage is the retained payload published on the prediction
// topic. The fusion producer applies it on its side.
type PredictionMessage struct {
	PeriodSeconds float32 `json:"period_s"`
	Enabled       bool    `json:"enabled"`
}

// MQTT reads orientation from a fusion producer through an MQTT broker.
type MQTT struct {
	client          mqtt.Client
	topicPrediction string
	desc            Descriptor
	sample          *latest
}

// OpenMQTT connects to the broker and waits up to opts.Wait for the first pose.
func OpenMQTT(opts MQTTOptions, desc Descriptor) (*MQTT, error) {
	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(opts.Wait)

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(opts.Wait) {
		return nil, fmt.Errorf("%w: MQTT connect to %s timed out after %v", ErrNoDevice, opts.Broker, opts.Wait)
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("%w: MQTT connect to %s: %v", ErrNoDevice, opts.Broker, token.Error())
	}
	slog.Info("mqtt device: connected to broker", "broker", opts.Broker)

	d := &MQTT{
		client:          client,
		topicPrediction: opts.TopicPrediction,
		desc:            desc,
		sample:          newLatest(),
	}

	token = client.Subscribe(opts.TopicPose, 0, d.handlePose)
	token.Wait()
	if token.Error() != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("mqtt subscribe %s: %w", opts.TopicPose, token.Error())
	}
	slog.Info("mqtt device: subscribed", "topic", opts.TopicPose)

	if !d.sample.waitFirst(opts.Wait) {
		client.Disconnect(250)
		return nil, fmt.Errorf("%w: no pose on %s within %v", ErrNoSensor, opts.TopicPose, opts.Wait)
	}
	return d, nil
}

func (d *MQTT) handlePose(_ mqtt.Client, msg mqtt.Message) {
	q, err := decodePose(msg.Payload())
	if err != nil {
		slog.Warn("mqtt device: pose payload rejected", "error", err)
		return
	}
	d.sample.store(q, orientation.Rate{})
}

func decodePose(payload []byte) (orientation.Quaternion, error) {
	var q orientation.Quaternion
	if err := json.Unmarshal(payload, &q); err != nil {
		return orientation.Quaternion{}, fmt.Errorf("unmarshal pose: %w", err)
	}
	if q.Norm() == 0 {
		return orientation.Quaternion{}, errors.New("zero quaternion")
	}
	return q, nil
}

// Orientation returns the last pose received. Prediction already happened
// upstream, so the sample is forwarded as is.
func (d *MQTT) Orientation() orientation.Quaternion {
	d.sample.mu.RLock()
	defer d.sample.mu.RUnlock()
	return d.sample.q
}

func (d *MQTT) SetPrediction(periodSeconds float32, enabled bool) {
	d.sample.setPrediction(periodSeconds, enabled)

	payload, err := json.Marshal(PredictionMessage{PeriodSeconds: periodSeconds, Enabled: enabled})
	if err != nil {
		slog.Error("mqtt device: prediction marshal error", "error", err)
		return
	}
	token := d.client.Publish(d.topicPrediction, 1, true, payload)
	go func() {
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			slog.Warn("mqtt device: prediction publish failed", "topic", d.topicPrediction, "error", token.Error())
		}
	}()
}

func (d *MQTT) Descriptor() Descriptor {
	return d.desc
}

func (d *MQTT) Close() error {
	d.client.Disconnect(250)
	return nil
}
