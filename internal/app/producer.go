// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/orientation_server/internal/config"
	"github.com/relabs-tech/orientation_server/internal/device"
	"github.com/relabs-tech/orientation_server/internal/orientation"
)

// poseProducer is the fusion side of the mqtt device: it publishes a
// (possibly predicted) orientation and follows the prediction window the
// server announces.
type poseProducer struct {
	src orientation.Source

	mu      sync.Mutex
	period  float32
	enabled bool
}

func (p *poseProducer) handlePrediction(_ mqtt.Client, msg mqtt.Message) {
	p.applyPrediction(msg.Payload())
}

func (p *poseProducer) applyPrediction(payload []byte) {
	var m device.PredictionMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		slog.Warn("producer: prediction payload rejected", "error", err)
		return
	}
	p.mu.Lock()
	p.period, p.enabled = m.PeriodSeconds, m.Enabled
	p.mu.Unlock()
	slog.Info("producer: prediction updated", "period_s", m.PeriodSeconds, "enabled", m.Enabled)
}

// nextPayload reads the source and encodes the pose message.
func (p *poseProducer) nextPayload() ([]byte, error) {
	q, rate, err := p.src.Next()
	if err != nil {
		return nil, fmt.Errorf("orientation source: %w", err)
	}

	p.mu.Lock()
	period, enabled := p.period, p.enabled
	p.mu.Unlock()
	if enabled && period > 0 {
		q = orientation.Predict(q, rate, float64(period))
	}
	return json.Marshal(q)
}

// RunMockProducer publishes mock orientation to cfg.TopicPose every
// IMU_SAMPLE_INTERVAL until ctx is cancelled.
func RunMockProducer(ctx context.Context, cfg *config.Config) error {
	slog.Info("producer: starting mock pose producer", "broker", cfg.MQTTBroker, "topic", cfg.TopicPose)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID + "-producer").
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect error: %w", token.Error())
	}
	defer client.Disconnect(250)

	p := &poseProducer{src: orientation.NewMockSource()}
	if token := client.Subscribe(cfg.TopicPrediction, 1, p.handlePrediction); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", cfg.TopicPrediction, token.Error())
	}

	ticker := time.NewTicker(time.Duration(cfg.IMUSampleInterval) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("producer: stopped")
			return nil
		case <-ticker.C:
			payload, err := p.nextPayload()
			if err != nil {
				slog.Warn("producer: skipping sample", "error", err)
				continue
			}
			client.Publish(cfg.TopicPose, 0, false, payload)
		}
	}
}
