package scan

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultPublishPrefix is the topic prefix used when neither config nor env sets one
const DefaultPublishPrefix = "tudoscan"

// UpdateError is published when a batch could not be applied
type UpdateError struct {
	RobotID   string `json:"robotId"`
	BatchID   string `json:"batchId"`
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
}

// Publisher publishes refined robot poses to MQTT:
//
//	<prefix>/<robot>/pose   latest PoseUpdate, retained
//	<prefix>/poses          all latest PoseUpdates, retained
//	<prefix>/<robot>/error  UpdateError for rejected batches, not retained
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	updates       map[string]*PoseUpdate
	mu            sync.RWMutex
}

// NewPublisher creates a new pose publisher.
// The prefix comes from MQTT_PUBLISH_PREFIX, then prefix, then DefaultPublishPrefix.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if env := os.Getenv("MQTT_PUBLISH_PREFIX"); env != "" {
		prefix = env
	}
	if prefix == "" {
		prefix = DefaultPublishPrefix
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		retain:        true,
		updates:       make(map[string]*PoseUpdate),
	}
}

// Prefix returns the topic prefix in use
func (p *Publisher) Prefix() string {
	return p.publishPrefix
}

// PublishPose publishes a robot's refined pose to its own topic and the combined topic
func (p *Publisher) PublishPose(update PoseUpdate) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	p.mu.Lock()
	stored := update
	p.updates[update.RobotID] = &stored
	p.mu.Unlock()

	topic := fmt.Sprintf("%s/%s/pose", p.publishPrefix, update.RobotID)
	if err := p.publishJSON(topic, update, p.retain); err != nil {
		log.Printf("Error publishing pose for %s: %v", update.RobotID, err)
		return err
	}
	log.Printf("Published pose for %s: (%.3f, %.3f) angle=%.2f° rmse=%.4f (%s)",
		update.RobotID, update.X, update.Y, update.Angle, update.RMSEAfter, update.Quality)

	if err := p.publishCombined(); err != nil {
		log.Printf("Error publishing combined poses: %v", err)
		return err
	}
	return nil
}

// PublishError reports a rejected batch for a robot
func (p *Publisher) PublishError(robotID, batchID string, updateErr error) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	msg := UpdateError{
		RobotID:   robotID,
		BatchID:   batchID,
		Error:     updateErr.Error(),
		Timestamp: time.Now().Unix(),
	}
	topic := fmt.Sprintf("%s/%s/error", p.publishPrefix, robotID)
	return p.publishJSON(topic, msg, false)
}

// publishCombined publishes every known pose to the combined topic
func (p *Publisher) publishCombined() error {
	updates := p.sortedUpdates()
	if len(updates) == 0 {
		return nil
	}

	message := map[string]interface{}{
		"robots":    updates,
		"timestamp": time.Now().Unix(),
	}
	return p.publishJSON(fmt.Sprintf("%s/poses", p.publishPrefix), message, p.retain)
}

func (p *Publisher) publishJSON(topic string, v interface{}, retain bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling payload for %s: %w", topic, err)
	}

	token := p.client.Publish(topic, p.qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

func (p *Publisher) sortedUpdates() []*PoseUpdate {
	p.mu.RLock()
	defer p.mu.RUnlock()

	updates := make([]*PoseUpdate, 0, len(p.updates))
	for _, u := range p.updates {
		c := *u
		updates = append(updates, &c)
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].RobotID < updates[j].RobotID })
	return updates
}

// GetPose returns the last published pose for a robot
func (p *Publisher) GetPose(robotID string) (*PoseUpdate, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.updates[robotID]
	if !ok {
		return nil, false
	}
	c := *u
	return &c, true
}

// ClearPose forgets a robot's pose so it drops out of the combined topic
func (p *Publisher) ClearPose(robotID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.updates, robotID)
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether pose messages are retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
