package scan

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// BatchHandler is called for every correspondence batch received on a robot topic.
// batch is nil when err is set.
type BatchHandler func(robotID string, batch *CorrespondenceBatch, err error)

// MQTTClient manages the broker connection and the robots' batch subscriptions
type MQTTClient struct {
	client       mqtt.Client
	config       *Config
	batchHandler BatchHandler
	isConnected  bool
	mu           sync.RWMutex
}

// InitMQTT connects to the broker named by MQTT_BROKER or config.MQTT.Broker.
// If neither is set, MQTT is disabled and this returns nil, nil.
func InitMQTT(config *Config, handler BatchHandler) (*MQTTClient, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil || len(config.Robots) == 0 {
		return nil, fmt.Errorf("MQTT enabled but no robot configuration provided")
	}

	client := &MQTTClient{
		config:       config,
		batchHandler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(envOr("MQTT_CLIENT_ID", config.MQTT.ClientID, "tudoscan"))

	if username := envOr("MQTT_USERNAME", config.MQTT.Username, ""); username != "" {
		opts.SetUsername(username)
		opts.SetPassword(envOr("MQTT_PASSWORD", config.MQTT.Password, ""))
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	// Batches for one robot must be applied in arrival order
	opts.SetOrderMatters(true)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Println("MQTT reconnecting...")
	})

	client.client = mqtt.NewClient(opts)
	go client.connectWithRetry()

	return client, nil
}

func envOr(key, configured, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if configured != "" {
		return configured
	}
	return fallback
}

// connectWithRetry attempts to connect to the broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("Connecting to MQTT broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("Successfully connected to MQTT broker")
				c.setConnected(true)
				return
			}
			log.Printf("MQTT connection failed: %v", token.Error())
		} else {
			log.Println("MQTT connection timeout")
		}

		log.Printf("Retrying MQTT connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes every configured robot's batch topic
func (c *MQTTClient) onConnect(client mqtt.Client) {
	log.Println("MQTT connected, subscribing to robot batch topics...")
	c.setConnected(true)

	for _, robot := range c.config.Robots {
		if robot.Topic == "" {
			log.Printf("Warning: robot %s has no topic configured", robot.ID)
			continue
		}

		token := client.Subscribe(robot.Topic, 1, c.createBatchHandler(robot.ID))
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("Error subscribing to %s: %v", robot.Topic, token.Error())
		} else {
			log.Printf("Subscribed to %s for robot %s", robot.Topic, robot.ID)
		}
	}
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("MQTT connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

// createBatchHandler decodes batches arriving on a robot's topic.
// The topic decides the robot; a robotId inside the payload is overridden.
func (c *MQTTClient) createBatchHandler(robotID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		log.Printf("Received batch for %s (topic: %s, size: %d bytes)", robotID, msg.Topic(), len(payload))

		batch, err := DecodeBatch(payload)
		if err != nil {
			log.Printf("Error decoding batch for %s: %v", robotID, err)
			if c.batchHandler != nil {
				c.batchHandler(robotID, nil, err)
			}
			return
		}

		batch.RobotID = robotID
		if batch.BatchID == "" {
			batch.BatchID = uuid.NewString()
		}

		if c.batchHandler != nil {
			c.batchHandler(robotID, batch, nil)
		}
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("Disconnecting from MQTT broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetRobotByTopic returns the robot ID subscribed on topic
func (c *MQTTClient) GetRobotByTopic(topic string) (string, bool) {
	for _, robot := range c.config.Robots {
		if robot.Topic == topic {
			return robot.ID, true
		}
	}
	return "", false
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// NewMQTTClientWithMock wraps an existing mqtt.Client, typically a MockClient.
// Connecting the wrapped client triggers the robot subscriptions.
func NewMQTTClientWithMock(client mqtt.Client, config *Config, handler BatchHandler) *MQTTClient {
	c := &MQTTClient{
		client:       client,
		config:       config,
		batchHandler: handler,
	}
	if mock, ok := client.(*MockClient); ok {
		mock.SetOnConnect(c.onConnect)
	}
	return c
}

// Connect connects the wrapped client synchronously
func (c *MQTTClient) Connect() error {
	token := c.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("connecting to MQTT broker: %w", err)
	}
	c.setConnected(true)
	return nil
}
