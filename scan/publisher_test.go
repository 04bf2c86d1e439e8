package scan

import (
	"encoding/json"
	"errors"
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectedMock() *MockClient {
	c := NewMockClient()
	c.SetConnected(true)
	return c
}

func TestNewPublisherPrefix(t *testing.T) {
	tests := []struct {
		name   string
		env    string
		prefix string
		want   string
	}{
		{"default", "", "", DefaultPublishPrefix},
		{"configured", "", "scans", "scans"},
		{"env wins", "override", "scans", "override"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MQTT_PUBLISH_PREFIX", tt.env)
			assert.Equal(t, tt.want, NewPublisher(connectedMock(), tt.prefix).Prefix())
		})
	}
}

func TestPublishPose(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	client := connectedMock()
	p := NewPublisher(client, "scans")

	require.NoError(t, p.PublishPose(PoseUpdate{RobotID: "vacuum", BatchID: "b1", X: 1, Y: 2, Angle: 30}))
	require.NoError(t, p.PublishPose(PoseUpdate{RobotID: "mower", BatchID: "b2", X: -1}))

	msg, ok := client.LastPublished("scans/vacuum/pose")
	require.True(t, ok)
	assert.True(t, msg.Retain)
	assert.Equal(t, byte(0), msg.QoS)

	var update PoseUpdate
	require.NoError(t, json.Unmarshal(msg.Payload, &update))
	assert.Equal(t, "b1", update.BatchID)
	assert.Equal(t, 30.0, update.Angle)

	combined, ok := client.LastPublished("scans/poses")
	require.True(t, ok)
	var all struct {
		Robots    []PoseUpdate `json:"robots"`
		Timestamp int64        `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(combined.Payload, &all))
	require.Len(t, all.Robots, 2)
	assert.Equal(t, "mower", all.Robots[0].RobotID)
	assert.Equal(t, "vacuum", all.Robots[1].RobotID)

	stored, ok := p.GetPose("vacuum")
	require.True(t, ok)
	assert.Equal(t, 1.0, stored.X)

	p.ClearPose("vacuum")
	_, ok = p.GetPose("vacuum")
	assert.False(t, ok)
}

func TestPublishPoseErrors(t *testing.T) {
	t.Run("nil client", func(t *testing.T) {
		p := NewPublisher(nil, "")
		assert.Error(t, p.PublishPose(PoseUpdate{RobotID: "vacuum"}))
	})

	t.Run("disconnected client", func(t *testing.T) {
		p := NewPublisher(NewMockClient(), "")
		assert.Error(t, p.PublishPose(PoseUpdate{RobotID: "vacuum"}))
	})

	t.Run("publish failure", func(t *testing.T) {
		client := connectedMock()
		client.SetPublishError(errors.New("broker full"))
		p := NewPublisher(client, "")
		err := p.PublishPose(PoseUpdate{RobotID: "vacuum"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broker full")
	})
}

func TestPublishError(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	client := connectedMock()
	p := NewPublisher(client, "scans")

	require.NoError(t, p.PublishError("vacuum", "b3", ErrDegenerateConfiguration))

	msg, ok := client.LastPublished("scans/vacuum/error")
	require.True(t, ok)
	assert.False(t, msg.Retain)

	var payload UpdateError
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "b3", payload.BatchID)
	assert.Equal(t, ErrDegenerateConfiguration.Error(), payload.Error)

	_, ok = client.LastPublished("scans/poses")
	assert.False(t, ok, "errors must not touch the combined topic")
}

func TestPublisherQoSAndRetain(t *testing.T) {
	client := connectedMock()
	p := NewPublisher(client, "scans")
	p.SetQoS(1)
	p.SetQoS(7) // ignored
	p.SetRetain(false)

	require.NoError(t, p.PublishPose(PoseUpdate{RobotID: "vacuum"}))
	for _, msg := range client.GetPublishedMessages() {
		assert.Equal(t, byte(1), msg.QoS)
		assert.False(t, msg.Retain)
	}
}

func TestMockClientNotConnected(t *testing.T) {
	client := NewMockClient()

	token := client.Publish("a/b", 0, false, []byte("x"))
	assert.ErrorIs(t, token.Error(), mqtt.ErrNotConnected)

	token = client.Subscribe("a/b", 0, nil)
	assert.ErrorIs(t, token.Error(), mqtt.ErrNotConnected)
	assert.Empty(t, client.GetPublishedMessages())
}

func TestMockClientConnect(t *testing.T) {
	client := NewMockClient()
	client.SetConnectError(errors.New("refused"))
	assert.Error(t, client.Connect().Error())
	assert.False(t, client.IsConnected())

	client.SetConnectError(nil)
	called := false
	client.SetOnConnect(func(mqtt.Client) { called = true })
	assert.NoError(t, client.Connect().Error())
	assert.True(t, called)
	assert.True(t, client.IsConnectionOpen())

	client.Disconnect(0)
	assert.False(t, client.IsConnected())
}

func TestMockClientStringPayload(t *testing.T) {
	client := connectedMock()
	client.Publish("a/b", 1, true, "hello")
	msg, ok := client.LastPublished("a/b")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), msg.Payload)
}
