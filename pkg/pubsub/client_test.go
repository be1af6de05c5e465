package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handoffmarket/handoff-backend/pkg/config"
)

func TestTopicNamesSkipsBlankAndDuplicates(t *testing.T) {
	names := topicNames(config.PubSubConfig{TransactionsTopic: " txns ", NotificationTopic: ""})
	assert.Equal(t, []string{"txns"}, names)

	names = topicNames(config.PubSubConfig{TransactionsTopic: "events", NotificationTopic: "events"})
	assert.Equal(t, []string{"events"}, names)

	assert.Empty(t, topicNames(config.PubSubConfig{}))
}

func TestTopicResourceName(t *testing.T) {
	c := &Client{projectID: "proj"}
	assert.Equal(t, "projects/proj/topics/txns", c.topicResourceName("txns"))

	full := "projects/other/topics/notify"
	assert.Equal(t, full, c.topicResourceName(full))
	assert.Empty(t, c.topicResourceName("  "))
	assert.Empty(t, (&Client{}).topicResourceName("txns"))
}

func TestNilClient(t *testing.T) {
	var c *Client
	assert.Nil(t, c.Publisher("txns"))
	assert.Error(t, c.Ping(context.Background()))
	assert.NoError(t, c.Close())
}

func TestNewClientValidatesConfig(t *testing.T) {
	ctx := context.Background()
	_, err := NewClient(ctx, config.GCPConfig{}, config.PubSubConfig{TransactionsTopic: "txns"}, nil)
	require.ErrorIs(t, err, errProjectIDRequired)

	_, err = NewClient(ctx, config.GCPConfig{ProjectID: "proj"}, config.PubSubConfig{}, nil)
	require.ErrorIs(t, err, errNoTopics)
}
