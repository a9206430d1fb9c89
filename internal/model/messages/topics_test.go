package messages

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopics(t *testing.T) {
	assert.Equal(t, "command/refresh/g2", For(TopicRefresh, "g2"))
	assert.Equal(t, "greenhouse/data/+", Wildcard(TopicReadings))
	assert.Equal(t, "g2", GreenhouseFromTopic("greenhouse/data/g2", TopicReadings))
	assert.Equal(t, "g2", GreenhouseFromTopic("greenhouse/data/g2/extra", TopicReadings))
	assert.Empty(t, GreenhouseFromTopic("other/g2", TopicReadings))
}
