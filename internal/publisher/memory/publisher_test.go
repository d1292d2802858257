package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishRecordsMessages(t *testing.T) {
	t.Parallel()

	p := New()
	id, err := p.Publish(context.Background(), "crawl-events", map[string]any{"page": 1})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id)

	_, err = p.Publish(context.Background(), "run-reports", "report")
	require.NoError(t, err)

	require.Len(t, p.Messages(), 2)
	events := p.TopicMessages("crawl-events")
	require.Len(t, events, 1)
	assert.Equal(t, "crawl-events", events[0].Topic)
}
