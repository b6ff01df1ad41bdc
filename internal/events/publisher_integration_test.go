//go:build integration

package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cloo-solutions/interviewcoach/internal/testutil"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIntegration_NATSPublisher(t *testing.T) {
	ctx := context.Background()
	nc := testutil.NewNATSContainer(ctx, t)

	pub, err := NewNATSPublisher(ctx, nc.URL(), zap.NewNop())
	require.NoError(t, err)
	defer pub.Close()

	sub, err := nats.Connect(nc.URL())
	require.NoError(t, err)
	defer sub.Close()

	msgs := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe(SubjectPrefix+">", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	require.NoError(t, pub.Publish(ctx, FromSession(KindCompleted, completedSession(), time.Now())))

	select {
	case msg := <-msgs:
		assert.Equal(t, "events.session.completed", msg.Subject)
		var got Event
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "s1", got.SessionID)
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}
