//go:build integration

package sink

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ctcgateway/acquisition"
	"github.com/c360/ctcgateway/testutil"
)

func TestNATSSink_PublishesToServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	url := testutil.StartNATSContainer(ctx, t)

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()

	received := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe(DefaultSubject+".>", received)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	sinks, err := Build(ctx, []Config{{Type: TypeNATS, NATS: NATSConfig{URL: url}}}, nil, nil)
	require.NoError(t, err)
	defer sinks.Close(ctx)

	require.NoError(t, sinks.Publish(ctx, sampleResult()))

	select {
	case msg := <-received:
		assert.Equal(t, DefaultSubject+".1234", msg.Subject)
		var got acquisition.Result
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, 3, got.X.Stats.Count)
	case <-time.After(5 * time.Second):
		t.Fatal("result not delivered")
	}
}
