package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/young1lin/research2post/internal/config"
)

type fakeConn struct {
	msgs   []*nats.Msg
	err    error
	closed bool
}

func (f *fakeConn) PublishMsg(m *nats.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, m)
	return nil
}

func (f *fakeConn) Close() { f.closed = true }

func TestConnectWithoutURL(t *testing.T) {
	n, err := Connect(config.NotifyConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, Nop{}, n)
	assert.NoError(t, n.Notify(context.Background(), Event{Platform: "x"}))
	assert.NoError(t, n.Close())
}

func TestNATSNotify(t *testing.T) {
	fc := &fakeConn{}
	n := newNATS(fc, "", nil)

	err := n.Notify(context.Background(), Event{Platform: "linkedin", UserID: "u1", Status: "success", PostID: "p1"})
	require.NoError(t, err)
	require.Len(t, fc.msgs, 1)
	assert.Equal(t, "research2post.posts.linkedin", fc.msgs[0].Subject)

	var got Event
	require.NoError(t, json.Unmarshal(fc.msgs[0].Data, &got))
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "p1", got.PostID)
	assert.False(t, got.Time.IsZero())

	require.NoError(t, n.Close())
	assert.True(t, fc.closed)
}

func TestNATSNotifyFailure(t *testing.T) {
	n := newNATS(&fakeConn{err: errors.New("connection closed")}, "custom", nil)
	err := n.Notify(context.Background(), Event{Platform: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custom.x")
}

func TestHeaderCarrier(t *testing.T) {
	c := headerCarrier(nats.Header{})
	c.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Len(t, c.Keys(), 1)
}
