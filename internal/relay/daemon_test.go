package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"huddle/internal/domain"
	"huddle/internal/log"
	"huddle/internal/protocol/event"
)

func TestDaemonPublishAndQuery(t *testing.T) {
	d := &Daemon{log: log.Discard().GetLogger("relayd"), archive: NewArchive()}
	s, err := event.Ephemeral()
	require.NoError(t, err)
	ev, err := s.SignEvent(domain.Event{CreatedAt: time.Now().Unix(), Kind: domain.KindGroupMessage, Content: "x"})
	require.NoError(t, err)
	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	reply, fresh := d.publish(raw)
	var ack PublishAck
	require.NoError(t, json.Unmarshal(reply, &ack))
	require.True(t, ack.OK)
	require.NotNil(t, fresh)
	require.Equal(t, ev.ID, fresh.ID)

	reply, fresh = d.publish(raw)
	require.NoError(t, json.Unmarshal(reply, &ack))
	require.True(t, ack.OK)
	require.Nil(t, fresh)

	forged := ev
	forged.Content = "y"
	raw, err = json.Marshal(forged)
	require.NoError(t, err)
	reply, fresh = d.publish(raw)
	require.NoError(t, json.Unmarshal(reply, &ack))
	require.False(t, ack.OK)
	require.Nil(t, fresh)

	reply, _ = d.publish([]byte("{"))
	require.NoError(t, json.Unmarshal(reply, &ack))
	require.False(t, ack.OK)

	f, err := json.Marshal(domain.Filter{Kinds: []int{domain.KindGroupMessage}})
	require.NoError(t, err)
	var qr QueryReply
	require.NoError(t, json.Unmarshal(d.query(f), &qr))
	require.Empty(t, qr.Error)
	require.Len(t, qr.Events, 1)
	require.Equal(t, ev.ID, qr.Events[0].ID)

	require.NoError(t, json.Unmarshal(d.query([]byte("[")), &qr))
	require.NotEmpty(t, qr.Error)
}
