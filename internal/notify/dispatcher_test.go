package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"privora/internal/models"
	"privora/internal/presence"
)

type recordingSender struct {
	sends []string // connection ids
	fail  bool
}

func (s *recordingSender) Send(connectionID, event string, payload interface{}) error {
	if s.fail {
		return errors.New("connection gone")
	}
	s.sends = append(s.sends, connectionID)
	return nil
}

func TestNotifyDeliversToOnlineUser(t *testing.T) {
	registry := presence.NewRegistry()
	registry.Upsert(models.PresenceEntry{UserID: "u1", ConnectionID: "conn-1", ConnectedAt: time.Now(), LastSeen: time.Now()})

	sender := &recordingSender{}
	d := NewDispatcher(registry, sender)

	assert.True(t, d.Notify("u1", "file-received", map[string]string{"transferId": "t1"}))
	assert.Equal(t, []string{"conn-1"}, sender.sends)
}

func TestNotifyOfflineUserIsSilentNoop(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(presence.NewRegistry(), sender)

	assert.False(t, d.Notify("nobody", "file-received", nil))
	assert.Empty(t, sender.sends)
}

func TestNotifyRacingDisconnectReportsUndelivered(t *testing.T) {
	registry := presence.NewRegistry()
	registry.Upsert(models.PresenceEntry{UserID: "u1", ConnectionID: "conn-1", ConnectedAt: time.Now(), LastSeen: time.Now()})

	// Entry still present but the connection already died under the sender.
	d := NewDispatcher(registry, &recordingSender{fail: true})

	assert.False(t, d.Notify("u1", "file-received", nil))
}
