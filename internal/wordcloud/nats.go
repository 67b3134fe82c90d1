package wordcloud

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// Publisher is the publishing half of *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSBroadcaster mirrors hub events to <prefix>.wordcloud.<event>.
type NATSBroadcaster struct {
	pub    Publisher
	prefix string
	log    *slog.Logger
}

func NewNATSBroadcaster(pub Publisher, prefix string, log *slog.Logger) *NATSBroadcaster {
	return &NATSBroadcaster{pub: pub, prefix: strings.TrimSuffix(prefix, "."), log: log}
}

// Subject returns the subject event is published on.
func (b *NATSBroadcaster) Subject(event string) string {
	return b.prefix + ".wordcloud." + event
}

// Broadcast implements Broadcaster. NATS subscribers are never excluded.
func (b *NATSBroadcaster) Broadcast(ev Event, _ string) {
	body, err := json.Marshal(ev.Data)
	if err != nil {
		b.log.Error("failed to encode event", "event", ev.Name, "err", err)
		return
	}
	if err := b.pub.Publish(b.Subject(ev.Name), body); err != nil {
		b.log.Warn("failed to publish word cloud event", "event", ev.Name, "err", err)
	}
}
