package relay

import (
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"
	"gopkg.in/op/go-logging.v1"

	"huddle/internal/domain"
	"huddle/internal/worker"
)

// Daemon serves one Archive to clients of a NATS server.
type Daemon struct {
	worker.Worker

	log     *logging.Logger
	nc      *nats.Conn
	archive *Archive

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewDaemon answers publish and query requests on nc until Halt.
func NewDaemon(nc *nats.Conn, archive *Archive, log *logging.Logger) (*Daemon, error) {
	d := &Daemon{log: log, nc: nc, archive: archive}
	for subject, handler := range map[string]nats.MsgHandler{
		SubjectPublish: d.onPublish,
		SubjectQuery:   d.onQuery,
	} {
		sub, err := nc.Subscribe(subject, handler)
		if err != nil {
			d.unsubscribe()
			return nil, err
		}
		d.subs = append(d.subs, sub)
	}
	d.Go(func() {
		<-d.HaltCh()
		d.unsubscribe()
	})
	d.log.Noticef("Serving %s and %s", SubjectPublish, SubjectQuery)
	return d, nil
}

func (d *Daemon) unsubscribe() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sub := range d.subs {
		if err := sub.Unsubscribe(); err != nil {
			d.log.Warningf("Unsubscribe %s: %v", sub.Subject, err)
		}
	}
	d.subs = nil
}

func (d *Daemon) onPublish(m *nats.Msg) {
	reply, fresh := d.publish(m.Data)
	if err := m.Respond(reply); err != nil {
		d.log.Debugf("Publish reply failed: %v", err)
	}
	if fresh == nil {
		return
	}
	if err := d.nc.Publish(SubjectEvents, m.Data); err != nil {
		d.log.Warningf("Fan out %s failed: %v", fresh.ID, err)
	}
}

func (d *Daemon) onQuery(m *nats.Msg) {
	if err := m.Respond(d.query(m.Data)); err != nil {
		d.log.Debugf("Query reply failed: %v", err)
	}
}

// publish stores an event. fresh is the event when live subscribers still
// need it.
func (d *Daemon) publish(data []byte) (reply []byte, fresh *domain.Event) {
	var ev domain.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return mustJSON(PublishAck{Reason: "malformed: " + err.Error()}), nil
	}
	ack, isNew := d.archive.Accept(ev)
	if !ack.OK {
		d.log.Debugf("Rejected %s: %s", ev.ID, ack.Reason)
	}
	if isNew {
		fresh = &ev
	}
	return mustJSON(ack), fresh
}

func (d *Daemon) query(data []byte) []byte {
	var f domain.Filter
	if err := json.Unmarshal(data, &f); err != nil {
		return mustJSON(QueryReply{Error: "malformed filter: " + err.Error()})
	}
	return mustJSON(QueryReply{Events: d.archive.Query(f)})
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
