package store

import (
	"cmp"
	"maps"
	"slices"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"huddle/internal/domain"
	"huddle/internal/worker"
)

// batch holds coalesced writes. A message id is never in both msgs and dels.
type batch struct {
	convs map[domain.GroupID]domain.Conversation
	msgs  map[domain.GroupID]map[domain.MessageID]domain.ChatMessage
	dels  map[domain.GroupID]map[domain.MessageID]struct{}
}

func newBatch() batch {
	return batch{
		convs: make(map[domain.GroupID]domain.Conversation),
		msgs:  make(map[domain.GroupID]map[domain.MessageID]domain.ChatMessage),
		dels:  make(map[domain.GroupID]map[domain.MessageID]struct{}),
	}
}

func (b batch) empty() bool { return len(b.convs) == 0 && len(b.msgs) == 0 && len(b.dels) == 0 }

// Writer coalesces conversation and message writes and flushes them to the
// Store in one transaction per interval. Reads see pending writes.
type Writer struct {
	worker.Worker

	log      *logging.Logger
	store    *Store
	interval time.Duration

	// flushMu orders flushes against deletes so a flush never resurrects a
	// deleted record.
	flushMu sync.Mutex

	mu       sync.Mutex
	pending  batch
	inflight batch
}

// NewWriter returns a Writer over s. Call Start to begin flushing.
func NewWriter(s *Store, interval time.Duration, log *logging.Logger) *Writer {
	return &Writer{
		log:      log,
		store:    s,
		interval: interval,
		pending:  newBatch(),
		inflight: newBatch(),
	}
}

// Start starts the Writer's flush goroutine. Halt flushes once more before
// returning.
func (w *Writer) Start() {
	w.log.Debug("Writer starting worker")
	w.Go(w.worker)
}

func (w *Writer) worker() {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.HaltCh():
			if err := w.Flush(); err != nil {
				w.log.Errorf("Final flush failed: %v", err)
			}
			w.log.Debugf("Terminating gracefully.")
			return
		case <-t.C:
			if err := w.Flush(); err != nil {
				w.log.Errorf("Flush failed, will retry: %v", err)
			}
		}
	}
}

// Flush writes every pending record now.
func (w *Writer) Flush() error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	if w.pending.empty() {
		w.mu.Unlock()
		return nil
	}
	w.inflight, w.pending = w.pending, newBatch()
	b := w.inflight
	w.mu.Unlock()

	convs := slices.Collect(maps.Values(b.convs))
	var msgs []domain.ChatMessage
	for _, m := range b.msgs {
		msgs = slices.AppendSeq(msgs, maps.Values(m))
	}
	dels := make(map[domain.GroupID][]domain.MessageID, len(b.dels))
	for conv, ids := range b.dels {
		dels[conv] = slices.Collect(maps.Keys(ids))
	}
	err := w.store.apply(convs, msgs, dels)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		// Requeue what was not superseded while writing.
		for id, c := range b.convs {
			if _, ok := w.pending.convs[id]; !ok {
				w.pending.convs[id] = c
			}
		}
		for cid, ms := range b.msgs {
			pm := w.pendingMsgs(cid)
			for mid, m := range ms {
				if _, ok := pm[mid]; !ok && !w.pendingDeleted(cid, mid) {
					pm[mid] = m
				}
			}
		}
		for cid, ids := range b.dels {
			for mid := range ids {
				if _, ok := w.pending.msgs[cid][mid]; !ok {
					w.pendingDels(cid)[mid] = struct{}{}
				}
			}
		}
	} else {
		w.log.Debugf("Flushed %d conversations, %d messages", len(convs), len(msgs))
	}
	w.inflight = newBatch()
	return err
}

func (w *Writer) pendingMsgs(id domain.GroupID) map[domain.MessageID]domain.ChatMessage {
	m, ok := w.pending.msgs[id]
	if !ok {
		m = make(map[domain.MessageID]domain.ChatMessage)
		w.pending.msgs[id] = m
	}
	return m
}

func (w *Writer) pendingDels(id domain.GroupID) map[domain.MessageID]struct{} {
	m, ok := w.pending.dels[id]
	if !ok {
		m = make(map[domain.MessageID]struct{})
		w.pending.dels[id] = m
	}
	return m
}

func (w *Writer) pendingDeleted(conv domain.GroupID, id domain.MessageID) bool {
	_, ok := w.pending.dels[conv][id]
	return ok
}

// SaveConversation queues conv for the next flush.
func (w *Writer) SaveConversation(conv domain.Conversation) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending.convs[conv.ID] = conv
	return nil
}

// LoadConversation returns the newest known version of a conversation.
func (w *Writer) LoadConversation(id domain.GroupID) (domain.Conversation, bool, error) {
	w.mu.Lock()
	if c, ok := w.pending.convs[id]; ok {
		w.mu.Unlock()
		return c, true, nil
	}
	if c, ok := w.inflight.convs[id]; ok {
		w.mu.Unlock()
		return c, true, nil
	}
	w.mu.Unlock()
	return w.store.LoadConversation(id)
}

// ListConversations returns every conversation, pending writes included,
// ordered by creation time.
func (w *Writer) ListConversations() ([]domain.Conversation, error) {
	stored, err := w.store.ListConversations()
	if err != nil {
		return nil, err
	}
	byID := make(map[domain.GroupID]domain.Conversation, len(stored))
	for _, c := range stored {
		byID[c.ID] = c
	}
	w.mu.Lock()
	maps.Copy(byID, w.inflight.convs)
	maps.Copy(byID, w.pending.convs)
	w.mu.Unlock()

	out := slices.Collect(maps.Values(byID))
	slices.SortFunc(out, func(a, b domain.Conversation) int {
		if c := cmp.Compare(a.CreatedAt, b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.Hex(), b.ID.Hex())
	})
	return out, nil
}

// DeleteConversation drops pending writes and removes the stored record.
func (w *Writer) DeleteConversation(id domain.GroupID) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	delete(w.pending.convs, id)
	w.mu.Unlock()
	return w.store.DeleteConversation(id)
}

// SaveMessage queues msg for the next flush.
func (w *Writer) SaveMessage(msg domain.ChatMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending.dels[msg.ConversationID], msg.ID)
	w.pendingMsgs(msg.ConversationID)[msg.ID] = msg
	return nil
}

// DeleteMessage queues removal of one record for the next flush.
func (w *Writer) DeleteMessage(conv domain.GroupID, id domain.MessageID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending.msgs[conv], id)
	w.pendingDels(conv)[id] = struct{}{}
	return nil
}

// ListMessages returns a conversation's records, pending writes included,
// ordered by timestamp.
func (w *Writer) ListMessages(id domain.GroupID) ([]domain.ChatMessage, error) {
	stored, err := w.store.ListMessages(id)
	if err != nil {
		return nil, err
	}
	byID := make(map[domain.MessageID]domain.ChatMessage, len(stored))
	for _, m := range stored {
		byID[m.ID] = m
	}
	w.mu.Lock()
	for _, b := range []batch{w.inflight, w.pending} {
		for mid := range b.dels[id] {
			delete(byID, mid)
		}
		maps.Copy(byID, b.msgs[id])
	}
	w.mu.Unlock()

	out := slices.Collect(maps.Values(byID))
	slices.SortStableFunc(out, func(a, b domain.ChatMessage) int {
		if c := cmp.Compare(a.Timestamp, b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// DeleteMessages drops pending writes and removes the stored timeline.
func (w *Writer) DeleteMessages(id domain.GroupID) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	delete(w.pending.msgs, id)
	delete(w.pending.dels, id)
	w.mu.Unlock()
	return w.store.DeleteMessages(id)
}

var (
	_ domain.ConversationStore = (*Writer)(nil)
	_ domain.MessageStore      = (*Writer)(nil)
)
