package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
	"gopkg.in/op/go-logging.v1"

	"huddle/internal/domain"
)

const (
	schemaVersion = 1

	metaBucket          = "meta"
	conversationsBucket = "conversations"
	sessionsBucket      = "sessions"
	inviteTargetsBucket = "invite_targets"
	messagesBucket      = "messages"
)

var (
	versionKey = []byte("version")

	errBucketMissing = errors.New("store: bucket is missing")
)

// Store is the bbolt-backed durable store.
type Store struct {
	db  *bbolt.DB
	log *logging.Logger
}

// Open opens or creates the database at path.
func Open(path string, log *logging.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	s := &Store{db: db, log: log}
	if err := s.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{metaBucket, conversationsBucket, sessionsBucket, inviteTargetsBucket, messagesBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("store: create %s bucket: %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(metaBucket))
		if v := meta.Get(versionKey); v != nil {
			if len(v) != 1 || v[0] != schemaVersion {
				return fmt.Errorf("store: unsupported schema version %v", v)
			}
			return nil
		}
		return meta.Put(versionKey, []byte{schemaVersion})
	})
}

func bucket(tx *bbolt.Tx, name string) (*bbolt.Bucket, error) {
	b := tx.Bucket([]byte(name))
	if b == nil {
		return nil, fmt.Errorf("%w: %s", errBucketMissing, name)
	}
	return b, nil
}

// get copies the value at key out of a read transaction.
func (s *Store) get(name string, key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, name)
		if err != nil {
			return err
		}
		if v := b.Get(key); v != nil {
			out = append([]byte{}, v...)
		}
		return nil
	})
	return out, err
}

func (s *Store) put(name string, key, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, name)
		if err != nil {
			return err
		}
		return b.Put(key, value)
	})
}

func (s *Store) remove(name string, key []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, name)
		if err != nil {
			return err
		}
		return b.Delete(key)
	})
}

// SaveSession upserts the encoded engine state of a conversation.
func (s *Store) SaveSession(id domain.GroupID, state []byte) error {
	return s.put(sessionsBucket, id[:], state)
}

// LoadSession returns the encoded engine state of a conversation.
func (s *Store) LoadSession(id domain.GroupID) ([]byte, bool, error) {
	v, err := s.get(sessionsBucket, id[:])
	if err != nil {
		return nil, false, err
	}
	return v, v != nil, nil
}

// DeleteSession removes a conversation's engine state.
func (s *Store) DeleteSession(id domain.GroupID) error {
	return s.remove(sessionsBucket, id[:])
}

func putConversation(tx *bbolt.Tx, conv domain.Conversation) error {
	b, err := bucket(tx, conversationsBucket)
	if err != nil {
		return err
	}
	raw, err := ccbor.Marshal(conv)
	if err != nil {
		return err
	}
	return b.Put(conv.ID[:], raw)
}

// SaveConversation upserts a conversation record.
func (s *Store) SaveConversation(conv domain.Conversation) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return putConversation(tx, conv) })
}

// LoadConversation returns one conversation record.
func (s *Store) LoadConversation(id domain.GroupID) (domain.Conversation, bool, error) {
	v, err := s.get(conversationsBucket, id[:])
	if err != nil || v == nil {
		return domain.Conversation{}, false, err
	}
	var conv domain.Conversation
	if err := dcbor.Unmarshal(v, &conv); err != nil {
		return domain.Conversation{}, false, fmt.Errorf("store: conversation %s: %w", id, err)
	}
	return conv, true, nil
}

// ListConversations returns every readable conversation. Undecodable records
// are skipped and logged.
func (s *Store) ListConversations() ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, conversationsBucket)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			var conv domain.Conversation
			if err := dcbor.Unmarshal(v, &conv); err != nil {
				s.log.Warningf("Skipping unreadable conversation %x: %v", k, err)
				return nil
			}
			out = append(out, conv)
			return nil
		})
	})
	return out, err
}

// DeleteConversation removes a conversation record.
func (s *Store) DeleteConversation(id domain.GroupID) error {
	return s.remove(conversationsBucket, id[:])
}

// SaveInviteTarget upserts a local invite target record.
func (s *Store) SaveInviteTarget(rec domain.InviteTargetRecord) error {
	raw, err := ccbor.Marshal(rec)
	if err != nil {
		return err
	}
	return s.put(inviteTargetsBucket, []byte(rec.ID), raw)
}

// LoadInviteTarget returns a local invite target record.
func (s *Store) LoadInviteTarget(id domain.InviteTargetID) (domain.InviteTargetRecord, bool, error) {
	v, err := s.get(inviteTargetsBucket, []byte(id))
	if err != nil || v == nil {
		return domain.InviteTargetRecord{}, false, err
	}
	var rec domain.InviteTargetRecord
	if err := dcbor.Unmarshal(v, &rec); err != nil {
		return domain.InviteTargetRecord{}, false, fmt.Errorf("store: invite target %s: %w", id, err)
	}
	return rec, true, nil
}

// ListInviteTargets returns every local invite target record.
func (s *Store) ListInviteTargets() ([]domain.InviteTargetRecord, error) {
	var out []domain.InviteTargetRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, inviteTargetsBucket)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			var rec domain.InviteTargetRecord
			if err := dcbor.Unmarshal(v, &rec); err != nil {
				s.log.Warningf("Skipping unreadable invite target %s: %v", k, err)
				return nil
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

func putMessage(tx *bbolt.Tx, msg domain.ChatMessage) error {
	root, err := bucket(tx, messagesBucket)
	if err != nil {
		return err
	}
	b, err := root.CreateBucketIfNotExists(msg.ConversationID[:])
	if err != nil {
		return err
	}
	raw, err := ccbor.Marshal(msg)
	if err != nil {
		return err
	}
	return b.Put([]byte(msg.ID), raw)
}

// SaveMessage upserts one timeline record.
func (s *Store) SaveMessage(msg domain.ChatMessage) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return putMessage(tx, msg) })
}

func deleteMessage(tx *bbolt.Tx, conv domain.GroupID, id domain.MessageID) error {
	root, err := bucket(tx, messagesBucket)
	if err != nil {
		return err
	}
	b := root.Bucket(conv[:])
	if b == nil {
		return nil
	}
	return b.Delete([]byte(id))
}

// DeleteMessage removes one timeline record.
func (s *Store) DeleteMessage(conv domain.GroupID, id domain.MessageID) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return deleteMessage(tx, conv, id) })
}

// ListMessages returns every stored record of a conversation in key order.
func (s *Store) ListMessages(id domain.GroupID) ([]domain.ChatMessage, error) {
	var out []domain.ChatMessage
	err := s.db.View(func(tx *bbolt.Tx) error {
		root, err := bucket(tx, messagesBucket)
		if err != nil {
			return err
		}
		b := root.Bucket(id[:])
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var msg domain.ChatMessage
			if err := dcbor.Unmarshal(v, &msg); err != nil {
				s.log.Warningf("Skipping unreadable message %s in %s: %v", k, id, err)
				return nil
			}
			out = append(out, msg)
			return nil
		})
	})
	return out, err
}

// DeleteMessages removes a conversation's timeline.
func (s *Store) DeleteMessages(id domain.GroupID) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		root, err := bucket(tx, messagesBucket)
		if err != nil {
			return err
		}
		if root.Bucket(id[:]) == nil {
			return nil
		}
		return root.DeleteBucket(id[:])
	})
}

// apply writes a batch of conversations and messages and removes dels in
// one transaction.
func (s *Store) apply(convs []domain.Conversation, msgs []domain.ChatMessage, dels map[domain.GroupID][]domain.MessageID) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for conv, ids := range dels {
			for _, id := range ids {
				if err := deleteMessage(tx, conv, id); err != nil {
					return err
				}
			}
		}
		for _, c := range convs {
			if err := putConversation(tx, c); err != nil {
				return err
			}
		}
		for _, m := range msgs {
			if err := putMessage(tx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

var (
	_ domain.SessionStore      = (*Store)(nil)
	_ domain.ConversationStore = (*Store)(nil)
	_ domain.InviteTargetStore = (*Store)(nil)
	_ domain.MessageStore      = (*Store)(nil)
)
