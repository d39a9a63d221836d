// Package identitystore persists an agent's enrolment identity across
// restarts: uuid and enrolment key in a flat bucket, and the ordered
// group list in a second bucket keyed by ordinal so a bucket cursor
// replays it in order. Built on the same bbolt primitive the durable
// queue uses, one file per concern rather than sharing the queue's db.
package identitystore

import (
	"encoding/binary"

	bolt "go.etcd.io/bbolt"

	"endpointagent/internal/apperr"
	"endpointagent/internal/model"
)

var (
	credentialsBucket = []byte("credentials")
	groupsBucket      = []byte("groups")

	keyUUID = []byte("uuid")
	keyKey  = []byte("key")
)

// Store is the identity half of the agent's persisted state: agent_info.db.
type Store struct {
	db *bolt.DB
}

// Open creates or reopens the identity store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, apperr.NewQueueError("open identity store "+path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(credentialsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(groupsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, apperr.NewQueueError("init identity store", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Load reads the persisted identity, if any. ok is false when no
// credentials have ever been saved (first run, pre-enrolment).
func (s *Store) Load() (identity *model.AgentIdentity, ok bool, err error) {
	var uuid, key string
	var groups []string

	err = s.db.View(func(tx *bolt.Tx) error {
		cb := tx.Bucket(credentialsBucket)
		uuidVal := cb.Get(keyUUID)
		if uuidVal == nil {
			return nil
		}
		uuid = string(uuidVal)
		key = string(cb.Get(keyKey))

		gb := tx.Bucket(groupsBucket)
		c := gb.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			groups = append(groups, string(v))
		}
		return nil
	})
	if err != nil {
		return nil, false, apperr.NewQueueError("load identity", err)
	}
	if uuid == "" {
		return nil, false, nil
	}
	return model.NewAgentIdentity(uuid, key, groups), true, nil
}

// SaveCredentials persists the uuid/key pair issued at enrolment.
func (s *Store) SaveCredentials(uuid, key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		cb := tx.Bucket(credentialsBucket)
		if err := cb.Put(keyUUID, []byte(uuid)); err != nil {
			return err
		}
		return cb.Put(keyKey, []byte(key))
	})
	if err != nil {
		return apperr.NewQueueError("save credentials", err)
	}
	return nil
}

// SaveGroups replaces the persisted, ordered group list with groups.
func (s *Store) SaveGroups(groups []string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(groupsBucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		gb, err := tx.CreateBucket(groupsBucket)
		if err != nil {
			return err
		}
		for i, g := range groups {
			if err := gb.Put(ordinalKey(i), []byte(g)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperr.NewQueueError("save groups", err)
	}
	return nil
}

func ordinalKey(i int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(i))
	return buf
}
