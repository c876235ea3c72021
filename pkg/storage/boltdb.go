package storage

import (
	"encoding/binary"
	"encoding/json"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/stormstack/lightning/pkg/errdefs"
	"github.com/stormstack/lightning/pkg/types"
)

var (
	// Bucket names
	bucketMatches   = []byte("matches")
	bucketSnapshots = []byte("snapshots")
	bucketTokens    = []byte("tokens")
)

// BoltStore implements Store using BoltDB. Snapshot records live in
// per-match sub-buckets keyed by big-endian tick, so a cursor walk yields
// them in tick order.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "lightning.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindResourceUnavailable, err, "failed to open database")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketMatches, bucketSnapshots, bucketTokens} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errdefs.Internal(err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func u64Key(v uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], v)
	return k[:]
}

// Match operations

func (s *BoltStore) SaveMatch(m types.Match) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMatches).Put(u64Key(uint64(m.ID)), data)
	})
}

func (s *BoltStore) LoadMatches() ([]types.Match, error) {
	var matches []types.Match
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMatches).ForEach(func(k, v []byte) error {
			var m types.Match
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			matches = append(matches, m)
			return nil
		})
	})
	return matches, err
}

func (s *BoltStore) DeleteMatch(id types.MatchID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMatches).Delete(u64Key(uint64(id)))
	})
}

// Snapshot operations

func (s *BoltStore) SaveSnapshot(snap *types.Snapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		parent := tx.Bucket(bucketSnapshots)
		b, err := parent.CreateBucketIfNotExists(u64Key(uint64(snap.MatchID)))
		if err != nil {
			return err
		}
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		return b.Put(u64Key(snap.Tick), data)
	})
}

func (s *BoltStore) GetSnapshot(matchID types.MatchID, tick uint64) (*types.Snapshot, error) {
	var snap types.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots).Bucket(u64Key(uint64(matchID)))
		if b == nil {
			return errdefs.NotFound("snapshot", uint64(matchID))
		}
		data := b.Get(u64Key(tick))
		if data == nil {
			return errdefs.NotFound("snapshot", tick)
		}
		return json.Unmarshal(data, &snap)
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *BoltStore) LatestSnapshot(matchID types.MatchID) (*types.Snapshot, error) {
	var snap types.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots).Bucket(u64Key(uint64(matchID)))
		if b == nil {
			return errdefs.NotFound("snapshot", uint64(matchID))
		}
		k, v := b.Cursor().Last()
		if k == nil {
			return errdefs.NotFound("snapshot", uint64(matchID))
		}
		return json.Unmarshal(v, &snap)
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *BoltStore) DeleteSnapshots(matchID types.MatchID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		parent := tx.Bucket(bucketSnapshots)
		if parent.Bucket(u64Key(uint64(matchID))) == nil {
			return nil
		}
		return parent.DeleteBucket(u64Key(uint64(matchID)))
	})
}

// Token operations

func (s *BoltStore) SaveToken(t types.MatchToken) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTokens).Put([]byte(t.ID), data)
	})
}

func (s *BoltStore) LoadTokens() ([]types.MatchToken, error) {
	var tokens []types.MatchToken
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTokens).ForEach(func(k, v []byte) error {
			var t types.MatchToken
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			tokens = append(tokens, t)
			return nil
		})
	})
	return tokens, err
}

func (s *BoltStore) DeleteToken(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTokens).Delete([]byte(id))
	})
}
