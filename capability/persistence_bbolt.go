package capability

import (
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltPersistence is a bbolt-backed Persistence: one bucket per
// collection, keys and values stored verbatim (callers hand us the
// already-encoded JSON record).
type BoltPersistence struct {
	db *bolt.DB
}

// NewBoltPersistence opens (or creates) a BoltDB file at path, preparing
// the capabilities and identities buckets up front.
func NewBoltPersistence(path string) (*BoltPersistence, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{[]byte(capabilitiesCollection), []byte("identities")} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltPersistence{db: db}, nil
}

// Close releases the underlying Bolt database handle.
func (p *BoltPersistence) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *BoltPersistence) Get(collection, key string) ([]byte, bool, error) {
	var value []byte
	err := p.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return nil
		}
		if raw := bucket.Get([]byte(key)); raw != nil {
			value = append([]byte(nil), raw...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, value != nil, nil
}

func (p *BoltPersistence) Put(collection, key string, value []byte) error {
	return p.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), value)
	})
}

func (p *BoltPersistence) Delete(collection, key string) error {
	return p.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
}

func (p *BoltPersistence) List(collection string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := p.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			out[string(k)] = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
