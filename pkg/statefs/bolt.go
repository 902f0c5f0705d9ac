package statefs

import (
	"sort"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/nexuscore/nexus/pkg/errs"
)

// stateBucket is the single bucket statefs keys live in. Namespacing within
// it is done via key prefixes ("/state/shared/...", "/state/<service>/...")
// rather than one bbolt bucket per namespace, since statefs keys are already
// path-like; bucket-per-namespace is left to callers that want one, by
// prefix convention, mirroring a bucket-per-entity-kind layout one
// level up.
var stateBucket = []byte("state")

// BoltBackend is the durable Store, grounded on
// db.Update/db.View CRUD shape applied to a single flat keyspace instead of
// one bucket per entity kind.
type BoltBackend struct {
	db *bolt.DB
}

// OpenBoltBackend opens (creating if absent) a bbolt database at path and
// ensures the state bucket exists.
func OpenBoltBackend(path string) (*BoltBackend, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errs.New(errs.Internal, "statefs.OpenBoltBackend", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(stateBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errs.New(errs.Internal, "statefs.OpenBoltBackend", err)
	}
	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Put(key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stateBucket).Put([]byte(key), value)
	})
}

func (b *BoltBackend) Get(key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(stateBucket).Get([]byte(key))
		if v == nil {
			return errs.New(errs.NotFound, "statefs.Get", nil)
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BoltBackend) Delete(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(stateBucket)
		if bkt.Get([]byte(key)) == nil {
			return errs.New(errs.NotFound, "statefs.Delete", nil)
		}
		return bkt.Delete([]byte(key))
	})
}

func (b *BoltBackend) List(prefix string) ([]Entry, error) {
	var out []Entry
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(stateBucket).Cursor()
		bp := []byte(prefix)
		for k, v := c.Seek(bp); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			out = append(out, Entry{Key: string(k), Value: append([]byte(nil), v...)})
		}
		return nil
	})
	if err != nil {
		return nil, errs.New(errs.Internal, "statefs.List", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Sync forces bbolt's database file to be fsynced, mirroring the durability
// guarantee statefs promises on an acknowledged write.
func (b *BoltBackend) Sync() error {
	return b.db.Sync()
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}

func (b *BoltBackend) Persistent() bool { return true }
