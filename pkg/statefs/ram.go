package statefs

import (
	"sort"
	"strings"
	"sync"

	"github.com/nexuscore/nexus/pkg/errs"
)

// RAMBackend is the non-persistent Store: every write survives only for the
// life of the process. Its readiness marker must carry the explicit
// "(non-persistent)" suffix per boot convention so an operator never
// mistakes it for durable state.
type RAMBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewRAMBackend constructs an empty in-memory Store.
func NewRAMBackend() *RAMBackend {
	return &RAMBackend{data: make(map[string][]byte)}
}

func (r *RAMBackend) Put(key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := append([]byte(nil), value...)
	r.data[key] = cp
	return nil
}

func (r *RAMBackend) Get(key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.data[key]
	if !ok {
		return nil, errs.New(errs.NotFound, "statefs.Get", nil)
	}
	return append([]byte(nil), v...), nil
}

func (r *RAMBackend) Delete(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[key]; !ok {
		return errs.New(errs.NotFound, "statefs.Delete", nil)
	}
	delete(r.data, key)
	return nil
}

func (r *RAMBackend) List(prefix string) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for k, v := range r.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, Entry{Key: k, Value: append([]byte(nil), v...)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *RAMBackend) Sync() error { return nil }

func (r *RAMBackend) Close() error { return nil }

func (r *RAMBackend) Persistent() bool { return false }
