package bundle

import (
	"encoding/json"
	"sort"

	"github.com/nexuscore/nexus/pkg/errs"
)

// SystemSetEntry is one row of a system.json index.
type SystemSetEntry struct {
	BundleID string `json:"bundle_id"`
	Digest   string `json:"digest"` // hex-encoded SHA-256
	Size     uint64 `json:"size"`
}

// systemSetDoc is the on-disk JSON shape of system.json, grounded on the
// JSON-marshal-to-bytes idiom for storage values
// (pkg/storage/boltdb.go's json.Marshal-before-Put pattern, here used for a
// file payload instead of a bbolt value).
type systemSetDoc struct {
	Name      string           `json:"name"`
	Entries   []SystemSetEntry `json:"entries"`
	Signature []byte           `json:"signature,omitempty"`
}

// SystemSet is the signed index of bundles making up one slot's contents.
type SystemSet struct {
	Name      string
	Entries   []SystemSetEntry
	Signature []byte
}

// sortedEntries returns a copy of entries sorted by BundleID, so
// CanonicalJSON is independent of construction order.
func sortedEntries(entries []SystemSetEntry) []SystemSetEntry {
	out := append([]SystemSetEntry(nil), entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].BundleID < out[j].BundleID })
	return out
}

// CanonicalJSON returns the bytes a signature is computed over: the
// document with entries sorted and Signature omitted.
func (s SystemSet) CanonicalJSON() ([]byte, error) {
	doc := systemSetDoc{Name: s.Name, Entries: sortedEntries(s.Entries)}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, errs.New(errs.Internal, "bundle.CanonicalJSON", err)
	}
	return data, nil
}

// Encode serializes the full signed document to system.json bytes.
func (s SystemSet) Encode() ([]byte, error) {
	doc := systemSetDoc{Name: s.Name, Entries: sortedEntries(s.Entries), Signature: s.Signature}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, errs.New(errs.Internal, "bundle.SystemSet.Encode", err)
	}
	return data, nil
}

// DecodeSystemSet parses a system.json document.
func DecodeSystemSet(data []byte) (SystemSet, error) {
	var doc systemSetDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return SystemSet{}, errs.New(errs.InvalidArg, "bundle.DecodeSystemSet", err)
	}
	return SystemSet{Name: doc.Name, Entries: doc.Entries, Signature: doc.Signature}, nil
}
