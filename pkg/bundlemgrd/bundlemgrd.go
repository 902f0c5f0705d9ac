// Package bundlemgrd verifies, stages, and publishes bundles that make up
// one system slot's contents. It is the only service that writes under
// /system, and it never writes there until a staged install has fully
// verified — a partial or corrupt install never becomes visible.
package bundlemgrd

import (
	"fmt"
	"sync"

	"github.com/nexuscore/nexus/pkg/bundle"
	"github.com/nexuscore/nexus/pkg/errs"
	"github.com/nexuscore/nexus/pkg/ipc"
	"github.com/nexuscore/nexus/pkg/statefs"
	"github.com/nexuscore/nexus/pkg/trust"
	"github.com/nexuscore/nexus/pkg/types"
	"github.com/nexuscore/nexus/pkg/uart"
)

// Authorizer is the narrow policyd surface bundlemgrd needs.
type Authorizer interface {
	Check(subject ipc.ServiceID, action string, fields map[string]string) (types.Decision, string)
}

// Audit is the narrow logd surface bundlemgrd needs to record a failed
// install that never reaches Authorizer.Check, so every Install failure —
// not just a policy denial — leaves an audit record.
type Audit interface {
	Append(sender ipc.ServiceID, level types.LogLevel, scope, message string, fieldsBlob []byte) error
}

// Manager owns the staging/publication lifecycle. Grounded on
// pkg/deploy/deploy.go's verify-then-mutate sequencing (resolve inputs,
// validate, only then write and log) and pkg/storage/boltdb.go's
// bucket-per-entity CRUD idiom, here a statefs key prefix per slot instead
// of a bbolt bucket.
type Manager struct {
	store  statefs.Store
	trust  *trust.Authority
	policy Authorizer
	audit  Audit
	mirror *uart.Sink

	mu         sync.RWMutex
	activeSlot types.Slot
}

// New constructs a Manager. The active slot starts at types.SlotA, matching
// a fresh-boot default. audit may be nil, in which case integrity failures
// still reject the install but leave no structured log record.
func New(store statefs.Store, trustAuthority *trust.Authority, policy Authorizer, audit Audit, mirror *uart.Sink) *Manager {
	return &Manager{store: store, trust: trustAuthority, policy: policy, audit: audit, mirror: mirror, activeSlot: types.SlotA}
}

func stagingPrefix(slot types.Slot, bundleID string) string {
	return fmt.Sprintf("/system/%s/%s/", slot, bundleID)
}

func publishedPrefix(slot types.Slot) string {
	return fmt.Sprintf("/system/%s/", slot)
}

// Install parses manifestBytes, verifies the payload digest and signature,
// checks policy, and stages the bundle under the standby slot. It never
// touches the active slot's published view. The signature check is skipped
// when the manifest's Signature is empty or the Manager has no trust
// Authority; such a manifest is staged on its payload digest alone.
func (m *Manager) Install(caller ipc.ServiceID, manifestBytes, payload []byte, standby types.Slot) (types.Bundle, error) {
	manifest, err := bundle.DecodeManifest(manifestBytes)
	if err != nil {
		m.recordAudit(caller, "", "malformed_manifest")
		return types.Bundle{}, errs.New(errs.InvalidArg, "bundlemgrd.Install", err)
	}

	if !manifest.VerifyPayloadDigest(payload) {
		m.recordAudit(caller, manifest.BundleID, "digest_mismatch")
		return types.Bundle{}, errs.New(errs.IntegrityError, "bundlemgrd.Install", nil)
	}

	if m.trust != nil && len(manifest.Signature) > 0 {
		if err := m.trust.Verify(manifest.CanonicalBytes(), manifest.Signature); err != nil {
			m.recordAudit(caller, manifest.BundleID, "signature_invalid")
			return types.Bundle{}, errs.New(errs.IntegrityError, "bundlemgrd.Install", err)
		}
	}

	if m.policy != nil {
		if d, _ := m.policy.Check(caller, "bundle.install", map[string]string{"bundle_id": manifest.BundleID}); d == types.Deny {
			return types.Bundle{}, errs.New(errs.PermissionDenied, "bundlemgrd.Install", nil)
		}
	}

	prefix := stagingPrefix(standby, manifest.BundleID)
	if err := m.store.Put(prefix+"manifest", manifestBytes); err != nil {
		m.recordAudit(caller, manifest.BundleID, "store_error")
		return types.Bundle{}, errs.New(errs.Internal, "bundlemgrd.Install", err)
	}
	if err := m.store.Put(prefix+"payload", payload); err != nil {
		m.recordAudit(caller, manifest.BundleID, "store_error")
		return types.Bundle{}, errs.New(errs.Internal, "bundlemgrd.Install", err)
	}

	return types.Bundle{
		FormatVersion: manifest.FormatVersion,
		BundleID:      manifest.BundleID,
		SemVer:        manifest.SemVer,
		PayloadDigest: manifest.PayloadDigest,
		PayloadSize:   manifest.PayloadSize,
		DeclaredCaps:  manifest.DeclaredCaps,
		EntryPoint:    manifest.EntryPoint,
		Signature:     manifest.Signature,
	}, nil
}

func (m *Manager) recordAudit(caller ipc.ServiceID, bundleID, reason string) {
	if m.audit == nil {
		return
	}
	_ = m.audit.Append(caller, types.LevelWarn, "bundlemgrd", "install rejected ("+reason+") bundle="+bundleID, nil)
}

// SetActiveSlot republishes consumers to read from slot. It is a pure
// pointer swap in statefs terms: bundlemgrd never copies staged bytes into
// a separate "active" keyspace, it just changes which prefix Query/List
// read from.
func (m *Manager) SetActiveSlot(slot types.Slot) {
	m.mu.Lock()
	m.activeSlot = slot
	m.mu.Unlock()
	if m.mirror != nil {
		m.mirror.Markf("bundlemgrd: slot %s active", slot)
	}
}

// ActiveSlot reports the currently published slot.
func (m *Manager) ActiveSlot() types.Slot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeSlot
}

// Query reads one bundle's manifest from the active slot.
func (m *Manager) Query(bundleID string) (types.Bundle, error) {
	prefix := publishedPrefix(m.ActiveSlot()) + bundleID + "/"
	data, err := m.store.Get(prefix + "manifest")
	if err != nil {
		return types.Bundle{}, errs.New(errs.NotFound, "bundlemgrd.Query", err)
	}
	manifest, err := bundle.DecodeManifest(data)
	if err != nil {
		return types.Bundle{}, errs.New(errs.IntegrityError, "bundlemgrd.Query", err)
	}
	return types.Bundle{
		FormatVersion: manifest.FormatVersion,
		BundleID:      manifest.BundleID,
		SemVer:        manifest.SemVer,
		PayloadDigest: manifest.PayloadDigest,
		PayloadSize:   manifest.PayloadSize,
		DeclaredCaps:  manifest.DeclaredCaps,
		EntryPoint:    manifest.EntryPoint,
		Signature:     manifest.Signature,
	}, nil
}

// List enumerates every bundle published in the active slot.
func (m *Manager) List() ([]string, error) {
	entries, err := m.store.List(publishedPrefix(m.ActiveSlot()))
	if err != nil {
		return nil, errs.New(errs.Internal, "bundlemgrd.List", err)
	}
	seen := make(map[string]bool)
	var ids []string
	for _, e := range entries {
		// Keys look like /system/<slot>/<bundle_id>/manifest — take the id segment.
		id := bundleIDFromKey(e.Key)
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func bundleIDFromKey(key string) string {
	// "/system/a/bundle-1/manifest" -> "bundle-1"
	parts := splitNonEmpty(key, '/')
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
