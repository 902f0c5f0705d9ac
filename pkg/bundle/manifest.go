// Package bundle gives concrete byte shape to the .nxb bundle format and the
// .nxs system-set index: a versioned binary manifest encoding plus a signed
// JSON index, both round-trip deterministic.
package bundle

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"github.com/nexuscore/nexus/pkg/errs"
)

// FormatVersion is the only manifest encoding this package emits or accepts.
// A manifest with a different version is rejected outright rather than
// partially parsed.
const FormatVersion uint8 = 1

// Manifest is the decoded form of a bundle's .nxb header. Grounded on the
// pkg/manager/fsm.go Command{Op, Data} tagged-variant idiom: a
// small fixed header followed by variable-length fields, laid out so a
// reader never has to guess a field's length.
type Manifest struct {
	FormatVersion uint8
	BundleID      string
	SemVer        string
	PayloadDigest [32]byte
	PayloadSize   uint64
	DeclaredCaps  []string
	EntryPoint    string
	Signature     []byte // empty until Sign is called
}

func putString(buf *bytes.Buffer, s string) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
}

func getString(r *bytes.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := r.Read(lenBuf[:]); err != nil {
		return "", errs.New(errs.InvalidArg, "bundle.getString", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if int(n) > r.Len() {
		return "", errs.New(errs.InvalidArg, "bundle.getString", nil)
	}
	buf := make([]byte, n)
	if _, err := r.Read(buf); err != nil {
		return "", errs.New(errs.InvalidArg, "bundle.getString", err)
	}
	return string(buf), nil
}

// encodeUnsigned writes every field except Signature — this is the
// canonical byte sequence Sign/Verify operate over, so appending a
// signature can never change what it covers.
func (m Manifest) encodeUnsigned() []byte {
	var buf bytes.Buffer
	buf.WriteByte(m.FormatVersion)
	putString(&buf, m.BundleID)
	putString(&buf, m.SemVer)
	buf.Write(m.PayloadDigest[:])
	var sizeBuf [8]byte
	binary.BigEndian.PutUint64(sizeBuf[:], m.PayloadSize)
	buf.Write(sizeBuf[:])

	var capCount [4]byte
	binary.BigEndian.PutUint32(capCount[:], uint32(len(m.DeclaredCaps)))
	buf.Write(capCount[:])
	for _, c := range m.DeclaredCaps {
		putString(&buf, c)
	}
	putString(&buf, m.EntryPoint)
	return buf.Bytes()
}

// CanonicalBytes returns the bytes a signature is computed over.
func (m Manifest) CanonicalBytes() []byte { return m.encodeUnsigned() }

// Encode serializes the full manifest, signature included, deterministically
// — Encode, Decode, Encode again yields byte-identical output.
func (m Manifest) Encode() []byte {
	unsigned := m.encodeUnsigned()
	var buf bytes.Buffer
	buf.Write(unsigned)
	var sigLen [4]byte
	binary.BigEndian.PutUint32(sigLen[:], uint32(len(m.Signature)))
	buf.Write(sigLen[:])
	buf.Write(m.Signature)
	return buf.Bytes()
}

// DecodeManifest parses a byte-encoded manifest produced by Encode.
func DecodeManifest(data []byte) (Manifest, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return Manifest{}, errs.New(errs.InvalidArg, "bundle.DecodeManifest", err)
	}
	if version != FormatVersion {
		return Manifest{}, errs.New(errs.InvalidArg, "bundle.DecodeManifest", nil)
	}

	bundleID, err := getString(r)
	if err != nil {
		return Manifest{}, err
	}
	semVer, err := getString(r)
	if err != nil {
		return Manifest{}, err
	}

	var digest [32]byte
	if _, err := r.Read(digest[:]); err != nil {
		return Manifest{}, errs.New(errs.InvalidArg, "bundle.DecodeManifest", err)
	}

	var sizeBuf [8]byte
	if _, err := r.Read(sizeBuf[:]); err != nil {
		return Manifest{}, errs.New(errs.InvalidArg, "bundle.DecodeManifest", err)
	}
	payloadSize := binary.BigEndian.Uint64(sizeBuf[:])

	var capCountBuf [4]byte
	if _, err := r.Read(capCountBuf[:]); err != nil {
		return Manifest{}, errs.New(errs.InvalidArg, "bundle.DecodeManifest", err)
	}
	capCount := binary.BigEndian.Uint32(capCountBuf[:])
	if capCount > 1<<16 {
		return Manifest{}, errs.New(errs.InvalidArg, "bundle.DecodeManifest", nil)
	}
	caps := make([]string, capCount)
	for i := range caps {
		c, err := getString(r)
		if err != nil {
			return Manifest{}, err
		}
		caps[i] = c
	}

	entryPoint, err := getString(r)
	if err != nil {
		return Manifest{}, err
	}

	var sigLenBuf [4]byte
	if _, err := r.Read(sigLenBuf[:]); err != nil {
		return Manifest{}, errs.New(errs.InvalidArg, "bundle.DecodeManifest", err)
	}
	sigLen := binary.BigEndian.Uint32(sigLenBuf[:])
	if int(sigLen) > r.Len() {
		return Manifest{}, errs.New(errs.InvalidArg, "bundle.DecodeManifest", nil)
	}
	var sig []byte
	if sigLen > 0 {
		sig = make([]byte, sigLen)
		if _, err := r.Read(sig); err != nil {
			return Manifest{}, errs.New(errs.InvalidArg, "bundle.DecodeManifest", err)
		}
	}

	if r.Len() != 0 {
		return Manifest{}, errs.New(errs.InvalidArg, "bundle.DecodeManifest", nil)
	}

	return Manifest{
		FormatVersion: version,
		BundleID:      bundleID,
		SemVer:        semVer,
		PayloadDigest: digest,
		PayloadSize:   payloadSize,
		DeclaredCaps:  caps,
		EntryPoint:    entryPoint,
		Signature:     sig,
	}, nil
}

// VerifyPayloadDigest reports whether payload's SHA-256 matches the
// manifest's declared digest.
func (m Manifest) VerifyPayloadDigest(payload []byte) bool {
	sum := sha256.Sum256(payload)
	return sum == m.PayloadDigest
}
