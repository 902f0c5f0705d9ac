package logd

import (
	"bytes"

	"github.com/nexuscore/nexus/pkg/errs"
)

// Bounds on one Append call, mirroring pkg/statefs/validate.go's
// max-key/max-value shape: a handful of named constants checked up front,
// INVALID_ARG for malformed input and OVER_LIMIT for anything merely too
// big.
const (
	MaxMessageLen    = 4096
	MaxFieldsBlobLen = 16 << 10 // 16 KiB
	MaxFieldCount    = 64
	MaxFieldKeyLen   = 128
	MaxFieldValueLen = 1024
)

func validateMessage(message string) error {
	if len(message) > MaxMessageLen {
		return errs.New(errs.OverLimit, "logd.Append", nil)
	}
	return nil
}

// validateFieldsBlob checks the overall blob size, then walks its
// deterministic "key=value" lines to check field count and per-field
// lengths.
func validateFieldsBlob(blob []byte) error {
	if len(blob) == 0 {
		return nil
	}
	if len(blob) > MaxFieldsBlobLen {
		return errs.New(errs.OverLimit, "logd.Append", nil)
	}

	lines := bytes.Split(blob, []byte("\n"))
	fields := 0
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		fields++
		if fields > MaxFieldCount {
			return errs.New(errs.OverLimit, "logd.Append", nil)
		}
		idx := bytes.IndexByte(line, '=')
		if idx < 0 {
			return errs.New(errs.InvalidArg, "logd.Append", nil)
		}
		key, value := line[:idx], line[idx+1:]
		if len(key) == 0 {
			return errs.New(errs.InvalidArg, "logd.Append", nil)
		}
		if len(key) > MaxFieldKeyLen {
			return errs.New(errs.OverLimit, "logd.Append", nil)
		}
		if len(value) > MaxFieldValueLen {
			return errs.New(errs.OverLimit, "logd.Append", nil)
		}
	}
	return nil
}
