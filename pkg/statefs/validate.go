package statefs

import (
	"strings"
	"unicode/utf8"

	"github.com/nexuscore/nexus/pkg/errs"
)

// Bounds shared by every Store implementation so callers see identical
// limits regardless of backend.
const (
	MaxKeyLen   = 256
	MaxValueLen = 1 << 20 // 1 MiB
)

// SharedPrefix is the one subtree writable without a statefs.write policy
// grant — every other key requires an explicit allow from policyd.
const SharedPrefix = "/state/shared/"

func validateKey(key string) error {
	if key == "" || len(key) > MaxKeyLen {
		return errs.New(errs.InvalidArg, "statefs", nil)
	}
	if !utf8.ValidString(key) {
		return errs.New(errs.InvalidArg, "statefs", nil)
	}
	if !strings.HasPrefix(key, "/") {
		return errs.New(errs.InvalidArg, "statefs", nil)
	}
	return nil
}

func validateValue(value []byte) error {
	if len(value) > MaxValueLen {
		return errs.New(errs.OverLimit, "statefs", nil)
	}
	return nil
}

// RequiresPolicy reports whether a write to key needs a statefs.write grant.
func RequiresPolicy(key string) bool {
	return !strings.HasPrefix(key, SharedPrefix)
}
