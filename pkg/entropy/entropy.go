// Package entropy gates encryption and persistent-device-identity features
// on the platform CSPRNG actually working at boot. A failed read here is
// the difference between "insecure" and "silently insecure".
package entropy

import (
	"crypto/rand"
	"sync"
)

// Status is the one-time result of Check.
type Status struct {
	Healthy bool
	Err     error
}

var (
	once   sync.Once
	status Status
)

// readProbe reads a small sample from crypto/rand, standing in for the
// platform CSPRNG self-test a real kernel would run at boot.
func readProbe() error {
	var buf [32]byte
	_, err := rand.Read(buf[:])
	return err
}

// Check runs the CSPRNG self-test exactly once and caches the verdict;
// every caller in the process observes the same result.
func Check() Status {
	once.Do(func() {
		err := readProbe()
		status = Status{Healthy: err == nil, Err: err}
	})
	return status
}

// Reset clears the cached verdict. Test-only: production code calls Check
// exactly once per process lifetime.
func Reset() {
	once = sync.Once{}
	status = Status{}
}

// MarkerSuffix returns the suffix a readiness marker should carry when
// entropy is unhealthy, or the empty string when it is fine.
func MarkerSuffix() string {
	if Check().Healthy {
		return ""
	}
	return " (insecure: no entropy)"
}
