package payments

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ReferencePrefix identifies references minted by this service. Verification
// uses it to repair references that lost the prefix in transit.
const ReferencePrefix = "txn_"

const referenceEntropyBytes = 6

// MintReference produces a new unique payment reference of the form
// txn_<unix-seconds>_<12 hex chars>.
func MintReference() string {
	var buf [referenceEntropyBytes]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// Degrade to a time-derived suffix rather than panic inside checkout.
		return fmt.Sprintf("%s%d_%012x", ReferencePrefix, time.Now().Unix(), uint64(time.Now().UnixNano())&0xffffffffffff)
	}
	return fmt.Sprintf("%s%d_%s", ReferencePrefix, time.Now().Unix(), hex.EncodeToString(buf[:]))
}

// HasReferencePrefix reports whether the value looks like a service-minted
// reference.
func HasReferencePrefix(reference string) bool {
	return strings.HasPrefix(reference, ReferencePrefix)
}

// WithReferencePrefix returns the value with the service prefix prepended
// when missing.
func WithReferencePrefix(reference string) string {
	if HasReferencePrefix(reference) {
		return reference
	}
	return ReferencePrefix + reference
}
