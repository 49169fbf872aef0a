package lifecycle

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// NewPickupCode returns a 4-digit numeric code, zero-padded. Issued once per
// ride as part of the accept side effect.
func NewPickupCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		// crypto/rand only fails if the OS entropy source is broken;
		// a handshake code is not worth crashing the transition over.
		return "0000"
	}
	return fmt.Sprintf("%04d", n.Int64())
}
