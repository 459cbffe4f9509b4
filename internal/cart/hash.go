package cart

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainSnapshot prefixes snapshot hashes. The version suffix leaves room
// for a future algorithm change.
const DomainSnapshot = "cartsync/snapshot/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SnapshotHash returns a content hash of a cart snapshot. Nil and empty
// collections hash the same.
func SnapshotHash(c *Cart) (string, error) {
	if c == nil {
		return "", fmt.Errorf("SnapshotHash: nil cart")
	}
	n := c.Clone()
	n.Normalize()
	canonical, err := MarshalCanonical(n)
	if err != nil {
		return "", fmt.Errorf("SnapshotHash: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}

// ContentHash hashes the snapshot without its Sequence stamp. Two carts with
// the same content hash hold the same lines, codes, gift cards and costs.
func ContentHash(c *Cart) (string, error) {
	n := c.Clone()
	if n != nil {
		n.Sequence = 0
	}
	return SnapshotHash(n)
}
