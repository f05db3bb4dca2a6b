// ABOUTME: BLAKE3 content digests for message payloads
// ABOUTME: Domain-keyed hashing so message digests never collide with other uses

package digest

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"
)

// messageDomainKey is the fixed 32-byte key for BLAKE3 keyed hashing of
// message content. The bytes are the ASCII domain name zero-padded to 32;
// changing it invalidates every recorded digest.
var messageDomainKey = [32]byte{
	'r', 'e', 'l', 'a', 'y', 'h', 'u', 'b', '.',
	'm', 'e', 's', 's', 'a', 'g', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Message computes the hex-encoded digest of a message's content payload.
// The payload is canonicalized through encoding/json, which emits map keys
// in sorted order, so logically equal payloads digest identically.
func Message(content map[string]any) (string, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("canonicalizing content: %w", err)
	}

	hasher, err := blake3.NewKeyed(messageDomainKey[:])
	if err != nil {
		return "", fmt.Errorf("initializing hasher: %w", err)
	}
	_, _ = hasher.Write(data)

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
