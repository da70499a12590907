// ABOUTME: This file computes the deterministic content hash used for item dedup
// ABOUTME: The hash depends only on feed id and entry identity, never on fetch time
package fetcher

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// ContentHash derives the dedup key for one feed entry. Identity preference
// is guid, then link, then title+published. SHA-256 truncated to 128 bits.
func ContentHash(feedID int64, guid, link, title, published string) string {
	key := guid
	if key == "" {
		key = link
	}
	if key == "" {
		key = title + "|" + published
	}

	sum := sha256.Sum256([]byte(strconv.FormatInt(feedID, 10) + "\n" + key))
	return hex.EncodeToString(sum[:16])
}
