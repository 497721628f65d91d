package build

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

const (
	// FingerprintPrefixLen is the length of the fingerprint prefix embedded in served file names.
	FingerprintPrefixLen = 9
	// Placeholder fills version slots of unresolved and intra-cycle dependencies.
	Placeholder = "xxxxxxxxx"
)

// Fingerprint returns the sha1 hex digest of the emitted content.
func Fingerprint(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// ShortFingerprint returns the prefix of the fingerprint used in served file names.
func ShortFingerprint(fp string) string {
	if len(fp) < FingerprintPrefixLen {
		return Placeholder
	}
	return fp[:FingerprintPrefixLen]
}

// SourceDigest returns the change-detection digest of the source text.
// The salt invalidates every digest when changed.
func SourceDigest(data []byte, salt string) string {
	h := xxhash.New()
	h.Write(data)
	if salt != "" {
		h.WriteString(salt)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// cycleVersion returns the version token shared by the members of an import cycle. The members are
// sorted by id, the slots of the imports within the cycle hold the placeholder.
func cycleVersion(members []*Module) string {
	h := sha1.New()
	for _, m := range members {
		h.Write([]byte(m.ID))
		h.Write([]byte{0})
		h.Write(m.Content)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:FingerprintPrefixLen]
}

// checkCollision rejects a new version of the module whose served path can not be told apart from
// the previous one.
func checkCollision(id string, prev *Module, next *Module) error {
	if prev != nil && prev.Fingerprint != "" && prev.Fingerprint != next.Fingerprint && prev.version() == next.version() {
		return fmt.Errorf("%s: %w (%s, %s)", id, ErrFingerprintCollision, prev.Fingerprint, next.Fingerprint)
	}
	return nil
}
