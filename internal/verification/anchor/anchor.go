// Package anchor produces the ledger hash recorded on verified requests. The
// ledger itself is simulated: the hash is a Keccak-256 commitment over the
// verification's identifying fields, formatted like an EVM transaction hash.
package anchor

import (
	"context"
	"encoding/hex"
	"strconv"

	"golang.org/x/crypto/sha3"

	"vouch/internal/verification/models"
)

// Keccak anchors by hashing the request's identity and result.
type Keccak struct{}

// Anchor returns "0x" followed by 64 lowercase hex digits. The same request
// and score always yield the same hash.
func (Keccak) Anchor(_ context.Context, v *models.Verification, confidence float64) (string, error) {
	h := sha3.NewLegacyKeccak256()
	for _, part := range []string{
		v.ID.String(),
		v.SubjectID.String(),
		v.Kind.String(),
		v.ArtifactRef,
		strconv.FormatFloat(confidence, 'f', -1, 64),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "0x" + hex.EncodeToString(h.Sum(nil)), nil
}
