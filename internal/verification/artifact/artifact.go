// Package artifact stores uploaded verification artifacts by content. A
// reference is derived from the SHA-256 of the bytes, so it is stable and any
// processor can re-fetch the exact bytes that were submitted.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"vouch/pkg/platform/sentinel"
)

const refPrefix = "artifact://sha256/"

// Upload is one artifact as received from the client.
type Upload struct {
	Data         []byte
	DeclaredType string
	FileName     string
}

// Artifact describes a stored artifact.
type Artifact struct {
	Ref         string
	Digest      string
	ContentType string
	SizeBytes   int64
}

// Policy bounds what may be stored.
type Policy struct {
	MaxBytes     int64
	AllowedTypes []string
}

// Check validates data against the policy and returns the effective content
// type: the declared type when present, otherwise one sniffed from the bytes.
func (p Policy) Check(u Upload) (string, error) {
	if len(u.Data) == 0 {
		return "", fmt.Errorf("empty artifact: %w", sentinel.ErrUnsupported)
	}
	if p.MaxBytes > 0 && int64(len(u.Data)) > p.MaxBytes {
		return "", fmt.Errorf("artifact of %d bytes exceeds %d: %w", len(u.Data), p.MaxBytes, sentinel.ErrTooLarge)
	}

	contentType := normalizeType(u.DeclaredType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = normalizeType(http.DetectContentType(u.Data))
	}
	if len(p.AllowedTypes) > 0 && !contains(p.AllowedTypes, contentType) {
		return "", fmt.Errorf("content type %q: %w", contentType, sentinel.ErrUnsupported)
	}
	return contentType, nil
}

// Digest returns the hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RefFor returns the reference for a digest.
func RefFor(digest string) string {
	return refPrefix + digest
}

// ParseRef extracts the digest from a reference.
func ParseRef(ref string) (string, error) {
	digest, ok := strings.CutPrefix(ref, refPrefix)
	if !ok || len(digest) != sha256.Size*2 {
		return "", fmt.Errorf("malformed artifact ref %q: %w", ref, sentinel.ErrNotFound)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("malformed artifact ref %q: %w", ref, sentinel.ErrNotFound)
	}
	return digest, nil
}

func normalizeType(t string) string {
	t = strings.TrimSpace(t)
	if t == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(t)
	if err != nil {
		return strings.ToLower(t)
	}
	return strings.ToLower(mediaType)
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
