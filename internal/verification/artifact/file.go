package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"vouch/pkg/platform/sentinel"
)

// FileStore keeps artifacts under a directory, sharded by the first two hex
// characters of the digest. Writes go to a temp file and are renamed into place,
// so readers never observe a partial artifact.
type FileStore struct {
	policy Policy
	dir    string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string, policy Policy) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &FileStore{policy: policy, dir: dir}, nil
}

func (s *FileStore) Put(ctx context.Context, u Upload) (Artifact, error) {
	contentType, err := s.policy.Check(u)
	if err != nil {
		return Artifact{}, err
	}
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}

	digest := Digest(u.Data)
	art := Artifact{Ref: RefFor(digest), Digest: digest, ContentType: contentType, SizeBytes: int64(len(u.Data))}

	path := s.path(digest)
	if _, err := os.Stat(path); err == nil {
		return art, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return Artifact{}, fmt.Errorf("create shard dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), digest+".*.tmp")
	if err != nil {
		return Artifact{}, fmt.Errorf("create temp artifact: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(u.Data); err != nil {
		_ = tmp.Close()
		return Artifact{}, fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return Artifact{}, fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Artifact{}, fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return Artifact{}, fmt.Errorf("commit artifact: %w", err)
	}
	return art, nil
}

func (s *FileStore) Get(_ context.Context, ref string) ([]byte, error) {
	digest, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(digest))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("artifact %s: %w", digest, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// Health verifies the directory is still reachable.
func (s *FileStore) Health(context.Context) error {
	_, err := os.Stat(s.dir)
	return err
}

func (s *FileStore) path(digest string) string {
	return filepath.Join(s.dir, digest[:2], digest)
}
