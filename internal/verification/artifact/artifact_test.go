package artifact

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"vouch/pkg/platform/sentinel"
)

var pdfBytes = []byte("%PDF-1.7\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF")

type store interface {
	Put(ctx context.Context, u Upload) (Artifact, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

type StoreSuite struct {
	suite.Suite
	newStore func(policy Policy) store
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func(p Policy) store { return NewMemoryStore(p) }})
}

func TestFileStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func(p Policy) store {
		s, err := NewFileStore(t.TempDir(), p)
		require.NoError(t, err)
		return s
	}})
}

func (s *StoreSuite) policy() Policy {
	return Policy{MaxBytes: 1024, AllowedTypes: []string{"application/pdf", "image/png"}}
}

func (s *StoreSuite) TestPutThenGetReturnsSameBytes() {
	st := s.newStore(s.policy())
	ctx := context.Background()

	art, err := st.Put(ctx, Upload{Data: pdfBytes, DeclaredType: "application/pdf"})
	s.Require().NoError(err)
	s.Equal(RefFor(Digest(pdfBytes)), art.Ref)
	s.Equal(int64(len(pdfBytes)), art.SizeBytes)

	got, err := st.Get(ctx, art.Ref)
	s.Require().NoError(err)
	s.Equal(pdfBytes, got)
}

func (s *StoreSuite) TestSameContentSameRef() {
	st := s.newStore(s.policy())
	ctx := context.Background()

	a, err := st.Put(ctx, Upload{Data: pdfBytes})
	s.Require().NoError(err)
	b, err := st.Put(ctx, Upload{Data: pdfBytes})
	s.Require().NoError(err)
	s.Equal(a.Ref, b.Ref)
}

func (s *StoreSuite) TestSniffsTypeWhenUndeclared() {
	st := s.newStore(s.policy())

	art, err := st.Put(context.Background(), Upload{Data: pdfBytes})
	s.Require().NoError(err)
	s.Equal("application/pdf", art.ContentType)
}

func (s *StoreSuite) TestRejectsOversize() {
	st := s.newStore(Policy{MaxBytes: 8})

	_, err := st.Put(context.Background(), Upload{Data: pdfBytes})
	s.ErrorIs(err, sentinel.ErrTooLarge)
}

func (s *StoreSuite) TestRejectsDisallowedType() {
	st := s.newStore(s.policy())

	_, err := st.Put(context.Background(), Upload{Data: []byte("hello"), DeclaredType: "text/plain; charset=utf-8"})
	s.ErrorIs(err, sentinel.ErrUnsupported)
}

func (s *StoreSuite) TestRejectsEmpty() {
	st := s.newStore(s.policy())

	_, err := st.Put(context.Background(), Upload{})
	s.ErrorIs(err, sentinel.ErrUnsupported)
}

func (s *StoreSuite) TestGetUnknownOrMalformedRef() {
	st := s.newStore(s.policy())
	ctx := context.Background()

	_, err := st.Get(ctx, RefFor(Digest([]byte("never stored"))))
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = st.Get(ctx, "artifact://sha256/../../etc/passwd")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
