package anchor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vouch/internal/verification/models"
	id "vouch/pkg/domain"
)

func TestKeccakAnchor(t *testing.T) {
	v := &models.Verification{
		ID:          id.NewVerificationID(),
		SubjectID:   id.NewSubjectID(),
		Kind:        models.DocumentKind(models.DocumentPassport),
		ArtifactRef: "artifact://sha256/00",
	}

	first, err := Keccak{}.Anchor(context.Background(), v, 0.91)
	require.NoError(t, err)
	assert.Regexp(t, `^0x[0-9a-f]{64}$`, first)

	again, err := Keccak{}.Anchor(context.Background(), v, 0.91)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	other, err := Keccak{}.Anchor(context.Background(), v, 0.92)
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}
