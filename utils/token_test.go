package utils

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseToken(t *testing.T) {
	id := uuid.New()
	raw, exp, err := GenerateToken("secret", id, "a@example.com", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := ParseToken("secret", raw)
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID)
	assert.Equal(t, "a@example.com", claims.Email)
}

func TestParseToken_Rejects(t *testing.T) {
	id := uuid.New()
	good, _, err := GenerateToken("secret", id, "", time.Hour)
	require.NoError(t, err)
	expired, _, err := GenerateToken("secret", id, "", -time.Minute)
	require.NoError(t, err)
	noUser, _, err := GenerateToken("secret", uuid.Nil, "", time.Hour)
	require.NoError(t, err)

	tests := map[string]struct{ secret, raw string }{
		"wrong secret": {"other", good},
		"expired":      {"secret", expired},
		"garbage":      {"secret", "not.a.token"},
		"nil user":     {"secret", noUser},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseToken(tt.secret, tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestPaginationQuery_Normalize(t *testing.T) {
	p := PaginationQuery{Page: 0, Limit: 1000}
	p.Normalize()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 100, p.Limit)
	assert.Equal(t, 0, p.Offset())

	p = PaginationQuery{Page: 3, Limit: 20}
	p.Normalize()
	assert.Equal(t, 40, p.Offset())
}
