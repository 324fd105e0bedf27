//go:build unit || e2e

package authtest

import (
	"testing"
	"time"

	"yoyaku-core/internal/pkg/jwt"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// IssueTenantToken mints a token the way the platform's auth service would,
// signed with the same shared secret the server validates against.
func IssueTenantToken(t *testing.T, secret string, tenantID uuid.UUID, actor string) string {
	t.Helper()

	token, err := jwt.NewService(secret).GenerateToken(tenantID, actor, time.Hour)
	require.NoError(t, err, "Failed to issue tenant token")
	return token
}
