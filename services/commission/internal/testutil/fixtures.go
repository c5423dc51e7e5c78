package testutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/vivian5285/panda-quant/libs/auth"
)

var (
	DemoUserID     = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	ReferrerUserID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	UplineUserID   = uuid.MustParse("00000000-0000-0000-0000-000000000003")
	AdminUserID    = uuid.MustParse("00000000-0000-0000-0000-0000000000ad")
)

func GenerateJWT(userID uuid.UUID, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	return auth.SignJWT(userID.String(), []string{"user"}, secret, ttl, now)
}

func GenerateAdminJWT(userID uuid.UUID, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	return auth.SignJWT(userID.String(), []string{"user", auth.RoleAdmin}, secret, ttl, now)
}
