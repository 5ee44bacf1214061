package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"Lee_Social/internal/errutil"
	"Lee_Social/internal/model"
	"Lee_Social/internal/pkg"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type authFixture struct {
	db     *memDB
	hasher *countingHasher
	issuer *pkg.TokenIssuer
	svc    *AuthService
	user   *model.User
	now    time.Time
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	f := &authFixture{db: newMemDB(), hasher: testHasher(), now: time.Now()}
	clock := func() time.Time { return f.now }
	issuer, err := pkg.NewTokenIssuer(pkg.TokenConfig{Secret: "test-secret", Issuer: "lee-social"})
	require.NoError(t, err)
	f.issuer = issuer.WithClock(clock)
	f.svc = NewAuthService(f.db, f.hasher, f.issuer, discardLogger()).WithClock(clock)
	f.user = seedUser(t, f.db, f.hasher, "alice", "alice@example.com", "correct-horse")
	return f
}

func TestAuthService_LoginSuccess(t *testing.T) {
	f := newAuthFixture(t)

	sess, err := f.svc.Login(context.Background(), "  Alice@Example.com ", "correct-horse")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.AccessToken)
	assert.NotEmpty(t, sess.RefreshToken)
	assert.Equal(t, f.user.ID, sess.User.ID)
	assert.True(t, sess.AccessTokenExpiresAt.Before(sess.RefreshTokenExpiresAt))

	claims, err := f.issuer.ParseAccess(sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, claims.UserID())
	assert.Equal(t, "alice", claims.Username)

	// 只保存摘要
	stored, err := f.db.RefreshTokens().GetByTokenHash(context.Background(), HashToken(sess.RefreshToken))
	require.NoError(t, err)
	assert.NotEqual(t, sess.RefreshToken, stored.TokenHash)
	assert.False(t, stored.Revoked)

	u, err := f.db.Users().GetByID(context.Background(), f.user.ID)
	require.NoError(t, err)
	require.NotNil(t, u.LastLoginAt)
}

func TestAuthService_LoginFailuresAreIndistinguishable(t *testing.T) {
	f := newAuthFixture(t)

	_, unknownErr := f.svc.Login(context.Background(), "nobody@example.com", "whatever1")
	verifiesAfterUnknown := f.hasher.count()
	_, wrongErr := f.svc.Login(context.Background(), "alice@example.com", "wrong-password")

	errutil.RequireCode(t, unknownErr, CodeInvalidCredentials)
	errutil.RequireCode(t, wrongErr, CodeInvalidCredentials)
	assert.Equal(t, unknownErr.Error(), wrongErr.Error())

	// 邮箱不存在时也跑了一次哈希校验
	assert.Equal(t, 1, verifiesAfterUnknown)
	assert.Equal(t, 2, f.hasher.count())
}

func TestAuthService_RefreshRotates(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	first, err := f.svc.Login(ctx, "alice@example.com", "correct-horse")
	require.NoError(t, err)

	second, err := f.svc.RefreshSession(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, f.user.ID, second.User.ID)

	old, err := f.db.RefreshTokens().GetByTokenHash(ctx, HashToken(first.RefreshToken))
	require.NoError(t, err)
	assert.True(t, old.Revoked)
	require.NotNil(t, old.ReplacedBy)
	assert.Equal(t, HashToken(second.RefreshToken), *old.ReplacedBy)

	fresh, err := f.db.RefreshTokens().GetByTokenHash(ctx, HashToken(second.RefreshToken))
	require.NoError(t, err)
	assert.False(t, fresh.Revoked)
}

func TestAuthService_RefreshReuseRevokesEverything(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	first, err := f.svc.Login(ctx, "alice@example.com", "correct-horse")
	require.NoError(t, err)
	other, err := f.svc.Login(ctx, "alice@example.com", "correct-horse")
	require.NoError(t, err)
	second, err := f.svc.RefreshSession(ctx, first.RefreshToken)
	require.NoError(t, err)

	_, err = f.svc.RefreshSession(ctx, first.RefreshToken)
	errutil.RequireCode(t, err, CodeInvalidRefreshToken)
	errutil.RequireContextValue(t, err, "reuse_detected", true)

	// 轮换链上的新令牌和同一用户的其他会话都失效
	_, err = f.svc.RefreshSession(ctx, second.RefreshToken)
	errutil.RequireCode(t, err, CodeInvalidRefreshToken)
	_, err = f.svc.RefreshSession(ctx, other.RefreshToken)
	errutil.RequireCode(t, err, CodeInvalidRefreshToken)
}

func TestAuthService_RefreshExpired(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Login(ctx, "alice@example.com", "correct-horse")
	require.NoError(t, err)

	f.now = f.now.Add(pkg.DefaultRefreshTTL + time.Second)
	_, err = f.svc.RefreshSession(ctx, sess.RefreshToken)
	errutil.RequireCode(t, err, CodeRefreshTokenExpired)
}

func TestAuthService_RefreshUnknownOrEmpty(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.RefreshSession(context.Background(), "not-a-token")
	errutil.RequireCode(t, err, CodeInvalidRefreshToken)
	_, err = f.svc.RefreshSession(context.Background(), "")
	errutil.RequireCode(t, err, CodeInvalidRefreshToken)
}

func TestAuthService_RefreshForDeletedUser(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Login(ctx, "alice@example.com", "correct-horse")
	require.NoError(t, err)

	f.db.mu.Lock()
	delete(f.db.users, f.user.ID)
	f.db.mu.Unlock()

	_, err = f.svc.RefreshSession(ctx, sess.RefreshToken)
	errutil.RequireCode(t, err, CodeInvalidRefreshToken)
}

func TestAuthService_ConcurrentRefreshHasOneWinner(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Login(ctx, "alice@example.com", "correct-horse")
	require.NoError(t, err)

	const n = 8
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.RefreshSession(ctx, sess.RefreshToken); err == nil {
				wins.Add(1)
			} else {
				assert.True(t, HasCode(err, CodeInvalidRefreshToken), "unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
}

func TestAuthService_LogoutIsIdempotent(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Login(ctx, "alice@example.com", "correct-horse")
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, sess.RefreshToken))
	require.NoError(t, f.svc.Logout(ctx, sess.RefreshToken))
	require.NoError(t, f.svc.Logout(ctx, "unknown"))

	_, err = f.svc.RefreshSession(ctx, sess.RefreshToken)
	errutil.RequireCode(t, err, CodeInvalidRefreshToken)
	// logout 不是轮换，不触发全量吊销
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok)
	assert.NotContains(t, oopsErr.Context(), "reuse_detected")
}

func TestHashToken(t *testing.T) {
	assert.Len(t, HashToken("abc"), 64)
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.NotEqual(t, HashToken("abc"), HashToken("abd"))
}

func TestAuthService_LoginRacingPasswordChange(t *testing.T) {
	ctx := context.Background()
	db := newMemDB()
	hasher := newGatedHasher(testHasher())
	u := seedUser(t, db, hasher, "frank", "frank@example.com", "old-password")
	auth := NewAuthService(db, hasher, newTestTokenIssuer(t), discardLogger())
	users := NewUserService(db, hasher, NewEmailService(newMemCodes(), &captureMailer{}, 0, discardLogger()), discardLogger())

	// login reads the row, then stalls inside Verify while the password changes
	hasher.arm()
	loginErr := make(chan error, 1)
	go func() {
		_, err := auth.Login(ctx, "frank@example.com", "old-password")
		loginErr <- err
	}()
	<-hasher.entered
	require.NoError(t, users.ChangePassword(ctx, u.ID, "old-password", "new-password"))
	close(hasher.release)

	errutil.RequireCode(t, <-loginErr, CodeInvalidCredentials)
	assert.Zero(t, db.liveTokens(u.ID))

	stored, err := db.Users().GetByID(ctx, u.ID)
	require.NoError(t, err)
	ok, err := hasher.PasswordHasher.Verify("new-password", stored.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok, "new password must survive the racing login")
	ok, err = hasher.PasswordHasher.Verify("old-password", stored.PasswordHash)
	require.NoError(t, err)
	assert.False(t, ok)
}
