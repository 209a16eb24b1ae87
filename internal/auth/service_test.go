// Copyright (c) 2026 Keiro. All rights reserved.
// Author: dev@keiro.app

package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keiro-dev/keiro/internal/auth"
	"github.com/keiro-dev/keiro/internal/platform/apperr"
	"github.com/keiro-dev/keiro/internal/platform/sec"
)

// # In-Memory Fakes

type fakeUserRepository struct {
	mu    sync.Mutex
	users map[string]*auth.User // keyed by ID
}

func newFakeUserRepository() *fakeUserRepository {
	return &fakeUserRepository{users: make(map[string]*auth.User)}
}

func (repository *fakeUserRepository) FindByID(_ context.Context, id string) (*auth.User, error) {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	if user, ok := repository.users[id]; ok {
		copied := *user
		return &copied, nil
	}
	return nil, apperr.NotFound("User not found")
}

func (repository *fakeUserRepository) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	for _, user := range repository.users {
		if user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	return nil, apperr.NotFound("User not found")
}

func (repository *fakeUserRepository) Create(_ context.Context, user *auth.User) error {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	for _, existing := range repository.users {
		if existing.Email == user.Email {
			return apperr.Conflict("Resource already exists")
		}
	}
	copied := *user
	repository.users[user.ID] = &copied
	return nil
}

func (repository *fakeUserRepository) Update(_ context.Context, user *auth.User) error {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	copied := *user
	repository.users[user.ID] = &copied
	return nil
}

func (repository *fakeUserRepository) UpdatePassword(_ context.Context, userID, newHash string) error {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	if user, ok := repository.users[userID]; ok {
		user.PasswordHash = newHash
	}
	return nil
}

func (repository *fakeUserRepository) MarkVerified(_ context.Context, userID string) error {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	if user, ok := repository.users[userID]; ok {
		user.IsVerified = true
	}
	return nil
}

type fakeSessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*auth.Session
}

func newFakeSessionRepository() *fakeSessionRepository {
	return &fakeSessionRepository{sessions: make(map[string]*auth.Session)}
}

func (repository *fakeSessionRepository) Create(_ context.Context, session *auth.Session) error {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	copied := *session
	repository.sessions[session.ID] = &copied
	return nil
}

func (repository *fakeSessionRepository) FindByID(_ context.Context, sessionID string) (*auth.Session, error) {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	if session, ok := repository.sessions[sessionID]; ok {
		copied := *session
		return &copied, nil
	}
	return nil, apperr.NotFound("Session not found")
}

func (repository *fakeSessionRepository) RotateSecret(_ context.Context, sessionID, currentHash, newHash string, expiresAt time.Time, userAgent, ipAddress string) (bool, error) {
	repository.mu.Lock()
	defer repository.mu.Unlock()

	session, ok := repository.sessions[sessionID]
	if !ok {
		return false, nil
	}

	// Same guard as the SQL UPDATE: current hash, not revoked, not expired.
	if session.SecretHash != currentHash || session.RevokedAt != nil || !session.ExpiresAt.After(time.Now()) {
		return false, nil
	}

	session.PrevSecretHash = currentHash
	session.SecretHash = newHash
	session.ExpiresAt = expiresAt
	session.UserAgent = userAgent
	session.IPAddress = ipAddress
	return true, nil
}

func (repository *fakeSessionRepository) ListActive(_ context.Context, userID string) ([]*auth.Session, error) {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	var active []*auth.Session
	for _, session := range repository.sessions {
		if session.UserID == userID && session.Active(time.Now()) {
			copied := *session
			active = append(active, &copied)
		}
	}
	return active, nil
}

func (repository *fakeSessionRepository) Revoke(_ context.Context, sessionID string) error {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	if session, ok := repository.sessions[sessionID]; ok && session.RevokedAt == nil {
		now := time.Now()
		session.RevokedAt = &now
	}
	return nil
}

func (repository *fakeSessionRepository) RevokeAll(_ context.Context, userID string) error {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	now := time.Now()
	for _, session := range repository.sessions {
		if session.UserID == userID && session.RevokedAt == nil {
			session.RevokedAt = &now
		}
	}
	return nil
}

func (repository *fakeSessionRepository) RevokeOthers(_ context.Context, userID, currentSessionID string) error {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	now := time.Now()
	for _, session := range repository.sessions {
		if session.UserID == userID && session.ID != currentSessionID && session.RevokedAt == nil {
			session.RevokedAt = &now
		}
	}
	return nil
}

func (repository *fakeSessionRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	var removed int64
	for id, session := range repository.sessions {
		if !session.ExpiresAt.After(now) {
			delete(repository.sessions, id)
			removed++
		}
	}
	return removed, nil
}

type fakeVolatileTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newFakeVolatileTokenRepository() *fakeVolatileTokenRepository {
	return &fakeVolatileTokenRepository{tokens: make(map[string]string)}
}

func (repository *fakeVolatileTokenRepository) Set(_ context.Context, token, userID string, _ time.Duration) error {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	repository.tokens[token] = userID
	return nil
}

func (repository *fakeVolatileTokenRepository) Get(_ context.Context, token string) (string, error) {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	if userID, ok := repository.tokens[token]; ok {
		return userID, nil
	}
	return "", apperr.NotFound("Token is invalid or expired")
}

func (repository *fakeVolatileTokenRepository) Delete(_ context.Context, token string) error {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	delete(repository.tokens, token)
	return nil
}

type fakeTokenIssuer struct{}

func (fakeTokenIssuer) IssueAccess(input sec.AccessInput, _ time.Duration) (string, error) {
	return "signed-access-for-" + input.Subject, nil
}

// recordingTokenIssuer captures the lifetime requested for each credential.
type recordingTokenIssuer struct {
	mu   sync.Mutex
	ttls []time.Duration
}

func (issuer *recordingTokenIssuer) IssueAccess(input sec.AccessInput, timeToLive time.Duration) (string, error) {
	issuer.mu.Lock()
	defer issuer.mu.Unlock()
	issuer.ttls = append(issuer.ttls, timeToLive)
	return "signed-access-for-" + input.Subject, nil
}

type fakeACLVersionSource struct{ version int64 }

func (source fakeACLVersionSource) CurrentVersion(context.Context) (int64, error) {
	return source.version, nil
}

type fakeNotifier struct {
	mu            sync.Mutex
	verifications []string
	resets        []string
}

func (notifier *fakeNotifier) NotifyVerification(_ context.Context, email, _ string) error {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	notifier.verifications = append(notifier.verifications, email)
	return nil
}

func (notifier *fakeNotifier) NotifyPasswordReset(_ context.Context, email, _ string) error {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	notifier.resets = append(notifier.resets, email)
	return nil
}

// # Test Harness

type serviceFixture struct {
	service  *auth.Service
	users    *fakeUserRepository
	sessions *fakeSessionRepository
	resets   *fakeVolatileTokenRepository
	verifies *fakeVolatileTokenRepository
	notifier *fakeNotifier
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	fixture := &serviceFixture{
		users:    newFakeUserRepository(),
		sessions: newFakeSessionRepository(),
		resets:   newFakeVolatileTokenRepository(),
		verifies: newFakeVolatileTokenRepository(),
		notifier: &fakeNotifier{},
	}
	fixture.service = auth.NewService(
		fixture.users,
		fixture.sessions,
		fixture.resets,
		fixture.verifies,
		fakeTokenIssuer{},
		fakeACLVersionSource{version: 7},
		fixture.notifier,
		0,
		0,
	)
	return fixture
}

// registerAndLogin enrolls the standard test user. Registration establishes a
// session like login does, so the returned session is the account's only one.
func (fixture *serviceFixture) registerAndLogin(t *testing.T) *auth.LoginSession {
	t.Helper()

	session, err := fixture.service.Register(context.Background(), auth.RegisterInput{
		Email:       "dev@keiro.app",
		Password:    "correct-horse-battery",
		DisplayName: "Dev",
		UserAgent:   "test-agent",
		IPAddress:   "127.0.0.1",
	})
	require.NoError(t, err)
	return session
}

// # Registration & Login

/*
TestService_Register verifies enrollment, default role, the verification side
effect, and that registration comes back already logged in: the response
carries a working credential pair, never a "now go log in" profile.
*/
func TestService_Register(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()

	session, err := fixture.service.Register(ctx, auth.RegisterInput{
		Email:       "dev@keiro.app",
		Password:    "correct-horse-battery",
		DisplayName: "Dev",
		UserAgent:   "test-agent",
		IPAddress:   "127.0.0.1",
	})

	require.NoError(t, err)
	user := session.User
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "USER", string(user.SystemRole))
	assert.NotEqual(t, "correct-horse-battery", user.PasswordHash)
	assert.Equal(t, []string{"dev@keiro.app"}, fixture.notifier.verifications)

	// The session is established exactly like login
	assert.NotEmpty(t, session.AccessToken)
	assert.True(t, session.RefreshExpiresAt.After(time.Now()))
	sessionID, secret, err := auth.ParseRefreshCredential(session.RefreshCredential)
	require.NoError(t, err)
	assert.NotEmpty(t, sessionID)
	assert.NotEmpty(t, secret)

	// The issued refresh credential is live: it can rotate immediately
	rotated, err := fixture.service.Rotate(ctx, session.RefreshCredential, "test-agent", "127.0.0.1")
	require.NoError(t, err)
	assert.NotEmpty(t, rotated.AccessToken)

	// Duplicate email yields a conflict
	_, err = fixture.service.Register(ctx, auth.RegisterInput{
		Email:    "dev@keiro.app",
		Password: "another-password-123",
	})
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", apperr.As(err).Code)
}

/*
TestService_Login covers success and both failure modes, which must be
indistinguishable to the client.
*/
func TestService_Login(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()
	fixture.registerAndLogin(t)

	session, err := fixture.service.Login(ctx, auth.LoginInput{
		Email:     "dev@keiro.app",
		Password:  "correct-horse-battery",
		UserAgent: "test-agent",
		IPAddress: "127.0.0.1",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshCredential)

	// Credential has the "<sessionID>.<secret>" shape
	sessionID, secret, err := auth.ParseRefreshCredential(session.RefreshCredential)
	require.NoError(t, err)
	assert.NotEmpty(t, sessionID)
	assert.NotEmpty(t, secret)

	// Unknown email and wrong password produce the SAME error
	_, unknownErr := fixture.service.Login(ctx, auth.LoginInput{Email: "ghost@keiro.app", Password: "whatever-pass"})
	_, wrongErr := fixture.service.Login(ctx, auth.LoginInput{Email: "dev@keiro.app", Password: "wrong-password"})
	assert.True(t, errors.Is(unknownErr, auth.ErrInvalidCredentials))
	assert.True(t, errors.Is(wrongErr, auth.ErrInvalidCredentials))
}

// # Rotation

/*
TestService_Rotate_Success verifies the happy-path rotation: a new credential
is issued, the old one stops working, and the expiry slides forward.
*/
func TestService_Rotate_Success(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()
	login := fixture.registerAndLogin(t)

	rotated, err := fixture.service.Rotate(ctx, login.RefreshCredential, "test-agent", "127.0.0.1")
	require.NoError(t, err)

	assert.NotEqual(t, login.RefreshCredential, rotated.RefreshCredential)
	assert.NotEmpty(t, rotated.AccessToken)

	// Same session, new secret
	oldID, _, _ := auth.ParseRefreshCredential(login.RefreshCredential)
	newID, _, _ := auth.ParseRefreshCredential(rotated.RefreshCredential)
	assert.Equal(t, oldID, newID)

	// The new credential keeps rotating
	_, err = fixture.service.Rotate(ctx, rotated.RefreshCredential, "test-agent", "127.0.0.1")
	assert.NoError(t, err)
}

/*
TestService_Rotate_ReuseDetected verifies the theft response: replaying the
retired credential revokes EVERY session of the user before the error returns.
*/
func TestService_Rotate_ReuseDetected(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()
	login := fixture.registerAndLogin(t)

	// Second device
	secondLogin, err := fixture.service.Login(ctx, auth.LoginInput{
		Email:    "dev@keiro.app",
		Password: "correct-horse-battery",
	})
	require.NoError(t, err)

	rotated, err := fixture.service.Rotate(ctx, login.RefreshCredential, "test-agent", "127.0.0.1")
	require.NoError(t, err)

	// Replay the retired credential
	_, err = fixture.service.Rotate(ctx, login.RefreshCredential, "test-agent", "127.0.0.1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, auth.ErrRefreshReuseDetected))

	// Containment: both the rotated session and the second device are dead
	_, err = fixture.service.Rotate(ctx, rotated.RefreshCredential, "test-agent", "127.0.0.1")
	assert.True(t, errors.Is(err, auth.ErrSessionInvalid))
	_, err = fixture.service.Rotate(ctx, secondLogin.RefreshCredential, "test-agent", "127.0.0.1")
	assert.True(t, errors.Is(err, auth.ErrSessionInvalid))
}

/*
TestService_Rotate_Conflict verifies that losing the compare-and-swap maps to
ErrRotationConflict without nuking the user's sessions.
*/
func TestService_Rotate_Conflict(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()
	login := fixture.registerAndLogin(t)

	sessionID, secret, err := auth.ParseRefreshCredential(login.RefreshCredential)
	require.NoError(t, err)

	// Simulate a concurrent winner: swap the secret out from underneath this
	// request AND clear prevsecrethash so the loser's hash matches nothing.
	// (The real race leaves prevsecrethash = loser's hash, which the reuse
	// branch handles; this variant exercises the pure CAS failure.)
	fixture.sessions.mu.Lock()
	stored := fixture.sessions.sessions[sessionID]
	stored.SecretHash = sec.HashToken("concurrent-winner-secret")
	stored.PrevSecretHash = ""
	fixture.sessions.mu.Unlock()

	_, err = fixture.service.Rotate(ctx, auth.FormatRefreshCredential(sessionID, secret), "test-agent", "127.0.0.1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, auth.ErrSessionInvalid))

	// True CAS loss: hash check passes but the guarded swap fails. Exercised
	// through the repository directly since the service re-reads the row.
	swapped, err := fixture.sessions.RotateSecret(ctx, sessionID, sec.HashToken(secret), sec.HashToken("new"), time.Now().Add(time.Hour), "", "")
	require.NoError(t, err)
	assert.False(t, swapped)
}

/*
TestService_Rotate_DeadSessions verifies the SESSION_INVALID classification for
expired, revoked, and malformed credentials.
*/
func TestService_Rotate_DeadSessions(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()
	login := fixture.registerAndLogin(t)
	sessionID, _, _ := auth.ParseRefreshCredential(login.RefreshCredential)

	tests := []struct {
		name       string
		credential string
		prepare    func()
	}{
		{
			name:       "malformed_credential",
			credential: "no-separator-here",
			prepare:    func() {},
		},
		{
			name:       "unknown_session",
			credential: auth.FormatRefreshCredential("missing-session", "some-secret"),
			prepare:    func() {},
		},
		{
			name:       "expired_session",
			credential: login.RefreshCredential,
			prepare: func() {
				fixture.sessions.mu.Lock()
				fixture.sessions.sessions[sessionID].ExpiresAt = time.Now().Add(-time.Minute)
				fixture.sessions.mu.Unlock()
			},
		},
		{
			name:       "revoked_session",
			credential: login.RefreshCredential,
			prepare: func() {
				now := time.Now()
				fixture.sessions.mu.Lock()
				fixture.sessions.sessions[sessionID].ExpiresAt = now.Add(time.Hour)
				fixture.sessions.sessions[sessionID].RevokedAt = &now
				fixture.sessions.mu.Unlock()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.prepare()
			_, err := fixture.service.Rotate(ctx, tt.credential, "test-agent", "127.0.0.1")
			require.Error(t, err)
			assert.True(t, errors.Is(err, auth.ErrSessionInvalid))
		})
	}
}

/*
TestService_Rotate_ConcurrentSingleWinner hammers one session with parallel
rotations and asserts exactly one winner.
*/
func TestService_Rotate_ConcurrentSingleWinner(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()
	login := fixture.registerAndLogin(t)

	const attempts = 16
	results := make(chan error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fixture.service.Rotate(ctx, login.RefreshCredential, "test-agent", "127.0.0.1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	// Losers split across three classes depending on when they observed the
	// winner's write: a stale read loses the CAS (conflict), a fresh read
	// matches the retired hash (reuse), and anyone after the reuse
	// containment finds the session revoked (invalid).
	var winners, losers int
	for err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, auth.ErrRotationConflict),
			errors.Is(err, auth.ErrRefreshReuseDetected),
			errors.Is(err, auth.ErrSessionInvalid):
			losers++
		default:
			t.Fatalf("unexpected rotation error: %v", err)
		}
	}

	assert.Equal(t, 1, winners)
	assert.Equal(t, attempts-1, losers)
}

// # Session Management

/*
TestService_Logout verifies revocation and idempotency.
*/
func TestService_Logout(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()
	login := fixture.registerAndLogin(t)

	require.NoError(t, fixture.service.Logout(ctx, login.RefreshCredential))

	// The session is gone
	_, err := fixture.service.Rotate(ctx, login.RefreshCredential, "test-agent", "127.0.0.1")
	assert.True(t, errors.Is(err, auth.ErrSessionInvalid))

	// Logging out again is a no-op, as is garbage input
	assert.NoError(t, fixture.service.Logout(ctx, login.RefreshCredential))
	assert.NoError(t, fixture.service.Logout(ctx, "garbage"))
}

/*
TestService_RevokeSession enforces ownership.
*/
func TestService_RevokeSession(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()
	login := fixture.registerAndLogin(t)
	sessionID, _, _ := auth.ParseRefreshCredential(login.RefreshCredential)

	user, err := fixture.users.FindByEmail(ctx, "dev@keiro.app")
	require.NoError(t, err)

	// Someone else's userID cannot revoke it
	err = fixture.service.RevokeSession(ctx, "intruder-user", sessionID)
	assert.True(t, errors.Is(err, auth.ErrSessionInvalid))

	// The owner can
	require.NoError(t, fixture.service.RevokeSession(ctx, user.ID, sessionID))

	sessions, err := fixture.service.ListSessions(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

/*
TestService_RevokeOtherSessions keeps only the caller's current session alive.
*/
func TestService_RevokeOtherSessions(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()
	first := fixture.registerAndLogin(t)

	second, err := fixture.service.Login(ctx, auth.LoginInput{
		Email:    "dev@keiro.app",
		Password: "correct-horse-battery",
	})
	require.NoError(t, err)

	user, err := fixture.users.FindByEmail(ctx, "dev@keiro.app")
	require.NoError(t, err)

	require.NoError(t, fixture.service.RevokeOtherSessions(ctx, user.ID, second.RefreshCredential))

	sessions, err := fixture.service.ListSessions(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	// The first device is dead, the second still rotates
	_, err = fixture.service.Rotate(ctx, first.RefreshCredential, "test-agent", "127.0.0.1")
	assert.True(t, errors.Is(err, auth.ErrSessionInvalid))
	_, err = fixture.service.Rotate(ctx, second.RefreshCredential, "test-agent", "127.0.0.1")
	assert.NoError(t, err)
}

// # Password Recovery

/*
TestService_PasswordResetFlow walks forgot-password end to end and checks the
all-session revocation side effect.
*/
func TestService_PasswordResetFlow(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()
	login := fixture.registerAndLogin(t)

	require.NoError(t, fixture.service.RequestPasswordReset(ctx, "dev@keiro.app"))
	require.Len(t, fixture.notifier.resets, 1)

	// Grab the stored token from the fake
	fixture.resets.mu.Lock()
	var token string
	for stored := range fixture.resets.tokens {
		token = stored
	}
	fixture.resets.mu.Unlock()
	require.NotEmpty(t, token)

	require.NoError(t, fixture.service.ResetPassword(ctx, token, "brand-new-password"))

	// Old password no longer works, new one does
	_, err := fixture.service.Login(ctx, auth.LoginInput{Email: "dev@keiro.app", Password: "correct-horse-battery"})
	assert.True(t, errors.Is(err, auth.ErrInvalidCredentials))
	_, err = fixture.service.Login(ctx, auth.LoginInput{Email: "dev@keiro.app", Password: "brand-new-password"})
	assert.NoError(t, err)

	// Every pre-reset session is revoked
	_, err = fixture.service.Rotate(ctx, login.RefreshCredential, "test-agent", "127.0.0.1")
	assert.True(t, errors.Is(err, auth.ErrSessionInvalid))

	// The token is single-use
	err = fixture.service.ResetPassword(ctx, token, "yet-another-password")
	assert.Error(t, err)

	// Unknown email stays silent (no enumeration)
	assert.NoError(t, fixture.service.RequestPasswordReset(ctx, "ghost@keiro.app"))
	assert.Len(t, fixture.notifier.resets, 1)
}

/*
TestService_CleanupExpiredSessions removes only lapsed sessions, and running
it again right away finds nothing more to remove.
*/
func TestService_CleanupExpiredSessions(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()
	login := fixture.registerAndLogin(t)
	sessionID, _, _ := auth.ParseRefreshCredential(login.RefreshCredential)

	survivor, err := fixture.service.Login(ctx, auth.LoginInput{
		Email:    "dev@keiro.app",
		Password: "correct-horse-battery",
	})
	require.NoError(t, err)

	fixture.sessions.mu.Lock()
	fixture.sessions.sessions[sessionID].ExpiresAt = time.Now().Add(-time.Minute)
	fixture.sessions.mu.Unlock()

	removed, err := fixture.service.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	// Idempotent: an immediate second run removes nothing further
	removed, err = fixture.service.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)

	// The live session is untouched and still rotates
	_, err = fixture.service.Rotate(ctx, survivor.RefreshCredential, "test-agent", "127.0.0.1")
	assert.NoError(t, err)
}

/*
TestService_ConfiguredTTLs threads the configured credential lifetimes through
to issued access credentials and session expiry instead of the package
defaults.
*/
func TestService_ConfiguredTTLs(t *testing.T) {
	ctx := context.Background()
	issuer := &recordingTokenIssuer{}

	service := auth.NewService(
		newFakeUserRepository(),
		newFakeSessionRepository(),
		newFakeVolatileTokenRepository(),
		newFakeVolatileTokenRepository(),
		issuer,
		fakeACLVersionSource{version: 7},
		&fakeNotifier{},
		2*time.Minute,
		48*time.Hour,
	)

	session, err := service.Register(ctx, auth.RegisterInput{
		Email:       "dev@keiro.app",
		Password:    "correct-horse-battery",
		DisplayName: "Dev",
	})
	require.NoError(t, err)

	issuer.mu.Lock()
	require.Len(t, issuer.ttls, 1)
	assert.Equal(t, 2*time.Minute, issuer.ttls[0])
	issuer.mu.Unlock()

	assert.WithinDuration(t, time.Now().Add(48*time.Hour), session.RefreshExpiresAt, time.Minute)
}
