// Copyright (c) 2026 Keiro. All rights reserved.
// Author: dev@keiro.app

/*
Package auth implements the core identity and access management (IAM) system.

It handles everything from user registration and secure password hashing to the
rotating refresh-credential lifecycle backed by Postgres sessions.

Architecture:

  - Service: Orchestrates business logic (Register, Login, Rotate).
  - Repository: Abstracted interfaces for Postgres (Users, Sessions) and Redis (volatile tokens).
  - Security: Leverages Bcrypt and RSA-signed access credentials.

The package ensures that identity data remains consistent and secure throughout
the platform's lifecycle.
*/
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/keiro-dev/keiro/internal/authz"
	"github.com/keiro-dev/keiro/internal/platform/sec"
	"github.com/keiro-dev/keiro/pkg/uuidv7"
)

// # Contracts & Types

// TokenIssuer defines the contract for minting signed access credentials.
type TokenIssuer interface {
	// IssueAccess creates a signed access credential for the given claims.
	//
	// # Parameters
	//   - input: The claim values to embed.
	//   - timeToLive: The duration before the credential expires.
	//
	// # Returns
	//   - A signed credential string, or an err if signing fails.
	IssueAccess(input sec.AccessInput, timeToLive time.Duration) (string, error)
}

// ACLVersionSource provides the global permission version stamped into every
// issued access credential. Stale stamps are how the authorization layer
// detects permission changes without a per-request database hit.
type ACLVersionSource interface {
	CurrentVersion(ctx context.Context) (int64, error)
}

// Notifier delivers account lifecycle notifications (verification links,
// password reset links). Failures are logged by the caller but never block
// the main flow.
type Notifier interface {
	NotifyVerification(ctx context.Context, email, token string) error
	NotifyPasswordReset(ctx context.Context, email, token string) error
}

// Service implements user authentication use cases.
//
// # Review Process
//
// This service is critical for security. Any changes to hashing, rotation,
// or login logic must be reviewed by the security team.
type Service struct {
	userRepository              UserRepository
	sessionRepository           SessionRepository
	resetTokenRepository        ResetTokenRepository
	verificationTokenRepository VerificationTokenRepository
	tokenIssuer                 TokenIssuer
	aclVersions                 ACLVersionSource
	notifier                    Notifier

	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
}

// NewService constructs a new [Service] with necessary dependencies.
//
// accessTTL and refreshTTL override the credential lifetimes; zero values
// fall back to [AccessTokenTTL] and [RefreshTokenTTL].
func NewService(
	userRepo UserRepository,
	sessionRepo SessionRepository,
	resetRepo ResetTokenRepository,
	verifyRepo VerificationTokenRepository,
	issuer TokenIssuer,
	aclVersions ACLVersionSource,
	notifier Notifier,
	accessTTL time.Duration,
	refreshTTL time.Duration,
) *Service {
	if accessTTL <= 0 {
		accessTTL = AccessTokenTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = RefreshTokenTTL
	}
	return &Service{
		userRepository:              userRepo,
		sessionRepository:           sessionRepo,
		resetTokenRepository:        resetRepo,
		verificationTokenRepository: verifyRepo,
		tokenIssuer:                 issuer,
		aclVersions:                 aclVersions,
		notifier:                    notifier,
		accessTokenTTL:              accessTTL,
		refreshTokenTTL:             refreshTTL,
	}
}

// # Registration Flow

// RegisterInput holds the data required to enroll a new account.
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
	UserAgent   string
	IPAddress   string
}

/*
Register validates, hashes, and persists a brand new user account.

Description: Deep-enrollment of a new member, handling password hashing and
initial verification token state. New accounts always start with the USER role.
The new account is logged in immediately: registration establishes a session
exactly like [Service.Login], so the client never has to re-submit the
password it just chose.

Parameters:
  - context: context.Context
  - input: RegisterInput

Returns:
  - *LoginSession: Transport-ready session identifiers for the new account
  - err: Conflict (if identity exists) or storage errors
*/
func (service *Service) Register(context context.Context, input RegisterInput) (*LoginSession, error) {

	// Prevent storing plain-text passwords. Default cost is used for balance
	// between security and CPU utilization during registration spikes.
	hashedPassword, err := sec.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("auth_service_hash_failed: %w", err)
	}

	// Construct the new User entity. Time-sortable ID to prevent PG index fragmentation.
	user := &User{
		ID:           uuidv7.New(),
		Email:        input.Email,
		PasswordHash: hashedPassword,
		DisplayName:  input.DisplayName,
		SystemRole:   authz.RoleUser,
		IsVerified:   false,
	}

	// Persist the user. The unique index on email turns duplicate signups
	// into a client-safe Conflict via dberr.
	if err := service.userRepository.Create(context, user); err != nil {
		return nil, err
	}

	// Generate and store a verification token in Redis as an async-ready side effect
	token, err := sec.GenerateSecureToken(VerificationTokenLength)
	if err == nil {
		_ = service.verificationTokenRepository.Set(context, token, user.ID, VerificationTokenTTL)
		_ = service.notifier.NotifyVerification(context, user.Email, token)
	}

	return service.establishSession(context, user, input.UserAgent, input.IPAddress)
}

// # Authentication Flow

// LoginInput defines credentials for an authentication attempt.
type LoginInput struct {
	Email     string
	Password  string
	UserAgent string
	IPAddress string
}

// LoginSession represents a successfully established user session.
type LoginSession struct {
	AccessToken       string
	RefreshCredential string
	RefreshExpiresAt  time.Time
	User              *User
}

/*
Login validates user credentials and issues a fresh session.

Description: Verifies identity, performs constant-time password comparison,
and initializes a new session with a rotating refresh credential.

Parameters:
  - context: context.Context
  - input: LoginInput

Returns:
  - *LoginSession: Transport-ready session identifiers
  - err: ErrInvalidCredentials or internal failures
*/
func (service *Service) Login(context context.Context, input LoginInput) (*LoginSession, error) {

	// If (err != nil) the user does not exist. Generic error to prevent enumeration.
	user, err := service.userRepository.FindByEmail(context, input.Email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	// Constant-time comparison in bcrypt to prevent timing attacks
	if !sec.CheckPasswordHash(input.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return service.establishSession(context, user, input.UserAgent, input.IPAddress)
}

// establishSession creates a tracked session for an already-authenticated user
// and mints the credential pair. Shared tail of Register and Login.
func (service *Service) establishSession(context context.Context, user *User, userAgent, ipAddress string) (*LoginSession, error) {

	// Generate the long-lived refresh secret
	secret, err := sec.GenerateSecureToken(RefreshSecretLength)
	if err != nil {
		return nil, fmt.Errorf("auth_service_refresh_secret_failed: %w", err)
	}

	// Create and persist the tracking session
	expiresAt := time.Now().Add(service.refreshTokenTTL)
	session := &Session{
		ID:         uuidv7.New(),
		UserID:     user.ID,
		SecretHash: sec.HashToken(secret),
		UserAgent:  userAgent,
		IPAddress:  ipAddress,
		ExpiresAt:  expiresAt,
	}

	if err := service.sessionRepository.Create(context, session); err != nil {
		return nil, fmt.Errorf("auth_service_session_creation_failed: %w", err)
	}

	// Mint the short-lived access credential, stamped with the current ACL version
	accessToken, err := service.issueAccess(context, user)
	if err != nil {
		return nil, err
	}

	return &LoginSession{
		AccessToken:       accessToken,
		RefreshCredential: FormatRefreshCredential(session.ID, secret),
		RefreshExpiresAt:  expiresAt,
		User:              user,
	}, nil
}

/*
Logout permanently revokes the session named by the refresh credential.

Description: Ensures that a tracked refresh credential can never be used again.
Idempotent: an unknown or already-revoked credential is treated as success.

Parameters:
  - context: context.Context
  - credential: string

Returns:
  - err: Revocation failures
*/
func (service *Service) Logout(context context.Context, credential string) error {

	sessionID, secret, err := ParseRefreshCredential(credential)
	if err != nil {
		return nil
	}

	session, err := service.sessionRepository.FindByID(context, sessionID)
	if err != nil {
		return nil
	}

	// Only the holder of the current secret may revoke the session.
	if session.SecretHash != sec.HashToken(secret) {
		return nil
	}

	if err := service.sessionRepository.Revoke(context, session.ID); err != nil {
		return fmt.Errorf("auth_service_logout_failed: %w", err)
	}

	return nil
}

// # Credential Rotation

/*
Rotate implements the refresh credential rotation mechanism.

Description: Validates the presented credential against the stored session,
atomically swaps in a new secret via compare-and-swap, and mints a fresh
access credential. The flow distinguishes three failure classes:

  - A dead or mismatched session fails with [ErrSessionInvalid].
  - A secret retired by a previous rotation signals theft: ALL sessions of the
    user are revoked before [ErrRefreshReuseDetected] is returned.
  - A concurrent rotation of the same session loses the compare-and-swap and
    fails with [ErrRotationConflict] without side effects.

Parameters:
  - context: context.Context
  - credential: string
  - userAgent: string
  - ipAddress: string

Returns:
  - *LoginSession: New session credentials
  - err: Rotation failures as classified above
*/
func (service *Service) Rotate(context context.Context, credential, userAgent, ipAddress string) (*LoginSession, error) {

	sessionID, secret, err := ParseRefreshCredential(credential)
	if err != nil {
		return nil, ErrSessionInvalid
	}

	session, err := service.sessionRepository.FindByID(context, sessionID)
	if err != nil {
		return nil, ErrSessionInvalid
	}

	now := time.Now()
	secretHash := sec.HashToken(secret)

	if !session.Active(now) {
		return nil, ErrSessionInvalid
	}

	if session.SecretHash != secretHash {
		// A retired secret means the credential was replayed: either the
		// legitimate client was robbed of its rotation result, or an attacker
		// holds a stolen copy. We cannot tell which, so every session of the
		// user is revoked BEFORE the error is surfaced.
		if session.PrevSecretHash == secretHash {
			if err := service.sessionRepository.RevokeAll(context, session.UserID); err != nil {
				return nil, fmt.Errorf("auth_service_reuse_revoke_failed: %w", err)
			}
			return nil, ErrRefreshReuseDetected
		}
		return nil, ErrSessionInvalid
	}

	// Prepare the replacement secret
	newSecret, err := sec.GenerateSecureToken(RefreshSecretLength)
	if err != nil {
		return nil, fmt.Errorf("auth_service_rotate_secret_failed: %w", err)
	}

	// Compare-and-swap on the stored hash. Exactly one of N concurrent
	// rotations of the same session can win.
	expiresAt := now.Add(service.refreshTokenTTL)
	swapped, err := service.sessionRepository.RotateSecret(
		context, session.ID, secretHash, sec.HashToken(newSecret), expiresAt, userAgent, ipAddress,
	)
	if err != nil {
		return nil, fmt.Errorf("auth_service_rotate_cas_failed: %w", err)
	}
	if !swapped {
		return nil, ErrRotationConflict
	}

	// Fetch the user associated with this session
	user, err := service.userRepository.FindByID(context, session.UserID)
	if err != nil {
		return nil, ErrSessionInvalid
	}

	accessToken, err := service.issueAccess(context, user)
	if err != nil {
		return nil, err
	}

	return &LoginSession{
		AccessToken:       accessToken,
		RefreshCredential: FormatRefreshCredential(session.ID, newSecret),
		RefreshExpiresAt:  expiresAt,
		User:              user,
	}, nil
}

// issueAccess mints a signed access credential stamped with the current global
// ACL version.
func (service *Service) issueAccess(context context.Context, user *User) (string, error) {
	aclVersion, err := service.aclVersions.CurrentVersion(context)
	if err != nil {
		return "", fmt.Errorf("auth_service_acl_version_failed: %w", err)
	}

	accessToken, err := service.tokenIssuer.IssueAccess(sec.AccessInput{
		Subject:    user.ID,
		Email:      user.Email,
		SystemRole: string(user.SystemRole),
		OrgID:      user.OrganizationID,
		ACLVersion: aclVersion,
	}, service.accessTokenTTL)
	if err != nil {
		return "", fmt.Errorf("auth_service_token_generation_failed: %w", err)
	}

	return accessToken, nil
}

// # Session Management

/*
ListSessions returns every live session belonging to the user, newest first.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - []*Session: Active sessions
  - err: Retrieval failures
*/
func (service *Service) ListSessions(context context.Context, userID string) ([]*Session, error) {
	sessions, err := service.sessionRepository.ListActive(context, userID)
	if err != nil {
		return nil, fmt.Errorf("auth_service_list_sessions_failed: %w", err)
	}
	return sessions, nil
}

/*
RevokeSession revokes one of the user's own sessions by ID.

Description: Ownership is checked before revocation so one user can never
terminate another user's session.

Parameters:
  - context: context.Context
  - userID: string
  - sessionID: string

Returns:
  - err: ErrSessionInvalid if the session doesn't belong to the user
*/
func (service *Service) RevokeSession(context context.Context, userID, sessionID string) error {
	session, err := service.sessionRepository.FindByID(context, sessionID)
	if err != nil {
		return ErrSessionInvalid
	}

	if session.UserID != userID {
		return ErrSessionInvalid
	}

	if err := service.sessionRepository.Revoke(context, session.ID); err != nil {
		return fmt.Errorf("auth_service_revoke_session_failed: %w", err)
	}

	return nil
}

/*
RevokeOtherSessions revokes every session of the user except the current one.

Parameters:
  - context: context.Context
  - userID: string
  - currentCredential: string

Returns:
  - err: ErrSessionInvalid if the current credential is unusable
*/
func (service *Service) RevokeOtherSessions(context context.Context, userID, currentCredential string) error {
	sessionID, secret, err := ParseRefreshCredential(currentCredential)
	if err != nil {
		return ErrSessionInvalid
	}

	session, err := service.sessionRepository.FindByID(context, sessionID)
	if err != nil || session.UserID != userID || session.SecretHash != sec.HashToken(secret) {
		return ErrSessionInvalid
	}

	if err := service.sessionRepository.RevokeOthers(context, userID, session.ID); err != nil {
		return fmt.Errorf("auth_service_revoke_others_failed: %w", err)
	}

	return nil
}

/*
CleanupExpiredSessions removes sessions whose expiry has passed.

Description: Housekeeping entry point for the background cleanup loop.

Parameters:
  - context: context.Context

Returns:
  - int64: Number of sessions removed
  - err: Cleanup failures
*/
func (service *Service) CleanupExpiredSessions(context context.Context) (int64, error) {
	removed, err := service.sessionRepository.DeleteExpired(context, time.Now())
	if err != nil {
		return 0, fmt.Errorf("auth_service_cleanup_failed: %w", err)
	}
	return removed, nil
}

// # Password Recovery

/*
RequestPasswordReset initiates the forgot-password flow.

Description: Generates a secure token, saves it to Redis, and enqueues the
reset notification.

Parameters:
  - context: context.Context
  - email: string

Returns:
  - err: Generation errors
*/
func (service *Service) RequestPasswordReset(context context.Context, email string) error {
	// Look up user.
	// NOTE: We don't return NOT_FOUND if the email doesn't exist to prevent user enumeration.
	user, err := service.userRepository.FindByEmail(context, email)
	if err != nil {
		return nil
	}

	// Generate reset token
	token, err := sec.GenerateSecureToken(ResetTokenLength)
	if err != nil {
		return fmt.Errorf("auth_service_generate_reset_token_failed: %w", err)
	}

	// Save to Redis
	if err := service.resetTokenRepository.Set(context, token, user.ID, ResetTokenTTL); err != nil {
		return fmt.Errorf("auth_service_save_reset_token_failed: %w", err)
	}

	_ = service.notifier.NotifyPasswordReset(context, user.Email, token)

	return nil
}

/*
ResetPassword completes the forgot-password flow.

Description: Verifies the token, hashes the new password, updates the DB,
and revokes all active sessions for security cleanup.

Parameters:
  - context: context.Context
  - token: string
  - newPassword: string

Returns:
  - err: Validation or update failures
*/
func (service *Service) ResetPassword(context context.Context, token, newPassword string) error {

	// Retrieve the userID associated with the reset token from Redis
	userID, err := service.resetTokenRepository.Get(context, token)
	if err != nil {
		return err
	}

	// Hash the new password securely
	hashedPassword, err := sec.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("auth_service_reset_password_hash_failed: %w", err)
	}

	// Update the user's password in persistent storage
	if err := service.userRepository.UpdatePassword(context, userID, hashedPassword); err != nil {
		return fmt.Errorf("auth_service_reset_password_update_failed: %w", err)
	}

	// Security Cleanup: Revoke EVERY active session for this user
	_ = service.sessionRepository.RevokeAll(context, userID)

	// Delete the used token from Redis
	_ = service.resetTokenRepository.Delete(context, token)

	return nil
}

/*
ChangePassword allows an authenticated user to update their credentials.

Description: Verifies the current password and then revokes all OTHER sessions
to ensure high security across devices.

Parameters:
  - context: context.Context
  - userID: string
  - currentPassword: string
  - newPassword: string
  - currentCredential: string

Returns:
  - err: Unauthorized or storage failures
*/
func (service *Service) ChangePassword(context context.Context, userID, currentPassword, newPassword, currentCredential string) error {

	// Fetch user by ID
	user, err := service.userRepository.FindByID(context, userID)
	if err != nil {
		return err
	}

	// Verify the current password before allowing change
	if !sec.CheckPasswordHash(currentPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}

	// Hash the brand new password
	hashedPassword, err := sec.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("auth_service_change_password_hash_failed: %w", err)
	}

	// Update the database with the new hash
	if err := service.userRepository.UpdatePassword(context, userID, hashedPassword); err != nil {
		return fmt.Errorf("auth_service_change_password_update_failed: %w", err)
	}

	// Security Side Effect: Revoke all other sessions to force re-login on other devices
	if sessionID, secret, parseErr := ParseRefreshCredential(currentCredential); parseErr == nil {
		session, findErr := service.sessionRepository.FindByID(context, sessionID)
		if findErr == nil && session.UserID == userID && session.SecretHash == sec.HashToken(secret) {
			_ = service.sessionRepository.RevokeOthers(context, userID, session.ID)
		}
	}

	return nil
}

/*
VerifyEmail confirms a user's email address using a secure token.

Parameters:
  - context: context.Context
  - token: string

Returns:
  - err: Database or resolution errors
*/
func (service *Service) VerifyEmail(context context.Context, token string) error {

	// Retrieve the user ID associated with the verification token from Redis
	userID, err := service.verificationTokenRepository.Get(context, token)
	if err != nil {
		return err
	}

	// Update the user's status to verified in persistent storage
	if err := service.userRepository.MarkVerified(context, userID); err != nil {
		return fmt.Errorf("auth_service_verify_email_failed: %w", err)
	}

	// Cleanup the used verification token from Redis
	_ = service.verificationTokenRepository.Delete(context, token)

	return nil
}
