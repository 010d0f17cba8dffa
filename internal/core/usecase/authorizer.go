package usecase

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/atvirokodosprendimai/auditledger/internal/core/domain"
	"github.com/atvirokodosprendimai/auditledger/internal/core/ports"
)

const (
	hashIterations = 310_000
	saltLength     = 32
	hashLength     = 32
	tokenLength    = 32
)

// Authorizer verifies presented credentials and issues bearer tokens. It holds
// no per-request state: verification is a pure function over the credential
// and the store.
type Authorizer struct {
	accounts  ports.AccountRepository
	tokens    ports.TokenRepository
	tokenSalt string
}

// NewAuthorizer wires the credential stores. tokenSalt is the deployment-wide
// secret used to hash bearer tokens; it is loaded once at startup and never
// rotated at runtime.
func NewAuthorizer(accounts ports.AccountRepository, tokens ports.TokenRepository, tokenSalt string) *Authorizer {
	return &Authorizer{accounts: accounts, tokens: tokens, tokenSalt: tokenSalt}
}

// Register validates the registration data, derives the password verifier and
// creates the account with its reserved audit metadata.
func (a *Authorizer) Register(ctx context.Context, email, password string) (string, error) {
	if email == "" || password == "" {
		return "", domain.Invalid("Both Email and Password required")
	}
	if !domain.ValidEmail(email) {
		return "", domain.Invalid("Invalid Email")
	}

	salt, err := randomHex(saltLength)
	if err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	verifier := HashSecret(password, salt)

	if _, err := a.accounts.Create(ctx, email, verifier, salt); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return "", domain.Invalid("Email Already Registered")
		}
		return "", domain.DatabaseError(err)
	}
	return fmt.Sprintf("%s Registered", email), nil
}

// Verify dispatches on the authorization scheme and returns an immutable
// verdict. Unknown schemes stay unauthorized.
func (a *Authorizer) Verify(ctx context.Context, scheme, credential string) domain.Verdict {
	switch scheme {
	case "Basic":
		return a.verifyBasic(ctx, credential)
	case "Bearer":
		return a.verifyBearer(ctx, credential)
	default:
		return domain.Verdict{Message: "Unauthorized", Code: 401}
	}
}

func (a *Authorizer) verifyBasic(ctx context.Context, credential string) domain.Verdict {
	decoded, err := base64.StdEncoding.DecodeString(credential)
	if err != nil {
		return domain.Verdict{Message: "Credentials must be sent as base64 encoded email:password", Code: 400}
	}
	email, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return domain.Verdict{Message: "Credentials must be sent as base64 encoded email:password", Code: 400}
	}

	account, err := a.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Verdict{Message: "Unregistered Email", Code: 400}
		}
		return domain.Verdict{Message: domain.DatabaseErrorMessage, Code: 500}
	}

	computed := HashSecret(password, account.Salt)
	if subtle.ConstantTimeCompare([]byte(computed), []byte(account.Password)) != 1 {
		// Deliberately the generic message: a password mismatch must not be
		// distinguishable from other unauthorized outcomes.
		return domain.Verdict{Message: "Unauthorized", Code: 401}
	}
	return domain.Verdict{Authorized: true, UserID: account.ID, Message: "Authorized", Code: 200}
}

func (a *Authorizer) verifyBearer(ctx context.Context, credential string) domain.Verdict {
	userID, err := a.tokens.FindUserByHash(ctx, HashSecret(credential, a.tokenSalt))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Verdict{Message: "Unauthorized", Code: 400}
		}
		return domain.Verdict{Message: domain.DatabaseErrorMessage, Code: 500}
	}
	return domain.Verdict{Authorized: true, UserID: userID, Message: "Authorized", Code: 200}
}

// IssueToken generates a fresh URL-safe secret for the account, stores only
// its hash and returns the raw token exactly once.
func (a *Authorizer) IssueToken(ctx context.Context, userID int64, name string) (domain.TokenGrant, error) {
	raw := make([]byte, tokenLength)
	if _, err := rand.Read(raw); err != nil {
		return domain.TokenGrant{}, fmt.Errorf("generate token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	if err := a.tokens.Insert(ctx, userID, HashSecret(token, a.tokenSalt), name); err != nil {
		return domain.TokenGrant{}, domain.DatabaseError(err)
	}
	return domain.TokenGrant{
		Message: fmt.Sprintf("Token %s created, will not be displayed again", name),
		Token:   token,
	}, nil
}

// HashSecret derives the stored form of a password or token using
// PBKDF2-HMAC-SHA256. The salt string's bytes are used directly, matching
// how stored salts are replayed on verification.
func HashSecret(secret, salt string) string {
	return hex.EncodeToString(pbkdf2.Key([]byte(secret), []byte(salt), hashIterations, hashLength, sha256.New))
}

func randomHex(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
