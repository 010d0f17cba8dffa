package domain

import (
	"regexp"
	"time"
)

// Local part with optional ./-/_ separators, a domain, and a TLD of at least
// two characters.
var emailPattern = regexp.MustCompile(`^([A-Za-z0-9]+[._-])*[A-Za-z0-9]+@[A-Za-z0-9-]+(\.[A-Za-z]{2,})+$`)

func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

type Account struct {
	ID        int64
	Email     string
	Password  string // PBKDF2 verifier, hex encoded
	Salt      string // per-account random salt, hex encoded
	CreatedAt time.Time
}

// Token is a bearer credential. Only the hash is ever stored; the raw secret
// is returned to the caller exactly once at issuance.
type Token struct {
	ID        int64
	UserID    int64
	TokenHash string
	Name      string
	CreatedAt time.Time
}

// TokenGrant is the one-time response to token issuance.
type TokenGrant struct {
	Message string `json:"mssg"`
	Token   string `json:"token"`
}

// Verdict is the immutable result of a credential verification. There is no
// session state; every request is verified from scratch.
type Verdict struct {
	Authorized bool
	UserID     int64
	Message    string
	Code       int
}
