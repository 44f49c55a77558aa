package letsencrypt

import "errors"

var (
	// ErrInvalidDomain is returned when the provided domain name is invalid.
	ErrInvalidDomain = errors.New("invalid domain name")

	// ErrEmailRequired is returned when email is not provided in config.
	ErrEmailRequired = errors.New("email is required for Let's Encrypt account")

	// ErrChallengeDirRequired is returned when the challenge directory is not provided in config.
	ErrChallengeDirRequired = errors.New("challenge directory is required")

	// ErrNoHTTP01Challenge is returned when an authorization offers no http-01 challenge.
	ErrNoHTTP01Challenge = errors.New("no http-01 challenge offered")

	// ErrChallengeInvalid is returned when the CA marks the challenge invalid.
	ErrChallengeInvalid = errors.New("challenge invalid")

	// ErrAuthorizationInvalid is returned when an authorization does not become valid.
	ErrAuthorizationInvalid = errors.New("authorization invalid")

	// ErrOrderInvalid is returned when the order fails or cannot be finalized.
	ErrOrderInvalid = errors.New("order invalid")

	// ErrPollAttemptsExhausted is returned when a polled resource does not settle in time.
	ErrPollAttemptsExhausted = errors.New("poll attempts exhausted")

	// ErrEmptyChain is returned when the CA issues no certificate.
	ErrEmptyChain = errors.New("empty certificate chain")

	// ErrAccountKeyNotFound is returned by an AccountKeyStore holding no key.
	ErrAccountKeyNotFound = errors.New("account key not found")

	// ErrInvalidCARoots is returned when the CA roots file holds no usable PEM certificate.
	ErrInvalidCARoots = errors.New("invalid CA roots")

	// ErrInvalidToken is returned for challenge tokens that are not base64url.
	ErrInvalidToken = errors.New("invalid challenge token")
)
