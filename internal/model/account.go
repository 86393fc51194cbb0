// Package model defines the data structures used throughout the application.
package model

// Account represents a locally registered user, keyed by email.
//
// The store layout is a flat hash of strings (users:<email>), so the record
// is a fixed set of known fields plus an open Extra map for whatever else
// the client supplied at registration (avatar, nickname, ...). Validation of
// Extra happens at the HTTP boundary, not here.
//
// WHY PasswordHash AND NOT Password?
// The hash is what gets persisted under the "password" field. The plaintext
// only ever lives in the RegisterInput / login call and is hashed before
// it reaches the repository.
type Account struct {
	UserID       string            `json:"userId"`
	Username     string            `json:"username"`
	Email        string            `json:"email"`
	PasswordHash string            `json:"-"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// RegisterInput is what a client submits to create an account.
type RegisterInput struct {
	Email      string
	Username   string
	Password   string
	VerifyCode string
	Extra      map[string]string
}

// Profile is the public view of an Account returned by getProfile.
type Profile struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}
