package model

import "time"

// VerificationCode is the one live code for an email address.
//
// A new request overwrites Code and CreatedAt; the store additionally expires
// the record after the validity window, but callers must still compare
// CreatedAt against the clock because eviction is lazy.
type VerificationCode struct {
	Email     string
	Code      string
	CreatedAt time.Time
}
