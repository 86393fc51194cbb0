package model

// Status is the discriminator every identity operation returns.
//
// BUSINESS RULES AS VALUES, NOT ERRORS:
// A wrong password, a taken email or a code requested too soon are expected
// outcomes, so they travel back as a Status inside a normal result. Go errors
// are reserved for things the caller cannot act on (store down) and for
// authentication failures, which the transport turns into a 401.
type Status string

const (
	StatusSuccess          Status = "Success"
	StatusFailure          Status = "Failure"
	StatusCalmingDown      Status = "CalmingDown"
	StatusVerifyCodeError  Status = "VerifyCodeError"
	StatusUserExist        Status = "UserExist"
	StatusUserNotFound     Status = "UserNotFound"
	StatusPasswordError    Status = "PasswordError"
	StatusEmailTaken       Status = "EmailTaken"
	StatusCapacityExceeded Status = "CapacityExceeded"
)

// CodeResult is returned by requestCode and checkCode.
// Time is the validity window on Success and the remaining wait in seconds
// on CalmingDown.
type CodeResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Time    int    `json:"time,omitempty"`
}

// AuthResult is returned by register and login.
type AuthResult struct {
	Status      Status `json:"status"`
	Message     string `json:"message,omitempty"`
	Username    string `json:"username,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

// ExistenceResult is returned by checkExistence.
type ExistenceResult struct {
	Status Status `json:"status"`
}

// SessionResult is returned by validateSession. Exactly one of Data and
// RedirectURL is set.
type SessionResult struct {
	Data        string `json:"data,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
}
