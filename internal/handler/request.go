package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/identity-service/internal/apperror"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 64 << 10

// Limits on the open-ended profile fields a client may attach.
const (
	maxExtraFields   = 32
	maxExtraKeyLen   = 64
	maxExtraValueLen = 1024
)

var validate = newValidator()

// newValidator reports fields by their JSON name ("verifyCode"), not the
// Go name ("VerifyCode").
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// REQUEST BODIES

type emailRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type checkCodeRequest struct {
	Email      string `json:"email" validate:"required,email,max=254"`
	VerifyCode string `json:"verifyCode" validate:"required,numeric,len=6"`
}

type registerRequest struct {
	Email      string `json:"email" validate:"required,email,max=254"`
	Username   string `json:"username" validate:"required,min=1,max=64"`
	Password   string `json:"password" validate:"required,min=6,max=72"`
	VerifyCode string `json:"verifyCode" validate:"required,numeric,len=6"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

type wxLoginRequest struct {
	Code string `json:"code" validate:"required,max=128"`
}

type wxProfileRequest struct {
	UserID string `json:"user_id" validate:"required,max=64"`
}

// decodeBody reads the JSON body into dst, validates it, and returns the raw
// bytes so callers can pull extra fields out of the same body.
func decodeBody(r *http.Request, dst any) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, apperror.ValidationFailed("", "could not read request body")
	}
	if len(raw) > maxBodyBytes {
		return nil, apperror.ValidationFailed("", "request body too large")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return nil, apperror.ValidationFailed("", "invalid JSON body")
	}
	if err := validateStruct(dst); err != nil {
		return nil, err
	}
	return raw, nil
}

// validateStruct turns the first validator failure into an apperror.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("handler: validating request: %w", err)
	}

	fe := verrs[0]
	field := fe.Field()
	var msg string
	switch fe.Tag() {
	case "required":
		msg = fmt.Sprintf("field '%s' is required", field)
	case "email":
		msg = fmt.Sprintf("field '%s' must be a valid email address", field)
	case "numeric":
		msg = fmt.Sprintf("field '%s' must contain only digits", field)
	case "len":
		msg = fmt.Sprintf("field '%s' must be exactly %s characters long", field, fe.Param())
	case "min":
		msg = fmt.Sprintf("field '%s' must be at least %s characters long", field, fe.Param())
	case "max":
		msg = fmt.Sprintf("field '%s' must be at most %s characters long", field, fe.Param())
	default:
		msg = fmt.Sprintf("field '%s' validation failed on tag '%s'", field, fe.Tag())
	}
	return apperror.ValidationFailed(field, msg)
}

// extraFields returns the top-level string fields of a JSON object that are
// not in known. Non-string values, too many fields and oversized keys or
// values are rejected.
func extraFields(raw []byte, known ...string) (map[string]string, error) {
	var all map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&all); err != nil {
		return nil, apperror.ValidationFailed("", "invalid JSON body")
	}

	skip := make(map[string]struct{}, len(known))
	for _, k := range known {
		skip[k] = struct{}{}
	}

	extra := make(map[string]string)
	for k, v := range all {
		if _, ok := skip[k]; ok {
			continue
		}
		if len(k) == 0 || len(k) > maxExtraKeyLen {
			return nil, apperror.ValidationFailed(k, "field names must be 1-64 characters long")
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, apperror.ValidationFailed(k, fmt.Sprintf("field '%s' must be a string", k))
		}
		if len(s) > maxExtraValueLen {
			return nil, apperror.ValidationFailed(k, fmt.Sprintf("field '%s' must be at most %d characters long", k, maxExtraValueLen))
		}
		extra[k] = s
	}
	if len(extra) > maxExtraFields {
		return nil, apperror.ValidationFailed("", fmt.Sprintf("at most %d extra fields are allowed", maxExtraFields))
	}
	return extra, nil
}
