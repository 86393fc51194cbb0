package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/sakif/identity-service/internal/model"
	"github.com/sakif/identity-service/internal/repository/kv"
)

// =========================================================================
// REQUEST TESTS
// =========================================================================

func TestRequest_SendsAndStoresCode(t *testing.T) {
	f := newFixture(t)

	res := f.codes.Request(context.Background(), "a@x.com")
	if res.Status != model.StatusSuccess || res.Time != 600 {
		t.Fatalf("Request() = %+v, want Success{time=600}", res)
	}

	code := f.sender.code("a@x.com")
	if !regexp.MustCompile(`^\d{6}$`).MatchString(code) {
		t.Errorf("sent code = %q, want 6 digits", code)
	}
	if got := f.codes.Check(context.Background(), "a@x.com", code); got.Status != model.StatusSuccess {
		t.Errorf("Check(sent code) = %+v, want Success", got)
	}
}

func TestRequest_ExampleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if res := f.codes.Request(ctx, "a@x.com"); res.Status != model.StatusSuccess || res.Time != 600 {
		t.Fatalf("first Request() = %+v", res)
	}

	f.clock.Advance(time.Second)
	res := f.codes.Request(ctx, "a@x.com")
	if res.Status != model.StatusCalmingDown || res.Time != 59 {
		t.Errorf("second Request() = %+v, want CalmingDown{time=59}", res)
	}

	wrong := "000000"
	if f.sender.code("a@x.com") == wrong {
		wrong = "999999"
	}
	if got := f.codes.Check(ctx, "a@x.com", wrong); got.Status != model.StatusVerifyCodeError {
		t.Errorf("Check(wrong) = %+v, want VerifyCodeError", got)
	}
}

func TestRequest_CooldownWindow(t *testing.T) {
	tests := []struct {
		name       string
		after      time.Duration
		wantStatus model.Status
		wantTime   int
	}{
		{"same second", 0, model.StatusCalmingDown, 60},
		{"fractional second truncates", 1500 * time.Millisecond, model.StatusCalmingDown, 59},
		{"59s", 59 * time.Second, model.StatusCalmingDown, 1},
		{"60s", 60 * time.Second, model.StatusSuccess, 600},
		{"5 minutes", 5 * time.Minute, model.StatusSuccess, 600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			first := f.codeFor(t, "a@x.com")

			f.clock.Advance(tt.after)
			res := f.codes.Request(context.Background(), "a@x.com")
			if res.Status != tt.wantStatus || res.Time != tt.wantTime {
				t.Errorf("Request() = %+v, want %s{time=%d}", res, tt.wantStatus, tt.wantTime)
			}
			if res.Status == model.StatusCalmingDown && f.sender.code("a@x.com") != first {
				t.Error("a code was sent during the cool-down")
			}
		})
	}
}

func TestRequest_FutureTimestampDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	future := &model.VerificationCode{Email: "a@x.com", Code: "123456", CreatedAt: f.clock.Now().Add(30 * time.Second)}
	if err := kv.NewCodes(f.store).Save(ctx, future, CodeValidity); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if res := f.codes.Request(ctx, "a@x.com"); res.Status != model.StatusSuccess {
		t.Errorf("Request() = %+v, want Success", res)
	}
}

func TestRequest_SendFailureStoresNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sender.err = errors.New("relay down")

	res := f.codes.Request(ctx, "a@x.com")
	if res.Status != model.StatusFailure || res.Message == "" {
		t.Fatalf("Request() = %+v, want Failure with a message", res)
	}
	if got := f.codes.Check(ctx, "a@x.com", "123456"); got.Message != "verification code not found" {
		t.Errorf("Check() = %+v, want not found after a failed send", got)
	}

	// No cool-down after a failed send.
	f.sender.err = nil
	if res := f.codes.Request(ctx, "a@x.com"); res.Status != model.StatusSuccess {
		t.Errorf("retry Request() = %+v, want Success", res)
	}
}

func TestRequest_StoreFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewCodeManager(&brokenCodes{}, &fakeSender{}, nil, logger, nil)

	res := m.Request(context.Background(), "a@x.com")
	if res.Status != model.StatusFailure {
		t.Errorf("Request() = %+v, want Failure", res)
	}
	if got := m.Check(context.Background(), "a@x.com", "1"); got.Status != model.StatusFailure {
		t.Errorf("Check() = %+v, want Failure", got)
	}
}

// =========================================================================
// CHECK TESTS
// =========================================================================

func TestCheck_NotFound(t *testing.T) {
	f := newFixture(t)

	res := f.codes.Check(context.Background(), "nobody@x.com", "123456")
	if res.Status != model.StatusFailure || res.Message != "verification code not found" {
		t.Errorf("Check() = %+v", res)
	}
}

func TestCheck_ValidityWindow(t *testing.T) {
	tests := []struct {
		name  string
		after time.Duration
		want  model.Status
	}{
		{"immediately", 0, model.StatusSuccess},
		{"599s", 599 * time.Second, model.StatusSuccess},
		{"601s", 601 * time.Second, model.StatusFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			code := f.codeFor(t, "a@x.com")

			f.clock.Advance(tt.after)
			if got := f.codes.Check(context.Background(), "a@x.com", code); got.Status != tt.want {
				t.Errorf("Check() = %+v, want %s", got, tt.want)
			}
		})
	}
}

func TestCheck_ExpiredButStillStored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// No TTL: simulates a store that has not evicted the key yet.
	old := &model.VerificationCode{Email: "a@x.com", Code: "123456", CreatedAt: f.clock.Now().Add(-11 * time.Minute)}
	if err := kv.NewCodes(f.store).Save(ctx, old, 0); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	res := f.codes.Check(ctx, "a@x.com", "123456")
	if res.Status != model.StatusFailure || res.Message != "verification code expired" {
		t.Errorf("Check() = %+v, want Failure{expired}", res)
	}
}

func TestCheck_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	code := f.codeFor(t, "a@x.com")

	for i := 0; i < 3; i++ {
		if got := f.codes.Check(context.Background(), "a@x.com", code); got.Status != model.StatusSuccess {
			t.Fatalf("Check() #%d = %+v, want Success", i+1, got)
		}
	}
}

// =========================================================================
// HELPERS
// =========================================================================

func TestGenerateCode_Format(t *testing.T) {
	re := regexp.MustCompile(`^\d{6}$`)
	for i := 0; i < 200; i++ {
		code, err := generateCode()
		if err != nil {
			t.Fatalf("generateCode() error = %v", err)
		}
		if !re.MatchString(code) {
			t.Fatalf("generateCode() = %q, want 6 digits", code)
		}
	}
}

func TestWholeSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{0, 0},
		{999 * time.Millisecond, 0},
		{59900 * time.Millisecond, 59},
		{-500 * time.Millisecond, -1},
		{-2 * time.Second, -2},
	}
	for _, tt := range tests {
		if got := wholeSeconds(tt.in); got != tt.want {
			t.Errorf("wholeSeconds(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// brokenCodes fails every call, like an unreachable store.
type brokenCodes struct{}

func (brokenCodes) Save(context.Context, *model.VerificationCode, time.Duration) error {
	return errStoreDown
}

func (brokenCodes) Get(context.Context, string) (*model.VerificationCode, error) {
	return nil, errStoreDown
}

func (brokenCodes) Delete(context.Context, string) error { return errStoreDown }
