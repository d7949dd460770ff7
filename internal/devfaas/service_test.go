package devfaas

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

func TestGeneratePasswordAndAuthenticate(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "")
	ctx := context.Background()

	issued, err := svc.GeneratePassword(ctx, "alice")
	if err != nil {
		t.Fatalf("generate password: %v", err)
	}
	if len(issued.Password) != passwordLength {
		t.Fatalf("expected %d char password, got %d", passwordLength, len(issued.Password))
	}
	png, err := base64.StdEncoding.DecodeString(issued.QRCode)
	if err != nil || !strings.HasPrefix(string(png), "\x89PNG") {
		t.Fatalf("expected base64 png qr code")
	}

	user, err := svc.Authenticate(ctx, "alice", issued.Password, "")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if user.Username != "alice" || user.ID == 0 {
		t.Fatalf("unexpected user %+v", user)
	}
}

func TestGeneratePasswordRefusesActiveUser(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "")
	ctx := context.Background()

	if _, err := svc.GeneratePassword(ctx, "alice"); err != nil {
		t.Fatalf("generate password: %v", err)
	}
	if _, err := svc.GeneratePassword(ctx, "alice"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestExpiredCredentialsAreRenewed(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "")
	ctx := context.Background()
	now := time.Now()
	svc.now = func() time.Time { return now }

	first, err := svc.GeneratePassword(ctx, "dave")
	if err != nil {
		t.Fatalf("generate password: %v", err)
	}

	now = now.Add(CredentialValidity + time.Hour)
	st, err := svc.Status(ctx, "dave")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Exists || !st.Expired {
		t.Fatalf("expected expired user, got %+v", st)
	}
	if _, err := svc.Authenticate(ctx, "dave", first.Password, ""); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	renewed, err := svc.GeneratePassword(ctx, "dave")
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if renewed.UserID != first.UserID {
		t.Fatalf("renewal must keep the user id")
	}
	if _, err := svc.Authenticate(ctx, "dave", renewed.Password, ""); err != nil {
		t.Fatalf("authenticate after renewal: %v", err)
	}
}

func TestTwoFactorIsEnforced(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "COFRAP")
	ctx := context.Background()

	issued, err := svc.GeneratePassword(ctx, "carol")
	if err != nil {
		t.Fatalf("generate password: %v", err)
	}
	if _, err := svc.GenerateTwoFactor(ctx, "nobody"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	bundle, err := svc.GenerateTwoFactor(ctx, "carol")
	if err != nil {
		t.Fatalf("generate 2fa: %v", err)
	}

	st, _ := svc.Status(ctx, "carol")
	if !st.Has2FA {
		t.Fatalf("expected has_2fa after setup")
	}
	if _, err := svc.Authenticate(ctx, "carol", issued.Password, ""); !errors.Is(err, ErrTOTPRequired) {
		t.Fatalf("expected ErrTOTPRequired, got %v", err)
	}

	code, err := totp.GenerateCode(bundle.Secret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	if _, err := svc.Authenticate(ctx, "carol", issued.Password, wrong); !errors.Is(err, ErrInvalidTOTP) {
		t.Fatalf("expected ErrInvalidTOTP, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "carol", issued.Password, code); err != nil {
		t.Fatalf("authenticate with totp: %v", err)
	}
}

func TestRepeatedFailuresLockAccount(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "")
	ctx := context.Background()

	issued, err := svc.GeneratePassword(ctx, "ivan")
	if err != nil {
		t.Fatalf("generate password: %v", err)
	}
	for i := 1; i < DefaultMaxFailures; i++ {
		if _, err := svc.Authenticate(ctx, "ivan", "wrong", ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	if _, err := svc.Authenticate(ctx, "ivan", "wrong", ""); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "ivan", issued.Password, ""); !errors.Is(err, ErrLocked) {
		t.Fatalf("locked account must stay locked, got %v", err)
	}
}

func TestUnknownUserIsInvalidCredentials(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "")
	if _, err := svc.Authenticate(context.Background(), "ghost", "pw", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	st, err := svc.Status(context.Background(), "ghost")
	if err != nil || st.Exists {
		t.Fatalf("expected missing user, got %+v %v", st, err)
	}
}

func TestGeneratedPasswordsCoverEveryClass(t *testing.T) {
	for i := 0; i < 20; i++ {
		pw, err := generatePassword()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		for _, set := range []string{lowerChars, upperChars, digitChars, specialChars} {
			if !strings.ContainsAny(pw, set) {
				t.Fatalf("password %q misses a character from %q", pw, set)
			}
		}
	}
}
