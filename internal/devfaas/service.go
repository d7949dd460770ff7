package devfaas

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math/big"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

const (
	// CredentialValidity is how long a generated password stays usable.
	CredentialValidity = 15552000 * time.Second
	// DefaultMaxFailures is the number of consecutive failures that locks an account.
	DefaultMaxFailures = 5

	passwordLength = 24
	qrSize         = 256
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrTOTPRequired       = errors.New("totp code is required")
	ErrInvalidTOTP        = errors.New("invalid totp code")
	ErrExpired            = errors.New("account has expired")
	ErrLocked             = errors.New("account is locked")
)

// Status is what check-user-status reports.
type Status struct {
	Exists  bool
	UserID  int64
	Has2FA  bool
	Expired bool
}

// Issued is the output of password generation.
type Issued struct {
	UserID   int64
	Password string
	QRCode   string
}

// TwoFactor is the output of second-factor generation.
type TwoFactor struct {
	Secret string
	QRCode string
}

// Service implements the identity functions on top of a Repository.
type Service struct {
	repo        Repository
	issuer      string
	validity    time.Duration
	maxFailures int
	now         func() time.Time
}

// NewService builds the service with the default validity and lockout policy.
func NewService(repo Repository, issuer string) *Service {
	if issuer == "" {
		issuer = "COFRAP"
	}
	return &Service{
		repo:        repo,
		issuer:      issuer,
		validity:    CredentialValidity,
		maxFailures: DefaultMaxFailures,
		now:         time.Now,
	}
}

func (s *Service) expiredByAge(u User) bool {
	return s.now().Sub(u.GenDate) > s.validity
}

// markExpired flags the row once its password outlived the validity window.
func (s *Service) markExpired(ctx context.Context, u *User) error {
	if u.Expired || !s.expiredByAge(*u) {
		return nil
	}
	u.Expired = true
	return s.repo.Update(ctx, *u)
}

// Status reports whether username exists and in which state.
func (s *Service) Status(ctx context.Context, username string) (Status, error) {
	user, err := s.repo.FindByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, err
	}
	if err := s.markExpired(ctx, &user); err != nil {
		return Status{}, err
	}
	return Status{Exists: true, UserID: user.ID, Has2FA: user.HasTwoFactor(), Expired: user.Expired}, nil
}

// GeneratePassword creates a user, or reissues the password of an expired one.
// An active user is refused with ErrUserExists.
func (s *Service) GeneratePassword(ctx context.Context, username string) (Issued, error) {
	password, err := generatePassword()
	if err != nil {
		return Issued{}, fmt.Errorf("generate password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Issued{}, err
	}
	qrCode, err := encodeQR(password)
	if err != nil {
		return Issued{}, fmt.Errorf("render qr code: %w", err)
	}

	user, err := s.repo.FindByUsername(ctx, username)
	switch {
	case errors.Is(err, ErrUserNotFound):
		user, err = s.repo.Create(ctx, User{Username: username, PasswordHash: hash, GenDate: s.now().UTC()})
		if err != nil {
			return Issued{}, err
		}
	case err != nil:
		return Issued{}, err
	default:
		if user.Locked {
			return Issued{}, ErrLocked
		}
		if !user.Expired && !s.expiredByAge(user) {
			return Issued{}, ErrUserExists
		}
		user.PasswordHash = hash
		user.GenDate = s.now().UTC()
		user.Expired = false
		user.FailedAttempts = 0
		if err := s.repo.Update(ctx, user); err != nil {
			return Issued{}, err
		}
	}
	return Issued{UserID: user.ID, Password: password, QRCode: qrCode}, nil
}

// GenerateTwoFactor issues a fresh TOTP secret for an existing user.
func (s *Service) GenerateTwoFactor(ctx context.Context, username string) (TwoFactor, error) {
	user, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		return TwoFactor{}, err
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: username,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return TwoFactor{}, fmt.Errorf("generate totp key: %w", err)
	}
	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return TwoFactor{}, fmt.Errorf("render qr code: %w", err)
	}
	qrCode, err := encodePNG(img)
	if err != nil {
		return TwoFactor{}, err
	}
	user.TOTPSecret = key.Secret()
	if err := s.repo.Update(ctx, user); err != nil {
		return TwoFactor{}, err
	}
	return TwoFactor{Secret: key.Secret(), QRCode: qrCode}, nil
}

// Authenticate verifies the password and, for users with a second factor,
// the TOTP code. Consecutive failures lock the account.
func (s *Service) Authenticate(ctx context.Context, username, password, code string) (User, error) {
	user, err := s.repo.FindByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if user.Locked {
		return User{}, ErrLocked
	}
	if err := s.markExpired(ctx, &user); err != nil {
		return User{}, err
	}
	if user.Expired {
		return User{}, ErrExpired
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return User{}, s.fail(ctx, user, ErrInvalidCredentials)
	}
	if user.HasTwoFactor() {
		if code == "" {
			return User{}, ErrTOTPRequired
		}
		if !totp.Validate(code, user.TOTPSecret) {
			return User{}, s.fail(ctx, user, ErrInvalidTOTP)
		}
	}

	if user.FailedAttempts > 0 {
		user.FailedAttempts = 0
		if err := s.repo.Update(ctx, user); err != nil {
			return User{}, err
		}
	}
	return user, nil
}

func (s *Service) fail(ctx context.Context, user User, cause error) error {
	user.FailedAttempts++
	if s.maxFailures > 0 && user.FailedAttempts >= s.maxFailures {
		user.Locked = true
	}
	if err := s.repo.Update(ctx, user); err != nil {
		return err
	}
	if user.Locked {
		return ErrLocked
	}
	return cause
}

const (
	lowerChars   = "abcdefghijklmnopqrstuvwxyz"
	upperChars   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars   = "0123456789"
	specialChars = "!@#$%^&*()-_=+[]{}|;:,.<>?"
)

// generatePassword returns a random password holding at least one character
// of every class.
func generatePassword() (string, error) {
	classes := []string{lowerChars, upperChars, digitChars, specialChars}
	all := lowerChars + upperChars + digitChars + specialChars

	out := make([]byte, passwordLength)
	for i := range out {
		set := all
		if i < len(classes) {
			set = classes[i]
		}
		c, err := randomByte(set)
		if err != nil {
			return "", err
		}
		out[i] = c
	}
	for i := len(out) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		out[i], out[j.Int64()] = out[j.Int64()], out[i]
	}
	return string(out), nil
}

func randomByte(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[n.Int64()], nil
}

func encodeQR(content string) (string, error) {
	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return "", err
	}
	scaled, err := barcode.Scale(code, qrSize, qrSize)
	if err != nil {
		return "", err
	}
	return encodePNG(scaled)
}

func encodePNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
