package identity

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidPhone      = errors.New("invalid phone number")
	ErrThrottled         = errors.New("too many codes requested, try again later")
	ErrInvalidCode       = errors.New("invalid verification code")
	ErrCodeExpired       = errors.New("verification code expired or unknown")
	ErrTooManyAttempts   = errors.New("too many verification attempts")
	ErrInvalidToken      = errors.New("invalid token")
	ErrMissingPhoneClaim = errors.New("token has no phone_number claim")
)

// Confirmation is returned after a code was sent. The verification id must
// accompany the code when it is confirmed.
type Confirmation struct {
	VerificationID string    `json:"verificationId"`
	PhoneNumber    string    `json:"phoneNumber"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// VerifiedUser is the result of a successful code confirmation.
type VerifiedUser struct {
	PhoneNumber string `json:"phoneNumber"`
	IDToken     string `json:"idToken"`
}

// Provider sends and confirms phone one-time codes.
type Provider interface {
	SendCode(ctx context.Context, phone string) (Confirmation, error)
	VerifyCode(ctx context.Context, verificationID, code string) (VerifiedUser, error)
}

// NormalizePhone reduces raw to E.164 form: a leading "+" followed by 8 to
// 15 digits. Spaces, dots, dashes and parentheses are ignored.
func NormalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "+") {
		return "", ErrInvalidPhone
	}
	var b strings.Builder
	b.WriteByte('+')
	digits := 0
	for _, r := range raw[1:] {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", ErrInvalidPhone
		}
	}
	if digits < 8 || digits > 15 || b.String()[1] == '0' {
		return "", ErrInvalidPhone
	}
	return b.String(), nil
}
