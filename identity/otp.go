package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

const (
	otpKeyPrefix    = "otp:"
	defaultTokenTTL = 24 * time.Hour
)

// Sender delivers a code to a phone.
type Sender interface {
	Send(ctx context.Context, phone, code string) error
}

// LogSender writes codes to the log instead of sending an SMS. It is meant
// for local development.
type LogSender struct {
	Logger *log.Logger
}

// Send implements Sender.
func (s LogSender) Send(ctx context.Context, phone, code string) error {
	logger := s.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	logger.WithFields(log.Fields{"phone": phone, "code": code}).Info("verification code issued")
	return nil
}

// OTPConfig controls code issuance and the tokens minted on success.
type OTPConfig struct {
	Length       int
	TTL          time.Duration
	MaxAttempts  int
	SendInterval time.Duration
	SendBurst    int

	Secret   []byte
	Issuer   string
	Audience string
	TokenTTL time.Duration
}

// OTPProvider is a Provider backed by Redis. Codes are stored bcrypt-hashed
// under otp:<verificationId> with the phone, an attempt counter and the
// expiry time.
type OTPProvider struct {
	rdb    *redis.Client
	sender Sender
	cfg    OTPConfig
	logger *log.Logger

	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	lastSweep time.Time

	now   func() time.Time
	newID func() string
}

// NewOTPProvider validates cfg and builds a provider.
func NewOTPProvider(rdb *redis.Client, sender Sender, cfg OTPConfig, logger *log.Logger) (*OTPProvider, error) {
	if rdb == nil {
		return nil, errors.New("otp provider: redis client is required")
	}
	if len(cfg.Secret) == 0 {
		return nil, errors.New("otp provider: signing secret is required")
	}
	if cfg.Length < 4 || cfg.Length > 10 {
		return nil, fmt.Errorf("otp provider: code length %d out of range", cfg.Length)
	}
	if cfg.TTL <= 0 || cfg.MaxAttempts <= 0 || cfg.SendInterval <= 0 || cfg.SendBurst <= 0 {
		return nil, errors.New("otp provider: ttl, attempts, interval and burst must be positive")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	if sender == nil {
		sender = LogSender{Logger: logger}
	}
	return &OTPProvider{
		rdb:      rdb,
		sender:   sender,
		cfg:      cfg,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

func (p *OTPProvider) allow(phone string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if now.Sub(p.lastSweep) >= p.limiterIdle() {
		p.sweepLimiters(now)
	}
	l, ok := p.limiters[phone]
	if !ok {
		l = rate.NewLimiter(rate.Every(p.cfg.SendInterval), p.cfg.SendBurst)
		p.limiters[phone] = l
	}
	return l.AllowN(now, 1)
}

// limiterIdle is how long a drained limiter takes to refill completely.
func (p *OTPProvider) limiterIdle() time.Duration {
	return p.cfg.SendInterval * time.Duration(p.cfg.SendBurst)
}

// sweepLimiters drops limiters that have refilled; a fresh one behaves the
// same. Callers hold p.mu.
func (p *OTPProvider) sweepLimiters(now time.Time) {
	full := float64(p.cfg.SendBurst)
	for phone, l := range p.limiters {
		if l.TokensAt(now) >= full {
			delete(p.limiters, phone)
		}
	}
	p.lastSweep = now
}

func (p *OTPProvider) generateCode() (string, error) {
	buf := make([]byte, p.cfg.Length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		buf[i] = byte(n.Int64()) + '0'
	}
	return string(buf), nil
}

// SendCode issues a fresh code for phone and delivers it.
func (p *OTPProvider) SendCode(ctx context.Context, phone string) (Confirmation, error) {
	phone, err := NormalizePhone(phone)
	if err != nil {
		return Confirmation{}, err
	}
	if !p.allow(phone) {
		p.logger.WithField("phone", phone).Warn("otp.send.throttled")
		return Confirmation{}, ErrThrottled
	}

	code, err := p.generateCode()
	if err != nil {
		return Confirmation{}, fmt.Errorf("generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return Confirmation{}, fmt.Errorf("hash code: %w", err)
	}

	id := p.newID()
	expiresAt := p.now().Add(p.cfg.TTL)
	key := otpKeyPrefix + id
	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"phone":     phone,
			"hash":      string(hash),
			"attempts":  0,
			"expiresAt": expiresAt.UnixMilli(),
		})
		pipe.PExpire(ctx, key, p.cfg.TTL)
		return nil
	})
	if err != nil {
		return Confirmation{}, fmt.Errorf("store code: %w", err)
	}

	if err := p.sender.Send(ctx, phone, code); err != nil {
		p.rdb.Del(ctx, key)
		return Confirmation{}, fmt.Errorf("deliver code: %w", err)
	}
	p.logger.WithFields(log.Fields{"phone": phone, "verification_id": id}).Debug("otp.sent")
	return Confirmation{VerificationID: id, PhoneNumber: phone, ExpiresAt: expiresAt}, nil
}

// VerifyCode confirms a code and mints an ID token for its phone. The code
// is single use, and is discarded after MaxAttempts wrong guesses.
func (p *OTPProvider) VerifyCode(ctx context.Context, verificationID, code string) (VerifiedUser, error) {
	if verificationID == "" || code == "" {
		return VerifiedUser{}, ErrInvalidCode
	}
	key := otpKeyPrefix + verificationID
	fields, err := p.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return VerifiedUser{}, fmt.Errorf("load code: %w", err)
	}
	if len(fields) == 0 || fields["hash"] == "" {
		return VerifiedUser{}, ErrCodeExpired
	}
	attempts, _ := strconv.Atoi(fields["attempts"])
	if attempts >= p.cfg.MaxAttempts {
		p.rdb.Del(ctx, key)
		return VerifiedUser{}, ErrTooManyAttempts
	}

	if bcrypt.CompareHashAndPassword([]byte(fields["hash"]), []byte(code)) != nil {
		return VerifiedUser{}, p.recordFailure(ctx, key, fields["expiresAt"])
	}

	// Only the submission whose delete removed the key may use the code.
	removed, err := p.rdb.Del(ctx, key).Result()
	if err != nil {
		return VerifiedUser{}, fmt.Errorf("consume code: %w", err)
	}
	if removed != 1 {
		return VerifiedUser{}, ErrCodeExpired
	}
	phone := fields["phone"]
	token, err := p.issueToken(phone)
	if err != nil {
		return VerifiedUser{}, err
	}
	p.logger.WithField("phone", phone).Info("otp.verified")
	return VerifiedUser{PhoneNumber: phone, IDToken: token}, nil
}

func (p *OTPProvider) recordFailure(ctx context.Context, key, expiresAt string) error {
	var incr *redis.IntCmd
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, key, "attempts", 1)
		if ms, err := strconv.ParseInt(expiresAt, 10, 64); err == nil {
			pipe.PExpireAt(ctx, key, time.UnixMilli(ms))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	if incr.Val() >= int64(p.cfg.MaxAttempts) {
		p.rdb.Del(ctx, key)
		return ErrTooManyAttempts
	}
	return ErrInvalidCode
}

func (p *OTPProvider) issueToken(phone string) (string, error) {
	return SignLocalToken(p.cfg.Secret, phone, p.cfg.Issuer, p.cfg.Audience, p.now(), p.cfg.TokenTTL)
}

// SignLocalToken mints the HS256 ID token accepted by NewLocalVerifier.
// Issuer and audience are only set when non-empty.
func SignLocalToken(secret []byte, phone, issuer, audience string, now time.Time, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":          phone,
		"phone_number": phone,
		"iat":          now.Unix(),
		"exp":          now.Add(ttl).Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	if audience != "" {
		claims["aud"] = audience
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
