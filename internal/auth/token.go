package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidToken indicates the token failed signature checks or had malformed structure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken signals that the token's expiry is in the past.
	ErrExpiredToken = errors.New("token expired")
	// ErrWrongAudience signals a token minted for another service.
	ErrWrongAudience = errors.New("token audience mismatch")
)

// ViewerAudience is the audience claim carried by viewer tokens.
const ViewerAudience = "heatsurface-viewer"

const algorithm = "HS256"

// Claims is the payload of a viewer token.
type Claims struct {
	ID        string
	Subject   string
	Audience  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type header struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
}

type payload struct {
	ID       string `json:"jti,omitempty"`
	Subject  string `json:"sub"`
	Audience string `json:"aud,omitempty"`
	Issued   int64  `json:"iat"`
	Expires  int64  `json:"exp"`
}

// Signer issues and verifies compact JWT-style HS256 tokens for one audience.
type Signer struct {
	secret   []byte
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// Option customises a Signer.
type Option func(*Signer)

// WithClock overrides the signer clock.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLeeway tolerates clock skew when checking expiry.
func WithLeeway(leeway time.Duration) Option {
	return func(s *Signer) {
		if leeway > 0 {
			s.leeway = leeway
		}
	}
}

// NewSigner constructs a signer for secret and audience. An empty audience
// skips the audience check.
func NewSigner(secret, audience string, opts ...Option) (*Signer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("token secret must not be empty")
	}
	s := &Signer{secret: []byte(secret), audience: audience, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Issue mints a token for subject valid for ttl.
func (s *Signer) Issue(subject string, ttl time.Duration) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", fmt.Errorf("%w: subject required", ErrInvalidToken)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("%w: ttl must be positive", ErrInvalidToken)
	}
	now := s.now()
	head, err := encodeSegment(header{Algorithm: algorithm, Type: "JWT"})
	if err != nil {
		return "", err
	}
	body, err := encodeSegment(payload{
		ID:       uuid.NewString(),
		Subject:  subject,
		Audience: s.audience,
		Issued:   now.Unix(),
		Expires:  now.Add(ttl).Unix(),
	})
	if err != nil {
		return "", err
	}
	signed := head + "." + body
	return signed + "." + base64.RawURLEncoding.EncodeToString(s.sign(signed)), nil
}

// Verify checks the signature, expiry and audience of token.
func (s *Signer) Verify(token string) (*Claims, error) {
	if s == nil || len(s.secret) == 0 {
		return nil, errors.New("signer not initialised")
	}
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}

	var head header
	if err := decodeSegment(parts[0], &head); err != nil {
		return nil, ErrInvalidToken
	}
	if head.Algorithm != algorithm {
		return nil, fmt.Errorf("%w: unexpected algorithm %q", ErrInvalidToken, head.Algorithm)
	}
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || !hmac.Equal(signature, s.sign(parts[0]+"."+parts[1])) {
		return nil, ErrInvalidToken
	}

	var body payload
	if err := decodeSegment(parts[1], &body); err != nil {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(body.Subject) == "" || body.Expires <= 0 {
		return nil, ErrInvalidToken
	}
	expiresAt := time.Unix(body.Expires, 0)
	if expiresAt.Add(s.leeway).Before(s.now()) {
		return nil, ErrExpiredToken
	}
	if s.audience != "" && body.Audience != s.audience {
		return nil, ErrWrongAudience
	}
	return &Claims{
		ID:        body.ID,
		Subject:   body.Subject,
		Audience:  body.Audience,
		IssuedAt:  time.Unix(body.Issued, 0),
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Signer) sign(data string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func encodeSegment(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeSegment(segment string, v any) error {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
