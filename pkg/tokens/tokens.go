package tokens

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// ErrInvalidToken covers every decode failure: bad signature, malformed
// input, expired token, wrong token type. Callers never learn which.
var ErrInvalidToken = errors.New("invalid token")

type AccessClaims struct {
	Role      string  `json:"role"`
	AreaID    *string `json:"area_id,omitempty"`
	TokenType string  `json:"type"`
	jwt.RegisteredClaims
}

type RefreshClaims struct {
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// Codec signs and verifies the two token kinds with HS256. It is stateless;
// ledger checks are the caller's business.
type Codec struct {
	accessSecret  []byte
	refreshSecret []byte
}

// NewCodec fails on an empty secret so a misconfigured binary cannot start
// with a guessable signing key.
func NewCodec(accessSecret, refreshSecret []byte) (*Codec, error) {
	if len(accessSecret) == 0 || len(refreshSecret) == 0 {
		return nil, errors.New("tokens: signing secret must not be empty")
	}
	return &Codec{accessSecret: accessSecret, refreshSecret: refreshSecret}, nil
}

func (c *Codec) EncodeAccess(userID, role string, areaID *string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := AccessClaims{
		Role:      role,
		AreaID:    areaID,
		TokenType: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.accessSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (c *Codec) EncodeRefresh(userID string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := RefreshClaims{
		TokenType: TypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.refreshSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (c *Codec) DecodeAccess(tokenStr string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := c.parse(tokenStr, &claims, c.accessSecret); err != nil {
		return nil, err
	}
	if claims.TokenType != TypeAccess || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

func (c *Codec) DecodeRefresh(tokenStr string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if err := c.parse(tokenStr, &claims, c.refreshSecret); err != nil {
		return nil, err
	}
	if claims.TokenType != TypeRefresh || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

func (c *Codec) parse(tokenStr string, claims jwt.Claims, secret []byte) error {
	tkn, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected sign method")
		}
		return secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !tkn.Valid {
		return ErrInvalidToken
	}
	return nil
}
