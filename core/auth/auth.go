package auth

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	sessionAudience  = "session"
	downloadAudience = "download"
	issuer           = "releasekit"
)

// ErrInvalidToken covers malformed, expired and wrongly scoped tokens.
// Download tokens never fail on expiry; the download record decides that.
var ErrInvalidToken = errors.New("invalid token")

// Claims represents the JWT claims of a session token.
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Signer 签发和校验 HS256 令牌
type Signer struct {
	secret []byte
}

// NewSigner returns an error for an empty secret.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is empty")
	}
	return &Signer{secret: []byte(secret)}, nil
}

// GenerateToken creates a session token for a user.
func (s *Signer) GenerateToken(userID int64, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(userID, 10),
			Audience:  jwt.ClaimStrings{sessionAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return s.sign(claims)
}

// ParseToken validates a session token and returns its claims.
func (s *Signer) ParseToken(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString, sessionAudience)
	if err != nil {
		return nil, err
	}
	if claims.UserID <= 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SignDownload 签发下载链接令牌，只对一个下载记录有效
// exp 向上取整到秒，不早于产物的过期时间
func (s *Signer) SignDownload(publicID string, userID int64, expiresAt time.Time) (string, error) {
	if rounded := expiresAt.Truncate(time.Second); rounded.Before(expiresAt) {
		expiresAt = rounded.Add(time.Second)
	}
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   publicID,
			Audience:  jwt.ClaimStrings{downloadAudience},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	return s.sign(claims)
}

// VerifyDownload checks a download token against the download it is presented for
// and returns the user it was issued to.
//
// The exp claim is not enforced here. A link followed after expiry must still
// reach the download record so that it is marked EXPIRED and answered with 410.
func (s *Signer) VerifyDownload(tokenString, publicID string) (int64, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Issuer != issuer || !slices.Contains(claims.Audience, downloadAudience) {
		return 0, ErrInvalidToken
	}
	if claims.Subject != publicID || claims.UserID <= 0 {
		return 0, ErrInvalidToken
	}
	return claims.UserID, nil
}

func (s *Signer) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *Signer) parse(tokenString, audience string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

func (s *Signer) keyFunc(*jwt.Token) (interface{}, error) {
	return s.secret, nil
}
