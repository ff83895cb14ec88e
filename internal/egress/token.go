package egress

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 10 * time.Minute

// VideoGrant is the permission set carried by an engine access token.
type VideoGrant struct {
	Room       string `json:"room,omitempty"`
	RoomAdmin  bool   `json:"roomAdmin,omitempty"`
	RoomList   bool   `json:"roomList,omitempty"`
	RoomRecord bool   `json:"roomRecord,omitempty"`
}

// AccessClaims is the JWT payload accepted by the media engine.
type AccessClaims struct {
	Video VideoGrant `json:"video"`
	jwt.RegisteredClaims
}

// GenerateAccessToken signs an HS256 engine token for apiKey with the given grant.
func GenerateAccessToken(apiKey, apiSecret string, grant VideoGrant, ttl time.Duration) (string, error) {
	if apiKey == "" || apiSecret == "" {
		return "", fmt.Errorf("egress: api key and secret required")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	now := time.Now()
	claims := AccessClaims{
		Video: grant,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    apiKey,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(apiSecret))
}

// ParseAccessToken validates a token signed with apiSecret and returns its claims.
func ParseAccessToken(tokenString, apiSecret string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(apiSecret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
