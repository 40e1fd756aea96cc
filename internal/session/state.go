package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

const stateLifetime = 10 * time.Minute

var errInvalidState = errors.New("invalid oauth state")

// stateClaims travel through GitHub as the OAuth2 state parameter
type stateClaims struct {
	Nonce    string `json:"nonce"`
	Redirect string `json:"redirect,omitempty"`
	jwt.StandardClaims
}

// stateSigner issues and verifies HS256 signed state tokens
type stateSigner struct {
	key    []byte
	issuer string
	now    func() time.Time
}

func (s *stateSigner) sign(nonce, redirect string) (string, error) {
	now := s.now()
	claims := stateClaims{
		Nonce:    nonce,
		Redirect: redirect,
		StandardClaims: jwt.StandardClaims{
			Issuer:    s.issuer,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(stateLifetime).Unix(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.key)
}

// verify checks signature, expiry and issuer, and that the state belongs to
// the browser holding nonce
func (s *stateSigner) verify(tokenStr, nonce string) (*stateClaims, error) {
	if tokenStr == "" || nonce == "" {
		return nil, errInvalidState
	}

	claims := &stateClaims{}
	parser := &jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}, SkipClaimsValidation: true}
	token, err := parser.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return s.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidState, err)
	} else if !token.Valid {
		return nil, errInvalidState
	}

	now := s.now().Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return nil, fmt.Errorf("%w: expired", errInvalidState)
	}
	if !claims.VerifyIssuer(s.issuer, true) {
		return nil, fmt.Errorf("%w: wrong issuer", errInvalidState)
	}
	if claims.Nonce != nonce {
		return nil, fmt.Errorf("%w: nonce mismatch", errInvalidState)
	}
	return claims, nil
}
