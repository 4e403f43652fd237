package server

import (
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"
)

/*
AuthContext carries the authenticated caller identity into processor
invocations.  A nil context means the caller could not be authenticated;
processors decide what that means for the task.
*/
type AuthContext struct {
	Subject string
	Claims  map[string]any
}

/*
AuthFunc derives an AuthContext from the Authorization header value of an
inbound call.  Returning nil is not a transport-level rejection – the nil
context is passed through to the processor so the refusal is recorded in
the task history.
*/
type AuthFunc func(authorization string) *AuthContext

/*
JWTAuth validates HMAC-signed bearer tokens with the given secret.
*/
func JWTAuth(secret []byte) AuthFunc {
	return func(authorization string) *AuthContext {
		raw, ok := strings.CutPrefix(authorization, "Bearer ")

		if !ok || raw == "" {
			return nil
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return secret, nil
		})

		if err != nil || !token.Valid {
			log.Warn("rejecting bearer token", "error", err)
			return nil
		}

		claims, ok := token.Claims.(jwt.MapClaims)

		if !ok {
			return nil
		}

		subject, _ := claims.GetSubject()

		return &AuthContext{
			Subject: subject,
			Claims:  claims,
		}
	}
}

/*
NewToken mints an HMAC-signed bearer token for the subject.  Used by the
demo client and the test suite.
*/
func NewToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	})

	return token.SignedString(secret)
}
