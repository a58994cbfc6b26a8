package cron

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/JakeFAU/shortlink-edge/internal/apierr"
)

const (
	// SignatureHeader carries the queue's signed JWT.
	SignatureHeader = "Upstash-Signature"
	signatureIssuer = "Upstash"
	signatureAlg    = "HS256"
	bodyClaim       = "body"
)

// Verifier authenticates a cron request given its raw body.
type Verifier interface {
	Verify(r *http.Request, body []byte) error
}

// QStashVerifier checks Upstash-Signature JWTs against the current signing
// key and, during rotation, the next one.
type QStashVerifier struct {
	keys      []*jwtauth.JWTAuth
	publicURL string
}

// NewQStashVerifier builds a verifier. publicURL, when set, must prefix the
// token's subject followed by the request path.
func NewQStashVerifier(currentKey, nextKey, publicURL string, skew time.Duration) (*QStashVerifier, error) {
	if currentKey == "" && nextKey == "" {
		return nil, errors.New("at least one signing key is required")
	}
	v := &QStashVerifier{publicURL: strings.TrimRight(publicURL, "/")}
	for _, key := range []string{currentKey, nextKey} {
		if key == "" {
			continue
		}
		v.keys = append(v.keys, jwtauth.New(signatureAlg, []byte(key), nil,
			jwt.WithAcceptableSkew(skew),
			jwt.WithIssuer(signatureIssuer),
		))
	}
	return v, nil
}

// Verify implements Verifier.
func (v *QStashVerifier) Verify(r *http.Request, body []byte) error {
	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		return apierr.New(apierr.Unauthorized, "Missing Upstash-Signature header.")
	}
	var lastErr error
	for _, ja := range v.keys {
		err := v.verifyWith(ja, signature, r.URL.Path, body)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return apierr.Wrap(apierr.Unauthorized, "Invalid QStash request signature.", lastErr)
}

func (v *QStashVerifier) verifyWith(ja *jwtauth.JWTAuth, signature, path string, body []byte) error {
	token, err := jwtauth.VerifyToken(ja, signature)
	if err != nil {
		return fmt.Errorf("verify token: %w", err)
	}
	if v.publicURL != "" {
		want := v.publicURL + path
		if sub := strings.SplitN(token.Subject(), "?", 2)[0]; sub != want {
			return fmt.Errorf("subject %q does not match %q", sub, want)
		}
	}
	raw, ok := token.Get(bodyClaim)
	if !ok {
		return errors.New("missing body claim")
	}
	claimed, ok := raw.(string)
	if !ok {
		return errors.New("body claim is not a string")
	}
	claimed = strings.TrimRight(claimed, "=")
	if subtle.ConstantTimeCompare([]byte(claimed), []byte(bodyHash(body))) != 1 {
		return errors.New("body hash mismatch")
	}
	return nil
}

// bodyHash is the unpadded base64url SHA-256 of body.
func bodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Sign produces an Upstash-Signature value for body addressed to destURL.
func Sign(key, destURL string, body []byte, ttl time.Duration) (string, error) {
	if key == "" {
		return "", errors.New("signing key is required")
	}
	now := time.Now()
	ja := jwtauth.New(signatureAlg, []byte(key), nil)
	_, signed, err := ja.Encode(map[string]interface{}{
		jwt.IssuerKey:     signatureIssuer,
		jwt.SubjectKey:    destURL,
		jwt.IssuedAtKey:   now,
		jwt.NotBeforeKey:  now,
		jwt.ExpirationKey: now.Add(ttl),
		jwt.JwtIDKey:      uuid.NewString(),
		bodyClaim:         bodyHash(body),
	})
	if err != nil {
		return "", fmt.Errorf("sign request: %w", err)
	}
	return signed, nil
}

// CronSecretVerifier authenticates scheduler calls carrying
// "Authorization: Bearer <secret>".
type CronSecretVerifier struct {
	secret string
}

// NewCronSecretVerifier builds a verifier for secret. An empty secret rejects
// every request.
func NewCronSecretVerifier(secret string) *CronSecretVerifier {
	return &CronSecretVerifier{secret: secret}
}

// Verify implements Verifier.
func (v *CronSecretVerifier) Verify(r *http.Request, _ []byte) error {
	if v.secret == "" {
		return apierr.New(apierr.Unauthorized, "Cron secret is not configured.")
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(v.secret)) != 1 {
		return apierr.New(apierr.Unauthorized, "Invalid cron secret.")
	}
	return nil
}

type rejectAll struct {
	message string
}

// RejectAll returns a Verifier that refuses every request with message. It
// stands in when no signing keys are configured.
func RejectAll(message string) Verifier {
	return rejectAll{message: message}
}

func (v rejectAll) Verify(*http.Request, []byte) error {
	return apierr.New(apierr.Unauthorized, v.message)
}
