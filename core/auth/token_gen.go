package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	salt    = []byte("planner.core.auth.token_gen")
	nowFunc = time.Now // mockable
	b32     = base32.StdEncoding.WithPadding(base32.NoPadding)
)

// tokenGen signs single-use sign-in tokens.
// A token is bound to the email and to the last sign-in stamp, so any successful sign-in invalidates
// every token issued before it.
type tokenGen struct {
	secretKey string
	timeout   time.Duration
}

func (tg tokenGen) makeToken(email string, lastSignIn time.Time) string {
	return tg.makeTokenWithTimestamp(email, lastSignIn, numMinutesSince2001(nowFunc()))
}

func (tg tokenGen) verifyToken(email string, lastSignIn time.Time, token string) error {
	if token == "" {
		return ErrInvalidToken
	}

	parts := strings.SplitN(token, "-", 2)
	if len(parts) < 2 {
		return ErrInvalidToken
	}

	data, err := b32.DecodeString(parts[0])
	if err != nil {
		return ErrInvalidToken
	}
	ts, err := strconv.Atoi(string(data))
	if err != nil {
		return ErrInvalidToken
	}

	// check that token has not been tampered with
	newToken := tg.makeTokenWithTimestamp(email, lastSignIn, ts)
	if subtle.ConstantTimeCompare([]byte(newToken), []byte(token)) == 0 {
		return ErrInvalidToken
	}

	// check that the timestamp is within limit
	if (numMinutesSince2001(nowFunc()) - ts) > int(tg.timeout/time.Minute) {
		return ErrTokenExpired
	}
	return nil
}

func (tg tokenGen) makeTokenWithTimestamp(email string, lastSignIn time.Time, ts int) string {
	tsB32 := b32.EncodeToString([]byte(strconv.Itoa(ts)))
	return fmt.Sprintf("%s-%s", tsB32, tg.sign(hashValue(email, lastSignIn, ts)))
}

func (tg tokenGen) sign(val []byte) string {
	key := sha256.Sum256(append(salt, tg.secretKey...))
	h := hmac.New(sha256.New, key[:])
	_, _ = h.Write(val) // never fails
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

func numMinutesSince2001(t time.Time) int {
	ref := time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)
	return int(t.Sub(ref) / time.Minute)
}

func hashValue(email string, lastSignIn time.Time, ts int) []byte {
	var val bytes.Buffer
	val.WriteString(email)
	if !lastSignIn.IsZero() {
		val.WriteString(lastSignIn.UTC().Format(time.RFC3339Nano))
	}
	val.WriteString(strconv.Itoa(ts))
	return val.Bytes()
}
