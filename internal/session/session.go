// Package session はセッションIDの採番と署名付きCookieの読み書きを提供する。
// CookieにはセッションIDをHS256で署名したJWTを格納し、改ざんされた値はストアを引く前に拒否する。
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName はセッションCookieの名前。
const CookieName = "session_id"

const issuer = "capstone"

// ErrInvalidToken はCookieの値が検証できないことを示す。
var ErrInvalidToken = errors.New("invalid session token")

// NewID は32バイトの乱数から不透明なセッションIDを生成する。
func NewID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Codec はセッションIDをJWTとして署名・検証する。
type Codec struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewCodec はCodecを生成する。
func NewCodec(secret string, maxAge time.Duration) *Codec {
	return &Codec{secret: []byte(secret), maxAge: maxAge, now: time.Now}
}

// Encode はセッションIDを署名付きトークンに変換する。
func (c *Codec) Encode(sessionID string) (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		ID:        sessionID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.maxAge)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return token, nil
}

// Decode はトークンを検証しセッションIDを返す。
// 署名不一致、期限切れ、想定外のアルゴリズムはすべてErrInvalidTokenになる。
func (c *Codec) Decode(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.ID == "" {
		return "", fmt.Errorf("%w: missing session ID", ErrInvalidToken)
	}
	return claims.ID, nil
}

// CookieConfig はセッションCookieの属性。
type CookieConfig struct {
	Domain string
	Secure bool
	MaxAge time.Duration
}

// Cookies は署名付きセッションCookieを読み書きする。
type Cookies struct {
	codec *Codec
	cfg   CookieConfig
}

// NewCookies はCookiesを生成する。
func NewCookies(codec *Codec, cfg CookieConfig) *Cookies {
	return &Cookies{codec: codec, cfg: cfg}
}

// Read はリクエストのCookieからセッションIDを取り出す。
// Cookieがない場合はok=falseを返す。検証に失敗した場合はエラーを返す。
func (c *Cookies) Read(r *http.Request) (id string, ok bool, err error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return "", false, nil
	}
	id, err = c.codec.Decode(cookie.Value)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// Write はセッションIDを署名してCookieに設定する。
func (c *Cookies) Write(w http.ResponseWriter, sessionID string) error {
	token, err := c.codec.Encode(sessionID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Domain:   c.cfg.Domain,
		MaxAge:   int(c.cfg.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear はセッションCookieを失効させる。
func (c *Cookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Domain:   c.cfg.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
