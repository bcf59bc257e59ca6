package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestNewID_UniqueHex(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id, err := NewID()
		if err != nil {
			t.Fatalf("NewID: %v", err)
		}
		if len(id) != 64 {
			t.Errorf("len = %d, want 64", len(id))
		}
		if seen[id] {
			t.Fatalf("IDが重複しました: %s", id)
		}
		seen[id] = true
	}
}

func TestCodec_EncodeDecode(t *testing.T) {
	c := NewCodec(testSecret, time.Hour)

	token, err := c.Encode("sess-1")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := c.Decode(token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != "sess-1" {
		t.Errorf("Decode = %q, want sess-1", got)
	}
}

func TestCodec_Decode_Rejects(t *testing.T) {
	c := NewCodec(testSecret, time.Hour)
	valid, _ := c.Encode("sess-1")

	expired := NewCodec(testSecret, time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expiredToken, _ := expired.Encode("sess-1")

	otherKey, _ := NewCodec("another-secret-value-0000", time.Hour).Encode("sess-1")

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		ID:        "sess-1",
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
	}{
		{"改ざん", valid[:len(valid)-2] + "xx"},
		{"期限切れ", expiredToken},
		{"別の鍵", otherKey},
		{"alg=none", none},
		{"JWTでない", "plain-session-id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decode(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestCookies_WriteAndRead(t *testing.T) {
	cookies := NewCookies(NewCodec(testSecret, time.Hour), CookieConfig{Secure: true, MaxAge: time.Hour})

	w := httptest.NewRecorder()
	if err := cookies.Write(w, "sess-1"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	resp := w.Result()
	var written *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == CookieName {
			written = c
		}
	}
	if written == nil {
		t.Fatal("セッションCookieが設定されていません")
	}
	if !written.HttpOnly || !written.Secure || written.SameSite != http.SameSiteLaxMode {
		t.Errorf("Cookie属性が不正: %+v", written)
	}
	if written.MaxAge != 3600 {
		t.Errorf("MaxAge = %d, want 3600", written.MaxAge)
	}
	if strings.Contains(written.Value, "sess-1") {
		t.Error("セッションIDが平文で格納されています")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(written)
	id, ok, err := cookies.Read(req)
	if err != nil || !ok || id != "sess-1" {
		t.Errorf("Read = %q, %v, %v", id, ok, err)
	}
}

func TestCookies_Read_NoCookie(t *testing.T) {
	cookies := NewCookies(NewCodec(testSecret, time.Hour), CookieConfig{MaxAge: time.Hour})

	id, ok, err := cookies.Read(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil || ok || id != "" {
		t.Errorf("Read = %q, %v, %v; want empty", id, ok, err)
	}
}

func TestCookies_Clear(t *testing.T) {
	cookies := NewCookies(NewCodec(testSecret, time.Hour), CookieConfig{MaxAge: time.Hour})

	w := httptest.NewRecorder()
	cookies.Clear(w)

	found := false
	for _, c := range w.Result().Cookies() {
		if c.Name == CookieName {
			found = true
			if c.MaxAge >= 0 {
				t.Errorf("MaxAge = %d, want < 0", c.MaxAge)
			}
		}
	}
	if !found {
		t.Error("失効用Cookieが設定されていません")
	}
}
