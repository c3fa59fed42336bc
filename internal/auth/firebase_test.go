package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testProjectID = "taskman-test"

// testSigner はテスト用のRSA鍵と自己署名証明書を保持する。
type testSigner struct {
	kid     string
	key     *rsa.PrivateKey
	certPEM string
}

func newTestSigner(t *testing.T, kid string) *testSigner {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "securetoken.system.gserviceaccount.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	return &testSigner{kid: kid, key: key, certPEM: string(certPEM)}
}

func (s *testSigner) sign(t *testing.T, claims jwt.Claims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.kid
	signed, err := token.SignedString(s.key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func newCertsServer(t *testing.T, signers ...*testSigner) (*httptest.Server, *int32) {
	t.Helper()

	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		certs := map[string]string{}
		for _, s := range signers {
			certs[s.kid] = s.certPEM
		}
		w.Header().Set("Cache-Control", "public, max-age=600, must-revalidate")
		json.NewEncoder(w).Encode(certs)
	}))
	t.Cleanup(ts.Close)
	return ts, &hits
}

func validFirebaseClaims(now time.Time) *firebaseClaims {
	return &firebaseClaims{
		Email:   "oauth@example.com",
		Name:    "OAuth User",
		Picture: "https://lh3.googleusercontent.com/a/photo.jpg",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    firebaseIssuerPrefix + testProjectID,
			Audience:  jwt.ClaimStrings{testProjectID},
			Subject:   "firebase-uid-1",
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func TestFirebaseVerifier_Verify_ValidToken(t *testing.T) {
	signer := newTestSigner(t, "kid-1")
	ts, _ := newCertsServer(t, signer)
	now := time.Now()

	verifier := NewFirebaseVerifier(FirebaseConfig{
		ProjectID:  testProjectID,
		HTTPClient: ts.Client(),
		CertsURL:   ts.URL,
		Now:        fixedClock(now),
	})

	claims, err := verifier.Verify(context.Background(), signer.sign(t, validFirebaseClaims(now)))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "firebase-uid-1" || claims.Email != "oauth@example.com" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.Name != "OAuth User" || claims.Picture == "" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestFirebaseVerifier_Verify_InvalidTokens(t *testing.T) {
	signer := newTestSigner(t, "kid-1")
	stranger := newTestSigner(t, "kid-1")
	unknown := newTestSigner(t, "kid-unknown")
	ts, _ := newCertsServer(t, signer)
	now := time.Now()

	verifier := NewFirebaseVerifier(FirebaseConfig{
		ProjectID:  testProjectID,
		HTTPClient: ts.Client(),
		CertsURL:   ts.URL,
		Now:        fixedClock(now),
	})

	wrongAud := validFirebaseClaims(now)
	wrongAud.Audience = jwt.ClaimStrings{"other-project"}

	wrongIss := validFirebaseClaims(now)
	wrongIss.Issuer = "https://accounts.google.com"

	expired := validFirebaseClaims(now)
	expired.IssuedAt = jwt.NewNumericDate(now.Add(-2 * time.Hour))
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Hour))

	noSub := validFirebaseClaims(now)
	noSub.Subject = ""

	hsToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validFirebaseClaims(now)).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("failed to sign HS256 token: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"aud不一致", signer.sign(t, wrongAud)},
		{"iss不一致", signer.sign(t, wrongIss)},
		{"期限切れ", signer.sign(t, expired)},
		{"subなし", signer.sign(t, noSub)},
		{"別の鍵で署名", stranger.sign(t, validFirebaseClaims(now))},
		{"未知のkid", unknown.sign(t, validFirebaseClaims(now))},
		{"HS256", hsToken},
		{"不正な文字列", "garbage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(context.Background(), tt.token)
			if !errors.Is(err, ErrInvalidIDToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidIDToken", err)
			}
		})
	}
}

// 証明書はmax-age内であれば再取得しない。
func TestFirebaseVerifier_CachesCertificates(t *testing.T) {
	signer := newTestSigner(t, "kid-1")
	ts, hits := newCertsServer(t, signer)
	now := time.Now()
	current := now

	verifier := NewFirebaseVerifier(FirebaseConfig{
		ProjectID:  testProjectID,
		HTTPClient: ts.Client(),
		CertsURL:   ts.URL,
		Now:        func() time.Time { return current },
	})

	token := signer.sign(t, validFirebaseClaims(now))
	for i := 0; i < 3; i++ {
		if _, err := verifier.Verify(context.Background(), token); err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
	}
	if got := atomic.LoadInt32(hits); got != 1 {
		t.Errorf("certs fetched %d times, want 1", got)
	}

	current = now.Add(11 * time.Minute)
	verifier.Verify(context.Background(), token)
	if got := atomic.LoadInt32(hits); got != 2 {
		t.Errorf("certs fetched %d times after max-age, want 2", got)
	}
}

// 公開鍵を取得できない場合はトークン不正ではなく内部エラーとして返す。
func TestFirebaseVerifier_CertsUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	signer := newTestSigner(t, "kid-1")
	now := time.Now()
	verifier := NewFirebaseVerifier(FirebaseConfig{
		ProjectID:  testProjectID,
		HTTPClient: ts.Client(),
		CertsURL:   ts.URL,
		Now:        fixedClock(now),
	})

	_, err := verifier.Verify(context.Background(), signer.sign(t, validFirebaseClaims(now)))
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrInvalidIDToken) {
		t.Errorf("certs failure must not be reported as an invalid token: %v", err)
	}
}

func TestParseMaxAge(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"public, max-age=19302, must-revalidate, no-transform", 19302 * time.Second},
		{"max-age=60", time.Minute},
		{"no-cache", defaultCertsCacheTTL},
		{"max-age=abc", defaultCertsCacheTTL},
		{"", defaultCertsCacheTTL},
	}
	for _, tt := range tests {
		if got := parseMaxAge(tt.header); got != tt.want {
			t.Errorf("parseMaxAge(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}
