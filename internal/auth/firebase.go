package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultFirebaseCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"
	firebaseIssuerPrefix    = "https://securetoken.google.com/"

	defaultCertsCacheTTL = time.Hour
	maxCertsResponseSize = 1 << 20
)

var (
	// ErrInvalidIDToken はOAuth IDトークンの検証失敗を表す。
	ErrInvalidIDToken = errors.New("invalid id token")
	// errCertsUnavailable は公開鍵の取得失敗を表す。トークン不正とは区別してサーバーエラーとする。
	errCertsUnavailable = errors.New("oauth certificates unavailable")
)

// OAuthClaims はOAuthプロバイダーで検証済みのクレーム。
type OAuthClaims struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// OAuthVerifier はサードパーティのIDトークンを検証する。
type OAuthVerifier interface {
	// Verify はIDトークンを検証してクレームを返す。
	// トークンが不正な場合はErrInvalidIDTokenをラップしたエラーを返す。
	Verify(ctx context.Context, idToken string) (*OAuthClaims, error)
}

// FirebaseConfig はFirebase IDトークン検証の設定。
type FirebaseConfig struct {
	ProjectID  string
	HTTPClient *http.Client

	// テスト用にオーバーライド可能
	CertsURL string
	Now      func() time.Time
}

// FirebaseVerifier はFirebase AuthenticationのIDトークン（RS256）を検証する。
// Googleが公開するx509証明書をCache-Controlのmax-ageに従ってキャッシュする。
// プロセス起動時に1度だけ生成し、ログインフローに注入して使い回す。
type FirebaseVerifier struct {
	config FirebaseConfig

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
}

// NewFirebaseVerifier はFirebaseVerifierを生成する。
func NewFirebaseVerifier(config FirebaseConfig) *FirebaseVerifier {
	if config.CertsURL == "" {
		config.CertsURL = defaultFirebaseCertsURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &FirebaseVerifier{config: config}
}

// firebaseClaims はFirebase IDトークンのペイロード。
type firebaseClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	jwt.RegisteredClaims
}

// Verify はIDトークンの署名、aud、iss、exp、subを検証する。
func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (*OAuthClaims, error) {
	claims := &firebaseClaims{}
	_, err := jwt.ParseWithClaims(idToken, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("kid header is missing")
		}
		return v.publicKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.config.ProjectID),
		jwt.WithIssuer(firebaseIssuerPrefix+v.config.ProjectID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.config.Now),
	)
	if err != nil {
		if errors.Is(err, errCertsUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub claim is empty", ErrInvalidIDToken)
	}

	return &OAuthClaims{
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Picture: claims.Picture,
	}, nil
}

// publicKey はkidに対応する公開鍵を返す。キャッシュが期限切れの場合は再取得する。
func (v *FirebaseVerifier) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.config.Now()
	if v.keys == nil || !now.Before(v.expiresAt) {
		keys, maxAge, err := v.fetchCerts(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errCertsUnavailable, err)
		}
		v.keys = keys
		v.expiresAt = now.Add(maxAge)
	}

	key, ok := v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown kid: %s", kid)
	}
	return key, nil
}

// fetchCerts は公開証明書を取得し、kidごとのRSA公開鍵とキャッシュ期間を返す。
func (v *FirebaseVerifier) fetchCerts(ctx context.Context) (map[string]*rsa.PublicKey, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.config.CertsURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create certs request: %w", err)
	}

	resp, err := v.config.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("certs request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCertsResponseSize))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read certs response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("certs fetch failed with status %d", resp.StatusCode)
	}

	var certs map[string]string
	if err := json.Unmarshal(body, &certs); err != nil {
		return nil, 0, fmt.Errorf("failed to parse certs response: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(certs))
	for kid, certPEM := range certs {
		key, err := parseRSACertificate(certPEM)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to parse certificate %s: %w", kid, err)
		}
		keys[kid] = key
	}
	if len(keys) == 0 {
		return nil, 0, fmt.Errorf("empty certs response")
	}

	return keys, parseMaxAge(resp.Header.Get("Cache-Control")), nil
}

// parseRSACertificate はPEM形式のx509証明書からRSA公開鍵を取り出す。
func parseRSACertificate(certPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return nil, errors.New("invalid PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("certificate does not hold an RSA public key")
	}
	return key, nil
}

// parseMaxAge はCache-Controlヘッダーのmax-ageを返す。取得できない場合はデフォルト値。
func parseMaxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(directive), "=")
		if !found || !strings.EqualFold(name, "max-age") {
			continue
		}
		seconds, err := strconv.Atoi(value)
		if err != nil || seconds <= 0 {
			return defaultCertsCacheTTL
		}
		return time.Duration(seconds) * time.Second
	}
	return defaultCertsCacheTTL
}

// compile-time interface check
var _ OAuthVerifier = (*FirebaseVerifier)(nil)
