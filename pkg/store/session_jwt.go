package store

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultJWTIssuer   = "schoollib-auth"
	defaultJWTAudience = "schoollib-desk"
	defaultJWTKeyID    = "desk-signing"
	defaultJWTTTL      = 15 * time.Minute
	defaultJWTLeeway   = 30 * time.Second
)

var (
	// ErrTokenInvalid covers malformed, expired and wrongly signed tokens.
	ErrTokenInvalid = errors.New("invalid access token")
	// ErrTokenRevoked is returned for tokens revoked by id or by user cutoff.
	ErrTokenRevoked = errors.New("access token revoked")
)

// JWTOptions configures issuance and claim validation.
type JWTOptions struct {
	Issuer   string
	Audience string
	TTL      time.Duration
	Leeway   time.Duration
	// VerifyKeys holds previous public keys by kid, accepted during rotation.
	VerifyKeys map[string]*rsa.PublicKey
	Revoker    TokenRevoker
}

// JWTSessionStore issues and validates RS256 access tokens with kid/JWKS.
type JWTSessionStore struct {
	signer    *rsa.PrivateKey
	signerKid string
	verifiers map[string]*rsa.PublicKey
	revoker   TokenRevoker

	issuer   string
	audience string
	ttl      time.Duration
	leeway   time.Duration
	now      func() time.Time
}

// NewJWTSessionStore builds a store around an RSA signing key.
func NewJWTSessionStore(key *rsa.PrivateKey, keyID string, opts JWTOptions) (*JWTSessionStore, error) {
	if key == nil {
		return nil, errors.New("jwt signing key required")
	}
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		keyID = defaultJWTKeyID
	}
	opts = normalizeJWTOptions(opts)
	verifiers := map[string]*rsa.PublicKey{keyID: &key.PublicKey}
	for kid, pub := range opts.VerifyKeys {
		kid = strings.TrimSpace(kid)
		if kid == "" || pub == nil || kid == keyID {
			continue
		}
		verifiers[kid] = pub
	}
	return &JWTSessionStore{
		signer:    key,
		signerKid: keyID,
		verifiers: verifiers,
		revoker:   opts.Revoker,
		issuer:    opts.Issuer,
		audience:  opts.Audience,
		ttl:       opts.TTL,
		leeway:    opts.Leeway,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// NewJWTSessionStoreFromPEM loads the signing key and any previous public
// keys (kid -> path) from PEM files.
func NewJWTSessionStoreFromPEM(privateKeyPath, keyID string, previous map[string]string, opts JWTOptions) (*JWTSessionStore, error) {
	key, err := loadRSAPrivateKeyFromPEMFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load jwt private key: %w", err)
	}
	if len(previous) > 0 && opts.VerifyKeys == nil {
		opts.VerifyKeys = make(map[string]*rsa.PublicKey, len(previous))
	}
	for kid, path := range previous {
		if strings.TrimSpace(path) == "" {
			continue
		}
		pub, err := loadRSAPublicKeyFromPEMFile(path)
		if err != nil {
			return nil, fmt.Errorf("load verify key %q: %w", kid, err)
		}
		opts.VerifyKeys[kid] = pub
	}
	return NewJWTSessionStore(key, keyID, opts)
}

// GenerateSigningKey creates an ephemeral 2048-bit RSA key for development.
func GenerateSigningKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
}

// Issue signs a new access token for userID.
func (s *JWTSessionStore) Issue(_ context.Context, userID string) (IssuedToken, error) {
	if strings.TrimSpace(userID) == "" {
		return IssuedToken{}, errors.New("token subject required")
	}
	now := s.now()
	expires := now.Add(s.ttl)
	tokenID, err := randomTokenID()
	if err != nil {
		return IssuedToken{}, err
	}
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		ExpiresAt: jwt.NewNumericDate(expires),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        tokenID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.signerKid
	signed, err := token.SignedString(s.signer)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign access token: %w", err)
	}
	return IssuedToken{Token: signed, TokenID: tokenID, ExpiresAt: expires}, nil
}

// Verify validates signature, claims and revocation state and returns the
// subject.
func (s *JWTSessionStore) Verify(ctx context.Context, token string) (string, error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", err
	}
	if s.revoker == nil {
		return claims.Subject, nil
	}
	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return "", err
	}
	if revoked {
		return "", ErrTokenRevoked
	}
	cutoff, err := s.revoker.RevokedAfter(ctx, claims.Subject)
	if err != nil {
		return "", err
	}
	if !cutoff.IsZero() && !claims.IssuedAt.Time.After(cutoff) {
		return "", ErrTokenRevoked
	}
	return claims.Subject, nil
}

// Revoke marks the token id revoked for the rest of its lifetime. Tokens that
// no longer parse are already unusable and are ignored.
func (s *JWTSessionStore) Revoke(ctx context.Context, token string) error {
	if s.revoker == nil {
		return errors.New("jwt store has no revoker")
	}
	claims, err := s.parse(token)
	if err != nil {
		return nil
	}
	return s.revoker.Revoke(ctx, claims.ID, claims.ExpiresAt.Time.Sub(s.now())+s.leeway)
}

// RevokeUserSessions invalidates every token issued to userID at or before since.
func (s *JWTSessionStore) RevokeUserSessions(ctx context.Context, userID string, since time.Time) error {
	if s.revoker == nil {
		return errors.New("jwt store has no revoker")
	}
	return s.revoker.RevokeUser(ctx, userID, since)
}

// JWKS publishes every verification key, sorted by kid.
func (s *JWTSessionStore) JWKS() []JWK {
	kids := make([]string, 0, len(s.verifiers))
	for kid := range s.verifiers {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	out := make([]JWK, 0, len(kids))
	for _, kid := range kids {
		pub := s.verifiers[kid]
		out = append(out, JWK{
			Kty: "RSA",
			Use: "sig",
			Kid: kid,
			Alg: jwt.SigningMethodRS256.Alg(),
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	return out
}

func (s *JWTSessionStore) parse(token string) (jwt.RegisteredClaims, error) {
	var claims jwt.RegisteredClaims
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, ErrTokenInvalid
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		pub, ok := s.verifiers[strings.TrimSpace(kid)]
		if !ok {
			return nil, fmt.Errorf("unknown token key %q", kid)
		}
		return pub, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return claims, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.ID == "" || claims.Subject == "" || claims.IssuedAt == nil {
		return claims, fmt.Errorf("%w: missing jti, sub or iat", ErrTokenInvalid)
	}
	return claims, nil
}

func loadRSAPrivateKeyFromPEMFile(path string) (*rsa.PrivateKey, error) {
	block, err := readPEMBlock(path)
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not rsa")
	}
	return key, nil
}

func loadRSAPublicKeyFromPEMFile(path string) (*rsa.PublicKey, error) {
	block, err := readPEMBlock(path)
	if err != nil {
		return nil, err
	}
	var pubAny any
	if pubAny, err = x509.ParsePKIXPublicKey(block.Bytes); err != nil {
		cert, certErr := x509.ParseCertificate(block.Bytes)
		if certErr != nil {
			return nil, errors.New("failed to parse rsa public key")
		}
		pubAny = cert.PublicKey
	}
	pub, ok := pubAny.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not rsa")
	}
	return pub, nil
}

func readPEMBlock(path string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%s: invalid pem", path)
	}
	return block, nil
}

func randomTokenID() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func normalizeJWTOptions(opts JWTOptions) JWTOptions {
	opts.Issuer = strings.TrimSpace(opts.Issuer)
	opts.Audience = strings.TrimSpace(opts.Audience)
	if opts.Issuer == "" {
		opts.Issuer = defaultJWTIssuer
	}
	if opts.Audience == "" {
		opts.Audience = defaultJWTAudience
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultJWTTTL
	}
	if opts.Leeway <= 0 {
		opts.Leeway = defaultJWTLeeway
	}
	return opts
}
