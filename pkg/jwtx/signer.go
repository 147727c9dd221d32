package jwtx

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"fmt"

	"github.com/aussiebroadwan/tabauth/pkg/cryptox"
	"github.com/golang-jwt/jwt/v5"
)

// Supported JWT signing algorithms
const (
	AlgorithmEdDSA = cryptox.AlgEdDSA
	AlgorithmES256 = cryptox.AlgES256
)

// Signer is our interface for anything that can sign JWTs.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)
	PublicJWK() JWK
}

type keySigner struct {
	kid    string
	alg    string
	method jwt.SigningMethod
	key    crypto.Signer
}

// NewSigner creates a signer for alg from a PKCS8 PEM private key.
func NewSigner(alg, kid string, pemKey []byte) (Signer, error) {
	if kid == "" {
		return nil, fmt.Errorf("jwtx: empty kid")
	}
	key, err := cryptox.ParseSigningKey(alg, pemKey)
	if err != nil {
		return nil, fmt.Errorf("jwtx: load %s key: %w", alg, err)
	}

	s := &keySigner{kid: kid, alg: alg, key: key}
	switch alg {
	case AlgorithmEdDSA:
		s.method = jwt.SigningMethodEdDSA
	case AlgorithmES256:
		s.method = jwt.SigningMethodES256
	}
	return s, nil
}

// GenerateSigner creates a signer backed by a fresh key and returns the key's PEM too.
func GenerateSigner(alg, kid string) (Signer, []byte, error) {
	pemKey, err := cryptox.GenerateSigningKey(alg)
	if err != nil {
		return nil, nil, err
	}
	s, err := NewSigner(alg, kid, pemKey)
	if err != nil {
		return nil, nil, err
	}
	return s, pemKey, nil
}

func (s *keySigner) Alg() string { return s.alg }
func (s *keySigner) KID() string { return s.kid }

// Sign turns claims into a compact JWS with the kid header set.
func (s *keySigner) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(s.method, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}

func (s *keySigner) PublicJWK() JWK {
	switch pub := s.key.Public().(type) {
	case ed25519.PublicKey:
		return NewEd25519JWK(s.kid, "sig", s.alg, pub)
	case *ecdsa.PublicKey:
		return NewES256JWK(s.kid, "sig", s.alg, pub)
	}
	return JWK{Kid: s.kid}
}
