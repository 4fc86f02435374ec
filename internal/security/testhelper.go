package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"
)

// Issuer and audience of providers built by NewTestTokenProvider.
const (
	TestIssuer   = "fleet-test"
	TestAudience = "fleet-admin-test"
)

// TestKeyPair is a throwaway signing key with its PKCS#8 and PKIX PEM encodings.
type TestKeyPair struct {
	Signer     crypto.Signer
	PrivatePEM string
	PublicPEM  string
}

// NewTestKeyPair generates a key for alg, "RS256" or "ES256". Tests only.
func NewTestKeyPair(alg string) (*TestKeyPair, error) {
	var (
		signer crypto.Signer
		err    error
	)
	switch alg {
	case "RS256":
		signer, err = rsa.GenerateKey(rand.Reader, 2048)
	case "ES256":
		signer, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	default:
		return nil, fmt.Errorf("test key: unsupported alg %q", alg)
	}
	if err != nil {
		return nil, err
	}
	priv, err := x509.MarshalPKCS8PrivateKey(signer)
	if err != nil {
		return nil, err
	}
	pub, err := x509.MarshalPKIXPublicKey(signer.Public())
	if err != nil {
		return nil, err
	}
	return &TestKeyPair{
		Signer:     signer,
		PrivatePEM: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: priv})),
		PublicPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub})),
	}, nil
}

// NewTestTokenProvider returns a provider signing ES256 tokens with a fresh key,
// for TestIssuer and TestAudience with a 15 minute TTL. Tests only.
func NewTestTokenProvider() (*TokenProvider, error) {
	kp, err := NewTestKeyPair("ES256")
	if err != nil {
		return nil, err
	}
	return NewTokenProvider(kp.Signer, kp.Signer.Public(), TestIssuer, TestAudience, 15*time.Minute), nil
}
