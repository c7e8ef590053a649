package keysource

import (
	"context"
	"crypto"
	"crypto/x509"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/seaword/apicore/internal/xerrors"
)

// kmsKeyFetcher is the subset of the KMS API needed to fetch a public key.
// Extracted as an interface to enable unit testing without live AWS credentials.
type kmsKeyFetcher interface {
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
}

// KMSPublicKey resolves the public half of an asymmetric KMS signing key for
// RS256 token verification. The DER key is fetched once and cached; token
// signature checks then run locally with no further KMS calls.
type KMSPublicKey struct {
	client kmsKeyFetcher
	keyARN string

	mu     sync.RWMutex
	pubKey crypto.PublicKey
}

func NewKMSPublicKey(client *kms.Client, keyARN string) *KMSPublicKey {
	return &KMSPublicKey{client: client, keyARN: keyARN}
}

// PublicKey fetches and caches the KMS public key. First call hits the KMS
// API, subsequent calls return the cached key.
func (k *KMSPublicKey) PublicKey(ctx context.Context) (crypto.PublicKey, error) {
	k.mu.RLock()
	if k.pubKey != nil {
		defer k.mu.RUnlock()
		return k.pubKey, nil
	}
	k.mu.RUnlock()

	k.mu.Lock()
	defer k.mu.Unlock()
	// double-check after acquiring write lock
	if k.pubKey != nil {
		return k.pubKey, nil
	}

	if k.client == nil {
		return nil, xerrors.New("keysource: kms client is not configured")
	}

	out, err := k.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{
		KeyId: aws.String(k.keyARN),
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "keysource: kms get public key")
	}

	// sanity check before caching: the key must be usable for signing
	if out.KeyUsage != kmstypes.KeyUsageTypeSignVerify {
		return nil, xerrors.Newf("keysource: kms key %s has KeyUsage=%s, expected SIGN_VERIFY", k.keyARN, out.KeyUsage)
	}

	pub, err := x509.ParsePKIXPublicKey(out.PublicKey)
	if err != nil {
		return nil, xerrors.Wrap(err, "keysource: parse kms public key DER")
	}

	k.pubKey = pub
	return k.pubKey, nil
}
