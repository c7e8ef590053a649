package keysource

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/seaword/apicore/internal/xerrors"
)

func TestStatic(t *testing.T) {
	key, err := Static([]byte("secret")).Key(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if string(key) != "secret" {
		t.Fatalf("key = %q", key)
	}

	if _, err := Static(nil).Key(context.Background()); err == nil {
		t.Fatal("empty static key should fail")
	}
}

type fakeSSM struct {
	value string
	err   error
	calls int
}

func (f *fakeSSM) GetParameter(ctx context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if in.WithDecryption == nil || !*in.WithDecryption {
		return nil, xerrors.New("expected WithDecryption for SecureString")
	}
	return &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{Value: aws.String(f.value)},
	}, nil
}

func TestSSMParameter(t *testing.T) {
	fake := &fakeSSM{value: "from-ssm"}
	src := &SSMParameter{client: fake, name: "/apicore/server/jwt/signing-key"}

	key, err := src.Key(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if string(key) != "from-ssm" {
		t.Fatalf("key = %q", key)
	}
	if fake.calls != 1 {
		t.Fatalf("calls = %d", fake.calls)
	}
}

func TestSSMParameter_Failures(t *testing.T) {
	if _, err := (&SSMParameter{name: "x"}).Key(context.Background()); err == nil {
		t.Fatal("nil client should fail")
	}
	if _, err := (&SSMParameter{client: &fakeSSM{}}).Key(context.Background()); err == nil {
		t.Fatal("empty parameter name should fail")
	}
	if _, err := (&SSMParameter{client: &fakeSSM{value: ""}, name: "x"}).Key(context.Background()); err == nil {
		t.Fatal("empty parameter value should fail")
	}
	if _, err := (&SSMParameter{client: &fakeSSM{err: xerrors.New("denied")}, name: "x"}).Key(context.Background()); err == nil {
		t.Fatal("API error should propagate")
	}
}

type fakeKMS struct {
	der   []byte
	usage kmstypes.KeyUsageType
	err   error
	calls int
}

func (f *fakeKMS) GetPublicKey(ctx context.Context, in *kms.GetPublicKeyInput, _ ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &kms.GetPublicKeyOutput{PublicKey: f.der, KeyUsage: f.usage}, nil
}

func testRSADER(t *testing.T) []byte {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	return der
}

func TestKMSPublicKey_FetchAndCache(t *testing.T) {
	fake := &fakeKMS{der: testRSADER(t), usage: kmstypes.KeyUsageTypeSignVerify}
	src := &KMSPublicKey{client: fake, keyARN: "arn:aws:kms:us-east-2:1:key/abc"}

	first, err := src.PublicKey(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := first.(*rsa.PublicKey); !ok {
		t.Fatalf("key type = %T, want *rsa.PublicKey", first)
	}

	second, err := src.PublicKey(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatal("cached key should be returned on subsequent calls")
	}
	if fake.calls != 1 {
		t.Fatalf("KMS calls = %d, want 1 (cached)", fake.calls)
	}
}

func TestKMSPublicKey_RejectsWrongUsage(t *testing.T) {
	fake := &fakeKMS{der: testRSADER(t), usage: kmstypes.KeyUsageTypeEncryptDecrypt}
	src := &KMSPublicKey{client: fake, keyARN: "arn"}
	if _, err := src.PublicKey(context.Background()); err == nil {
		t.Fatal("ENCRYPT_DECRYPT key should be rejected")
	}
}

func TestKMSPublicKey_RejectsBadDER(t *testing.T) {
	fake := &fakeKMS{der: []byte("not der"), usage: kmstypes.KeyUsageTypeSignVerify}
	src := &KMSPublicKey{client: fake, keyARN: "arn"}
	if _, err := src.PublicKey(context.Background()); err == nil {
		t.Fatal("unparseable DER should be rejected")
	}
}
