package awsKms

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeKMS "decrypts" by stripping a fixed prefix from the ciphertext
type fakeKMS struct {
	calls int
}

func (f *fakeKMS) Decrypt(_ context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	f.calls++
	s := string(in.CiphertextBlob)
	if !strings.HasPrefix(s, "enc:") {
		return nil, fmt.Errorf("InvalidCiphertextException")
	}
	return &kms.DecryptOutput{Plaintext: []byte(strings.TrimPrefix(s, "enc:"))}, nil
}

func wrap(s string) string {
	return base64.StdEncoding.EncodeToString([]byte("enc:" + s))
}

func TestAWSKMSKeySource_DerivesAuthorityKey(t *testing.T) {
	client := &fakeKMS{}
	src := NewAWSKMSKeySourceWithClient(client, "us-east-1", wrap(strings.Repeat("s", 32)), "", zap.NewNop())

	keys, err := src.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte(strings.Repeat("s", 32)), keys.SigningKey)
	assert.Len(t, keys.AuthorityKey, 32)
	assert.NotEqual(t, keys.SigningKey, keys.AuthorityKey)
	assert.Equal(t, 1, client.calls)
}

func TestAWSKMSKeySource_DecryptsAuthorityKey(t *testing.T) {
	src := NewAWSKMSKeySourceWithClient(&fakeKMS{}, "us-east-1", wrap("signing"), wrap("authority"), zap.NewNop())

	keys, err := src.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("authority"), keys.AuthorityKey)
}

func TestAWSKMSKeySource_Errors(t *testing.T) {
	t.Run("bad base64", func(t *testing.T) {
		src := NewAWSKMSKeySourceWithClient(&fakeKMS{}, "us-east-1", "%%%", "", zap.NewNop())
		_, err := src.Resolve(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "base64")
	})

	t.Run("kms rejects ciphertext", func(t *testing.T) {
		bad := base64.StdEncoding.EncodeToString([]byte("garbage"))
		src := NewAWSKMSKeySourceWithClient(&fakeKMS{}, "eu-west-1", bad, "", zap.NewNop())
		_, err := src.Resolve(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "eu-west-1")
	})
}
