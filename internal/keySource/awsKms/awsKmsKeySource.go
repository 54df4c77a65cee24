package awsKms

import (
	"context"
	"encoding/base64"

	"github.com/Layr-Labs/eigenx-esign-go/internal/keySource"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DecryptAPI is the subset of the KMS client used to unwrap secrets
type DecryptAPI interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// AWSKMSKeySource decrypts base64 KMS ciphertexts into the service secrets
type AWSKMSKeySource struct {
	logger              *zap.Logger
	kmsClient           DecryptAPI
	awsRegion           string
	signingCiphertext   string
	authorityCiphertext string
}

func NewAWSKMSKeySource(awsCfg aws.Config, signingCiphertext, authorityCiphertext string, logger *zap.Logger) *AWSKMSKeySource {
	return NewAWSKMSKeySourceWithClient(kms.NewFromConfig(awsCfg), awsCfg.Region, signingCiphertext, authorityCiphertext, logger)
}

func NewAWSKMSKeySourceWithClient(client DecryptAPI, region, signingCiphertext, authorityCiphertext string, logger *zap.Logger) *AWSKMSKeySource {
	return &AWSKMSKeySource{
		logger:              logger,
		kmsClient:           client,
		awsRegion:           region,
		signingCiphertext:   signingCiphertext,
		authorityCiphertext: authorityCiphertext,
	}
}

func (a *AWSKMSKeySource) Resolve(ctx context.Context) (*keySource.Keys, error) {
	signingKey, err := a.decrypt(ctx, a.signingCiphertext)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decrypt signing key in region %s", a.awsRegion)
	}

	var authorityKey []byte
	if a.authorityCiphertext != "" {
		authorityKey, err = a.decrypt(ctx, a.authorityCiphertext)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decrypt authority key in region %s", a.awsRegion)
		}
	}

	a.logger.Sugar().Infow("Resolved signing keys from KMS",
		"region", a.awsRegion,
		"authority_key_derived", len(authorityKey) == 0,
	)
	return keySource.Complete(signingKey, authorityKey)
}

func (a *AWSKMSKeySource) decrypt(ctx context.Context, ciphertext string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, errors.Wrap(err, "ciphertext is not valid base64")
	}
	out, err := a.kmsClient.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
	if err != nil {
		return nil, errors.Wrap(err, "kms decrypt failed")
	}
	if len(out.Plaintext) == 0 {
		return nil, errors.New("kms returned an empty plaintext")
	}
	return out.Plaintext, nil
}
