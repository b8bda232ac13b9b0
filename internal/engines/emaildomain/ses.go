package emaildomain

import (
	"context"
	stderrors "errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"credhub/internal/common/errors"
	"credhub/internal/credentials"
)

// ProviderSES is the provider name persisted in record config
const ProviderSES = "ses"

// sesAPI is the slice of the SESv2 client this backend uses
type sesAPI interface {
	CreateEmailIdentity(ctx context.Context, params *sesv2.CreateEmailIdentityInput, optFns ...func(*sesv2.Options)) (*sesv2.CreateEmailIdentityOutput, error)
	GetEmailIdentity(ctx context.Context, params *sesv2.GetEmailIdentityInput, optFns ...func(*sesv2.Options)) (*sesv2.GetEmailIdentityOutput, error)
}

// SESBackend verifies sending domains through AWS SESv2 domain identities
type SESBackend struct {
	client sesAPI
}

// NewSESBackend creates an SES backend from a configured SESv2 client
func NewSESBackend(client *sesv2.Client) *SESBackend {
	return &SESBackend{client: client}
}

func (s *SESBackend) Name() string { return ProviderSES }

// CreateDomain registers the domain as an SES email identity. An
// already-existing identity is treated as success.
func (s *SESBackend) CreateDomain(ctx context.Context, domain string) (map[string]string, error) {
	_, err := s.client.CreateEmailIdentity(ctx, &sesv2.CreateEmailIdentityInput{
		EmailIdentity: aws.String(domain),
	})
	if err != nil {
		var exists *types.AlreadyExistsException
		if !stderrors.As(err, &exists) {
			return nil, errors.ConnectionError("ses identity creation failed", err)
		}
	}
	return nil, nil
}

// Verify reads the identity's DKIM tokens and sending verification state
func (s *SESBackend) Verify(ctx context.Context, rec *credentials.Record) (*VerificationResult, error) {
	domain := rec.Config[credentials.ConfigDomain]

	identity, err := s.client.GetEmailIdentity(ctx, &sesv2.GetEmailIdentityInput{
		EmailIdentity: aws.String(domain),
	})
	if err != nil {
		return nil, errors.ConnectionError("ses identity lookup failed", err)
	}

	result := &VerificationResult{Status: StatusPending}

	if identity.DkimAttributes != nil {
		recordStatus := string(identity.DkimAttributes.Status)
		for _, token := range identity.DkimAttributes.Tokens {
			result.DNSRecords = append(result.DNSRecords, DNSRecord{
				Type:   "CNAME",
				Name:   token + "._domainkey." + domain,
				Value:  token + ".dkim.amazonses.com",
				Status: recordStatus,
			})
		}
	}

	if identity.VerifiedForSendingStatus {
		result.Status = StatusVerified
	}
	return result, nil
}
