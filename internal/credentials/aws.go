package credentials

import (
	"net/http"
	"time"

	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/andresuchdata/dss-loader/internal/domain"
)

// AWSIdentity is a named AWS credential source.
type AWSIdentity struct {
	Name    string
	Creds   *miniocreds.Credentials
	Region  string
	assumed bool
}

// NewStaticAWS wraps fixed keys. Used for explicit configuration and tests.
func NewStaticAWS(name, accessKey, secretKey, sessionToken string) *AWSIdentity {
	return &AWSIdentity{
		Name:  name,
		Creds: miniocreds.NewStaticV4(accessKey, secretKey, sessionToken),
	}
}

// Assumed reports whether the identity comes from an STS role assumption.
func (a *AWSIdentity) Assumed() bool {
	return a.assumed
}

// Refresh forces an assumed-role identity to fetch new session credentials on
// next use. It reports whether anything was refreshed.
func (a *AWSIdentity) Refresh() bool {
	if a == nil || !a.assumed {
		return false
	}
	a.Creds.Expire()
	return true
}

func loadPrimaryAWS(opts Options) *AWSIdentity {
	providers := opts.AWSProviders
	if len(providers) == 0 {
		client := opts.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: 10 * time.Second}
		}
		providers = []miniocreds.Provider{
			&miniocreds.EnvAWS{},
			&miniocreds.FileAWSCredentials{},
			&miniocreds.IAM{Client: client},
		}
	}
	return &AWSIdentity{
		Name:   "aws:primary",
		Creds:  miniocreds.NewChainCredentials(providers),
		Region: opts.AWSRegion,
	}
}

// assumeMetadataRole assumes the role named in the ARN file with the primary
// identity and verifies the assumption with one STS call.
func assumeMetadataRole(opts Options, primary *AWSIdentity) (*AWSIdentity, error) {
	arn, err := ReadRoleARN(opts.AWSMetadataRolePath)
	if err != nil {
		return nil, err
	}

	base, err := primary.Creds.Get()
	if err != nil {
		return nil, domain.Wrap(domain.KindCredentialLoad, err, "primary aws identity")
	}
	if base.AccessKeyID == "" || base.SecretAccessKey == "" {
		return nil, domain.NewError(domain.KindCredentialLoad, "no primary aws credentials available to assume %s", arn)
	}

	endpoint := opts.STSEndpoint
	if endpoint == "" {
		endpoint = DefaultSTSEndpoint
	}

	sts, err := miniocreds.NewSTSAssumeRole(endpoint, miniocreds.STSAssumeRoleOptions{
		AccessKey:       base.AccessKeyID,
		SecretKey:       base.SecretAccessKey,
		SessionToken:    base.SessionToken,
		RoleARN:         arn,
		RoleSessionName: roleSessionName,
		DurationSeconds: int(clampDuration(opts.RoleDuration) / time.Second),
		Location:        opts.AWSRegion,
	})
	if err != nil {
		return nil, domain.Wrap(domain.KindCredentialLoad, err, "assume role %s", arn)
	}
	if _, err := sts.Get(); err != nil {
		return nil, domain.Wrap(domain.KindCredentialLoad, err, "assume role %s", arn)
	}

	return &AWSIdentity{
		Name:    "aws:metadata:" + arn,
		Creds:   sts,
		Region:  opts.AWSRegion,
		assumed: true,
	}, nil
}
