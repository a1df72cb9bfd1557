package credentials

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/andresuchdata/dss-loader/internal/domain"
)

const testARN = "arn:aws:iam::123456789012:role/metadata-reader"

const assumeRoleResponse = `<AssumeRoleResponse xmlns="https://sts.amazonaws.com/doc/2011-06-15/">
  <AssumeRoleResult>
    <Credentials>
      <AccessKeyId>ASIATESTKEY</AccessKeyId>
      <SecretAccessKey>assumed-secret</SecretAccessKey>
      <SessionToken>assumed-token</SessionToken>
      <Expiration>2099-01-01T00:00:00Z</Expiration>
    </Credentials>
    <AssumedRoleUser>
      <Arn>arn:aws:sts::123456789012:assumed-role/metadata-reader/dss-loader</Arn>
      <AssumedRoleId>AROATEST:dss-loader</AssumedRoleId>
    </AssumedRoleUser>
  </AssumeRoleResult>
  <ResponseMetadata><RequestId>req-1</RequestId></ResponseMetadata>
</AssumeRoleResponse>`

const accessDeniedResponse = `<ErrorResponse xmlns="https://sts.amazonaws.com/doc/2011-06-15/">
  <Error><Type>Sender</Type><Code>AccessDenied</Code><Message>not authorized to assume role</Message></Error>
  <RequestId>req-2</RequestId>
</ErrorResponse>`

func staticProviders() []miniocreds.Provider {
	return []miniocreds.Provider{&miniocreds.Static{Value: miniocreds.Value{
		AccessKeyID:     "AKIATEST",
		SecretAccessKey: "primary-secret",
		SignerType:      miniocreds.SignatureV4,
	}}}
}

func noDefaultGCP(ctx context.Context, scopes ...string) (*google.Credentials, error) {
	return nil, errors.New("could not find default credentials")
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func baseOptions() Options {
	return Options{
		Project:      "billing-project",
		AWSProviders: staticProviders(),
		GCPDefault:   noDefaultGCP,
	}
}

func TestLoadWithoutMetadataFallsBackToPrimary(t *testing.T) {
	c, err := Load(context.Background(), baseOptions())
	require.NoError(t, err)

	assert.Same(t, c.AWS(RolePrimary), c.AWS(RoleMetadata))
	assert.Same(t, c.GCP(RolePrimary), c.GCP(RoleMetadata))
	assert.False(t, c.HasDedicated(domain.ProviderS3, RoleMetadata))
	assert.True(t, c.GCP(RolePrimary).Anonymous)
	assert.Nil(t, c.DSSTokenSource())
	assert.Equal(t, "billing-project", c.Project)
}

func TestLoadUsesDefaultGCPCredentials(t *testing.T) {
	opts := baseOptions()
	opts.GCPDefault = func(ctx context.Context, scopes ...string) (*google.Credentials, error) {
		return &google.Credentials{TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "adc"})}, nil
	}

	c, err := Load(context.Background(), opts)
	require.NoError(t, err)

	require.NotNil(t, c.DSSTokenSource())
	tok, err := c.DSSTokenSource().Token()
	require.NoError(t, err)
	assert.Equal(t, "adc", tok.AccessToken)
	assert.Equal(t, "gcp:primary", c.GCP(RolePrimary).Name)
	assert.False(t, c.GCP(RolePrimary).Anonymous)
}

func TestLoadGCPMetadataCredential(t *testing.T) {
	opts := baseOptions()
	opts.GCPMetadataCredPath = writeFile(t, "adc.json", `{
		"type": "authorized_user",
		"client_id": "client.apps.googleusercontent.com",
		"client_secret": "secret",
		"refresh_token": "refresh"
	}`)

	c, err := Load(context.Background(), opts)
	require.NoError(t, err)

	assert.True(t, c.HasDedicated(domain.ProviderGCS, RoleMetadata))
	assert.Equal(t, "gcp:metadata:authorized_user", c.GCP(RoleMetadata).Name)
	assert.NotSame(t, c.GCP(RolePrimary), c.GCP(RoleMetadata))
	assert.Same(t, c.AWS(RolePrimary), c.AWS(RoleMetadata))
}

func TestLoadRejectsUnparseableGCPCredential(t *testing.T) {
	opts := baseOptions()
	opts.GCPMetadataCredPath = writeFile(t, "garbage.json", `not json at all`)

	_, err := Load(context.Background(), opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCredentialLoad)
}

func TestLoadRejectsMissingCredentialFile(t *testing.T) {
	opts := baseOptions()
	opts.GCPMetadataCredPath = filepath.Join(t.TempDir(), "missing.json")

	_, err := Load(context.Background(), opts)
	assert.ErrorIs(t, err, domain.ErrCredentialLoad)
}

func TestReadRoleARN(t *testing.T) {
	arn, err := ReadRoleARN(writeFile(t, "arn", "  "+testARN+"\n"))
	require.NoError(t, err)
	assert.Equal(t, testARN, arn)

	_, err = ReadRoleARN(writeFile(t, "bad", "arn:aws:s3:::some-bucket"))
	assert.ErrorIs(t, err, domain.ErrCredentialLoad)
}

func TestLoadAssumesMetadataRole(t *testing.T) {
	var calls atomic.Int32
	sts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(assumeRoleResponse))
	}))
	defer sts.Close()

	opts := baseOptions()
	opts.STSEndpoint = sts.URL
	opts.AWSMetadataRolePath = writeFile(t, "arn", testARN)

	c, err := Load(context.Background(), opts)
	require.NoError(t, err)

	meta := c.AWS(RoleMetadata)
	assert.Equal(t, "aws:metadata:"+testARN, meta.Name)
	assert.True(t, meta.Assumed())
	assert.EqualValues(t, 1, calls.Load())

	v, err := meta.Creds.Get()
	require.NoError(t, err)
	assert.Equal(t, "ASIATESTKEY", v.AccessKeyID)
	assert.Equal(t, "assumed-token", v.SessionToken)

	assert.True(t, meta.Refresh())
	_, err = meta.Creds.Get()
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())

	assert.False(t, c.AWS(RolePrimary).Refresh())
}

func TestLoadFailsWhenRoleCannotBeAssumed(t *testing.T) {
	sts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(accessDeniedResponse))
	}))
	defer sts.Close()

	opts := baseOptions()
	opts.STSEndpoint = sts.URL
	opts.AWSMetadataRolePath = writeFile(t, "arn", testARN)

	_, err := Load(context.Background(), opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCredentialLoad)
}

func TestLoadFailsWithoutPrimaryKeysForRole(t *testing.T) {
	opts := baseOptions()
	opts.AWSProviders = []miniocreds.Provider{&miniocreds.Static{}}
	opts.AWSMetadataRolePath = writeFile(t, "arn", testARN)

	_, err := Load(context.Background(), opts)
	assert.ErrorIs(t, err, domain.ErrCredentialLoad)
}
