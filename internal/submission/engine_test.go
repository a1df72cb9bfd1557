package submission

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/dss-loader/internal/domain"
	"github.com/andresuchdata/dss-loader/internal/dss"
	"github.com/andresuchdata/dss-loader/internal/dss/dsstest"
	"github.com/andresuchdata/dss-loader/internal/retry"
	"github.com/andresuchdata/dss-loader/internal/storage"
)

const schemaURL = "https://example.org/schema.json"

func testBundle() *domain.SubmissionBundle {
	size := int64(9372513342)
	return &domain.SubmissionBundle{
		UUID:     "4a8f8bc4-ff8d-4e49-bd41-6b1a8d2d0a2b",
		Version:  "2018-04-02T120000.000000Z",
		RecordID: "4a8f8bc4-ff8d-4e49-bd41-6b1a8d2d0a2b",
		Metadata: json.RawMessage(`{"donor":{"id":"NWD119844"},"sample":{"body_site":"blood"}}`),
		Files: []domain.ResolvedFileEntry{{
			Ref: domain.FileReference{
				GUID:     "dg.4503/887388d7-a974-4259-86af-f5305172363d",
				UUID:     "887388d7-a974-4259-86af-f5305172363d",
				Name:     "NWD119844.b38.irc.v1.cram",
				Version:  "2018-04-02T120000.000000Z",
				Location: domain.Location{Provider: domain.ProviderS3, Bucket: "nih-nhlbi-datacommons", Key: "NWD119844.b38.irc.v1.cram"},
				Mirrors:  []domain.Location{{Provider: domain.ProviderGCS, Bucket: "topmed-irc-share", Key: "genomes/NWD119844.b38.irc.v1.cram"}},
				Size:     &size,
			},
			Size:       size,
			Checksum:   domain.Checksum{Type: domain.ChecksumS3ETag, Value: "d41d8cd98f00b204e9800998ecf8427e-2"},
			ResolvedBy: "aws:metadata",
		}},
	}
}

type harness struct {
	engine  *Engine
	staging *storage.LocalClient
	dir     string
	srv     *dsstest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := dsstest.NewServer()
	t.Cleanup(srv.Close)

	client, err := dss.New(dss.Config{Endpoint: srv.Endpoint()}, zerolog.Nop())
	require.NoError(t, err)

	dir := t.TempDir()
	staging, err := storage.NewLocal(dir)
	require.NoError(t, err)

	engine := New(staging, client, Config{
		SchemaURL: schemaURL,
		Retry:     retry.Policy{Attempts: 3, Initial: time.Millisecond, Max: time.Millisecond},
	}, zerolog.Nop())
	return &harness{engine: engine, staging: staging, dir: dir, srv: srv}
}

func TestRenderedDocuments(t *testing.T) {
	h := newHarness(t)
	staged, err := h.engine.Stage(context.Background(), testBundle(), true)
	require.NoError(t, err)
	require.Len(t, staged.Documents, 2)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"))
	g.Assert(t, "metadata", staged.Documents[0].Data)
	g.Assert(t, "fileref", staged.Documents[1].Data)
}

func TestStageDryRunWritesNothing(t *testing.T) {
	h := newHarness(t)
	staged, err := h.engine.Stage(context.Background(), testBundle(), true)
	require.NoError(t, err)

	assert.Equal(t, domain.StateStaged, staged.State)
	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	meta := staged.Metadata()
	require.NotNil(t, meta)
	assert.Equal(t, domain.DerivedFileUUID(staged.Bundle.UUID, MetadataName), meta.UUID)
	assert.Equal(t, staged.Bundle.Version, meta.Version)
	assert.True(t, meta.Indexed)
	assert.Len(t, meta.Checksums.CRC32C, 8)
	assert.False(t, meta.Uploaded)

	ref := staged.Documents[1]
	assert.Equal(t, "887388d7-a974-4259-86af-f5305172363d/NWD119844.b38.irc.v1.cram", ref.Key)
	assert.Equal(t, FileRefContentType, ref.ContentType)
	assert.Equal(t, h.staging.URL(ref.Key), ref.SourceURL)
}

func TestStageUploadsOnceWithTags(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.engine.Stage(ctx, testBundle(), false)
	require.NoError(t, err)
	for _, d := range first.Documents {
		assert.True(t, d.Uploaded, d.Key)
		_, err := os.Stat(filepath.Join(h.dir, d.Key))
		assert.NoError(t, err)
	}

	tags, err := h.staging.Tags(first.Documents[1].Key)
	require.NoError(t, err)
	assert.Equal(t, first.Documents[1].Checksums.Tags(), tags)
	assert.Len(t, tags, 4)

	second, err := h.engine.Stage(ctx, testBundle(), false)
	require.NoError(t, err)
	for _, d := range second.Documents {
		assert.False(t, d.Uploaded, "identical %s re-uploaded", d.Key)
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	staged, err := h.engine.Stage(ctx, testBundle(), false)
	require.NoError(t, err)
	res, err := h.engine.Submit(ctx, staged, false)
	require.NoError(t, err)

	assert.Equal(t, StatusSubmitted, res.Status)
	assert.Equal(t, 2, res.FilesCreated)
	assert.Equal(t, domain.StateSubmitted, staged.State)
	files, ok := h.srv.Bundle(res.BundleUUID, res.Version)
	require.True(t, ok)
	assert.True(t, files[0].Indexed)
	assert.False(t, files[1].Indexed)

	again, err := h.engine.Stage(ctx, testBundle(), false)
	require.NoError(t, err)
	res2, err := h.engine.Submit(ctx, again, false)
	require.NoError(t, err)

	assert.Equal(t, StatusUnchanged, res2.Status)
	assert.Equal(t, 2, res2.FilesExisted)
	assert.Equal(t, 1, h.srv.BundleCount())
	assert.Equal(t, 2, h.srv.FileCount())
}

func TestSubmitDryRunOnlyLooksUp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	staged, err := h.engine.Stage(ctx, testBundle(), true)
	require.NoError(t, err)
	res, err := h.engine.Submit(ctx, staged, true)
	require.NoError(t, err)

	assert.Equal(t, StatusWouldSubmit, res.Status)
	assert.False(t, res.BundleExisted)
	assert.Equal(t, 1, h.srv.Calls(http.MethodGet, "bundles"))
	assert.Zero(t, h.srv.Calls(http.MethodPut, "files"))
	assert.Zero(t, h.srv.Calls(http.MethodPut, "bundles"))
}

func TestSubmitRetriesTransientStoreErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.srv.FailNext(http.MethodPut, "/bundles", http.StatusServiceUnavailable, 2)

	staged, err := h.engine.Stage(ctx, testBundle(), false)
	require.NoError(t, err)
	res, err := h.engine.Submit(ctx, staged, false)
	require.NoError(t, err)

	assert.Equal(t, StatusSubmitted, res.Status)
	assert.Equal(t, 3, h.srv.Calls(http.MethodPut, "bundles"))
}

func TestSubmitGivesUpAfterRetryBudget(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.srv.FailNext(http.MethodPut, "/files", http.StatusBadGateway, 10)

	staged, err := h.engine.Stage(ctx, testBundle(), false)
	require.NoError(t, err)
	_, err = h.engine.Submit(ctx, staged, false)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSubmission)
	assert.Equal(t, domain.StateFailed, staged.State)
	assert.Equal(t, 3, h.srv.Calls(http.MethodPut, "files"))
}

func TestSubmitConflictIsNotRetried(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	staged, err := h.engine.Stage(ctx, testBundle(), false)
	require.NoError(t, err)
	_, err = h.engine.Submit(ctx, staged, false)
	require.NoError(t, err)

	changed := testBundle()
	extra := changed.Files[0]
	extra.Ref.GUID = "dg.4503/2f0c6e7a-4c55-4f0e-9a61-7d2b0b1f9c3e"
	extra.Ref.UUID = "2f0c6e7a-4c55-4f0e-9a61-7d2b0b1f9c3e"
	extra.Ref.Name = "NWD119844.b38.irc.v1.cram.crai"
	changed.Files = append(changed.Files, extra)
	staged, err = h.engine.Stage(ctx, changed, false)
	require.NoError(t, err)
	_, err = h.engine.Submit(ctx, staged, false)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSubmission)
	assert.Contains(t, err.Error(), "conflicts")
	assert.Equal(t, 2, h.srv.Calls(http.MethodPut, "bundles"))
}

func TestSubmitValidatesBundle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	bad := testBundle()
	bad.Version = "2018-04-02T12:00:00Z"
	staged, err := h.engine.Stage(ctx, bad, true)
	require.NoError(t, err)
	_, err = h.engine.Submit(ctx, staged, true)
	assert.ErrorIs(t, err, domain.ErrSubmission)

	_, err = h.engine.Submit(ctx, nil, true)
	assert.ErrorIs(t, err, domain.ErrSubmission)
}

func TestStageWithoutStagingFailsOutsideDryRun(t *testing.T) {
	engine := New(nil, nil, Config{}, zerolog.Nop())

	staged, err := engine.Stage(context.Background(), testBundle(), true)
	require.NoError(t, err)
	assert.Empty(t, staged.Documents[0].SourceURL)

	res, err := engine.Submit(context.Background(), staged, true)
	require.NoError(t, err)
	assert.Equal(t, StatusWouldSubmit, res.Status)

	_, err = engine.Stage(context.Background(), testBundle(), false)
	assert.ErrorIs(t, err, domain.ErrStaging)
}

func TestMetadataDocumentWrapsNonObjects(t *testing.T) {
	doc, err := metadataDocument(json.RawMessage(`[1,2]`), schemaURL)
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2]`, string(doc["content"]))

	doc, err = metadataDocument(nil, schemaURL)
	require.NoError(t, err)
	assert.Len(t, doc, 1)
}

func TestComputeChecksums(t *testing.T) {
	sums := computeChecksums([]byte("hello"))
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", sums.S3ETag)
	assert.Equal(t, "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d", sums.SHA1)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sums.SHA256)
	assert.Equal(t, "9a71bb4c", sums.CRC32C)
}

func TestSubmitWaitsForSlowCopyBeyondCallTimeout(t *testing.T) {
	srv := dsstest.NewServer()
	defer srv.Close()
	srv.CopyDelay(300 * time.Millisecond)

	callTimeout := 100 * time.Millisecond
	client, err := dss.New(dss.Config{
		Endpoint:         srv.Endpoint(),
		AsyncCopyTimeout: 5 * time.Second,
		PollInitial:      10 * time.Millisecond,
		PollMax:          50 * time.Millisecond,
		HeadTimeout:      callTimeout,
	}, zerolog.Nop())
	require.NoError(t, err)
	staging, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	engine := New(staging, client, Config{
		Retry: retry.Policy{Attempts: 3, Initial: time.Millisecond, Max: time.Millisecond, CallTimeout: callTimeout},
	}, zerolog.Nop())

	ctx := context.Background()
	staged, err := engine.Stage(ctx, testBundle(), false)
	require.NoError(t, err)

	started := time.Now()
	res, err := engine.Submit(ctx, staged, false)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(started), 300*time.Millisecond)
	assert.Equal(t, StatusSubmitted, res.Status)
	assert.Equal(t, 2, res.FilesCreated)
	assert.Zero(t, res.FilesExisted)
	assert.Equal(t, 2, srv.Calls(http.MethodPut, "files"))
	assert.Equal(t, 1, srv.BundleCount())
}
