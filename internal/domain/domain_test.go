package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocation(t *testing.T) {
	loc, err := ParseLocation("s3://bucket/dir/file.bam")
	require.NoError(t, err)
	assert.Equal(t, Location{Provider: ProviderS3, Bucket: "bucket", Key: "dir/file.bam"}, loc)
	assert.Equal(t, "file.bam", loc.Basename())
	assert.Equal(t, "s3://bucket/dir/file.bam", loc.String())

	loc, err = ParseLocation("GS://bucket/file")
	require.NoError(t, err)
	assert.Equal(t, ProviderGCS, loc.Provider)

	for _, raw := range []string{"http://bucket/key", "s3://bucket", "s3://bucket/dir/", "gs:///key"} {
		_, err := ParseLocation(raw)
		assert.Error(t, err, raw)
	}
}

func TestFileUUID(t *testing.T) {
	id, err := FileUUID("dg.4503/887388D7-A974-4259-86AF-F5305172363D")
	require.NoError(t, err)
	assert.Equal(t, "887388d7-a974-4259-86af-f5305172363d", id)

	derived, err := FileUUID("dg.4503/no-uuid-here")
	require.NoError(t, err)
	again, _ := FileUUID("dg.4503/no-uuid-here")
	assert.Equal(t, derived, again)
	assert.True(t, IsUUID(derived))

	_, err = FileUUID("  ")
	assert.Error(t, err)
}

func TestBundleUUID(t *testing.T) {
	assert.Equal(t, "4a8f8bc4-ff8d-4e49-bd41-6b1a8d2d0a2b", BundleUUID("4A8F8BC4-FF8D-4E49-BD41-6B1A8D2D0A2B"))
	assert.Equal(t, BundleUUID("record-7"), BundleUUID("record-7"))
	assert.NotEqual(t, BundleUUID("record-7"), BundleUUID("record-8"))
	assert.NotEqual(t, DerivedFileUUID(BundleUUID("a"), "metadata.json"), DerivedFileUUID(BundleUUID("b"), "metadata.json"))
}

func TestErrorKinds(t *testing.T) {
	missing := NewError(KindObjectNotFound, "s3://b/k")
	transformed := Wrap(KindTransform, missing, "record r1")
	wrapped := fmt.Errorf("stage: %w", transformed)

	assert.ErrorIs(t, wrapped, ErrTransform)
	assert.ErrorIs(t, wrapped, ErrObjectNotFound)
	assert.NotErrorIs(t, wrapped, ErrStaging)

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindTransform, kind)
	assert.Equal(t, KindObjectNotFound, RootKind(wrapped))

	exhausted := Wrap(KindTransientResolution, Wrap(KindTransient, errors.New("503"), "head"), "s3://b/k")
	assert.False(t, IsTransient(exhausted))
	assert.Equal(t, KindTransientResolution, RootKind(exhausted))
	assert.True(t, IsTransient(Wrap(KindTransient, errors.New("503"), "head")))

	assert.Nil(t, Wrap(KindStaging, nil, "nothing"))
	assert.Equal(t, ErrorKind(""), RootKind(errors.New("plain")))
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("2018-09-11T18:49:57.171364+02:00")
	require.NoError(t, err)
	assert.Equal(t, "2018-09-11T164957.171364Z", v)

	same, err := ParseVersion(v)
	require.NoError(t, err)
	assert.Equal(t, v, same)

	_, err = ParseVersion("yesterday")
	assert.Error(t, err)

	assert.Equal(t, "2020-01-02T030405.000000Z", FormatVersion(time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)))
}

func TestBundleTransitions(t *testing.T) {
	assert.True(t, CanTransition(StatePending, StateStaged))
	assert.True(t, CanTransition(StateStaged, StateSubmitted))
	assert.True(t, CanTransition(StateStaged, StateFailed))
	assert.False(t, CanTransition(StateFailed, StatePending))
	assert.False(t, CanTransition(StateSubmitted, StateStaged))
	assert.False(t, CanTransition(StatePending, StateSubmitted))
}

func TestOutcomeLabels(t *testing.T) {
	assert.Equal(t, "Dry run", OutcomeLabel(OutcomeSkippedDryRun))
	status, ok := ParseOutcome("not attempted")
	require.True(t, ok)
	assert.Equal(t, OutcomeNotAttempted, status)
	_, ok = ParseOutcome("bogus")
	assert.False(t, ok)
}
