package input

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/andresuchdata/dss-loader/internal/domain"
)

// gen3Record is the Gen3 manifest layout. Metadata is either a "metadata"
// object or the flat aliquot, sample and core_metadata sections.
type gen3Record struct {
	BundleDID    string          `json:"bundle_did"`
	Metadata     json.RawMessage `json:"metadata"`
	Aliquot      json.RawMessage `json:"aliquot"`
	Sample       json.RawMessage `json:"sample"`
	CoreMetadata json.RawMessage `json:"core_metadata"`
	Manifest     []gen3File      `json:"manifest"`
}

type gen3File struct {
	Name            string `json:"name"`
	DID             string `json:"did"`
	S3URL           string `json:"s3url"`
	GSURL           string `json:"gsurl"`
	Size            size   `json:"size"`
	FileSize        size   `json:"file_size"`
	MD5             string `json:"md5"`
	MD5Sum          string `json:"md5sum"`
	UpdatedDatetime string `json:"updated_datetime"`
	CreatedDatetime string `json:"created_datetime"`
}

func parseGen3(raw json.RawMessage) (*domain.InputRecord, error) {
	var in gen3Record
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("gen3 record: %w", err)
	}
	id := strings.TrimSpace(in.BundleDID)
	if id == "" {
		return nil, fmt.Errorf("gen3 record: bundle_did is required")
	}

	rec := &domain.InputRecord{ID: id, Format: domain.FormatGen3}

	metadata, err := gen3Metadata(in)
	if err != nil {
		return rec, fmt.Errorf("gen3 record %s: %w", id, err)
	}
	rec.Metadata = metadata

	if len(in.Manifest) == 0 {
		return rec, fmt.Errorf("gen3 record %s: manifest is empty", id)
	}
	for i, f := range in.Manifest {
		if f.DID == "" {
			return rec, fmt.Errorf("gen3 record %s: manifest entry %d has no did", id, i)
		}
		version, err := fileVersion(f.UpdatedDatetime, f.CreatedDatetime)
		if err != nil {
			return rec, fmt.Errorf("gen3 record %s: manifest entry %s: %w", id, f.DID, err)
		}

		sz := f.Size
		if sz.value == nil {
			sz = f.FileSize
		}
		var sum domain.Checksum
		if md5 := firstNonEmpty(f.MD5, f.MD5Sum); md5 != "" {
			sum = domain.Checksum{Type: domain.ChecksumMD5, Value: strings.ToLower(md5)}
		}

		ref, err := fileRef(f.DID, f.Name, version, []string{f.S3URL, f.GSURL}, sz, sum)
		if err != nil {
			return rec, fmt.Errorf("gen3 record %s: %w", id, err)
		}
		rec.Files = append(rec.Files, ref)
	}
	return rec, nil
}

func gen3Metadata(in gen3Record) (json.RawMessage, error) {
	if len(in.Metadata) > 0 && string(in.Metadata) != "null" {
		return in.Metadata, nil
	}

	sections := map[string]json.RawMessage{}
	for key, raw := range map[string]json.RawMessage{
		"aliquot":       in.Aliquot,
		"sample":        in.Sample,
		"core_metadata": in.CoreMetadata,
	} {
		if len(raw) > 0 && string(raw) != "null" {
			sections[key] = raw
		}
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("no metadata, aliquot, sample or core_metadata")
	}
	// encoding/json sorts map keys, so the document is stable.
	return json.Marshal(sections)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
