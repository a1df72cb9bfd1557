package input

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/andresuchdata/dss-loader/internal/domain"
)

// standardRecord is the normalized export layout:
//
//	{"data_bundle": {"id": ..., "user_metadata": {...}},
//	 "data_objects": {"<guid>": {"name", "created", "updated", "urls", "size", "checksums"}}}
type standardRecord struct {
	DataBundle *struct {
		ID           string          `json:"id"`
		UserMetadata json.RawMessage `json:"user_metadata"`
	} `json:"data_bundle"`
	DataObjects map[string]standardObject `json:"data_objects"`
}

type standardObject struct {
	Name    string `json:"name"`
	Created string `json:"created"`
	Updated string `json:"updated"`
	URLs    []struct {
		URL string `json:"url"`
	} `json:"urls"`
	Size      size            `json:"size"`
	Checksums []checksumField `json:"checksums"`
}

func parseStandard(raw json.RawMessage) (*domain.InputRecord, error) {
	var in standardRecord
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("standard record: %w", err)
	}
	if in.DataBundle == nil || strings.TrimSpace(in.DataBundle.ID) == "" {
		return nil, fmt.Errorf("standard record: data_bundle.id is required")
	}

	rec := &domain.InputRecord{
		ID:       strings.TrimSpace(in.DataBundle.ID),
		Format:   domain.FormatStandard,
		Metadata: in.DataBundle.UserMetadata,
	}
	if len(rec.Metadata) == 0 {
		return rec, fmt.Errorf("standard record %s: data_bundle.user_metadata is required", rec.ID)
	}
	if len(in.DataObjects) == 0 {
		return rec, fmt.Errorf("standard record %s: data_objects is empty", rec.ID)
	}

	guids := make([]string, 0, len(in.DataObjects))
	for guid := range in.DataObjects {
		guids = append(guids, guid)
	}
	sort.Strings(guids)

	for _, guid := range guids {
		obj := in.DataObjects[guid]
		if obj.Name == "" {
			return rec, fmt.Errorf("standard record %s: object %s has no name", rec.ID, guid)
		}
		version, err := fileVersion(obj.Updated, obj.Created)
		if err != nil {
			return rec, fmt.Errorf("standard record %s: object %s: %w", rec.ID, guid, err)
		}
		urls := make([]string, 0, len(obj.URLs))
		for _, u := range obj.URLs {
			urls = append(urls, u.URL)
		}
		ref, err := fileRef(guid, obj.Name, version, urls, obj.Size, pickChecksum(obj.Checksums))
		if err != nil {
			return rec, fmt.Errorf("standard record %s: %w", rec.ID, err)
		}
		rec.Files = append(rec.Files, ref)
	}
	return rec, nil
}
