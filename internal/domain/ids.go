package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Namespaces for name-based (v5) identifiers. Changing them changes every
// derived identifier and breaks re-run idempotency.
var (
	bundleNamespace = uuid.MustParse("8f4a2c1e-5b7d-5d2a-9e61-3c0f7b9a4d10")
	fileNamespace   = uuid.MustParse("1d6b9e0a-7c3f-5a48-b2e5-64a8f0c3d917")
)

var uuidPattern = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

// BundleUUID derives the bundle identifier from a record identifier. A record
// id that already is a UUID is used as is.
func BundleUUID(recordID string) string {
	id := strings.TrimSpace(recordID)
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return uuid.NewSHA1(bundleNamespace, []byte(id)).String()
}

// FileUUID extracts the single UUID embedded in a file GUID such as
// "dg.4503/887388d7-a974-4259-86af-f5305172363d". A GUID without a UUID gets a
// name-based one; a GUID with several is ambiguous.
func FileUUID(guid string) (string, error) {
	matches := uuidPattern.FindAllString(strings.ToLower(guid), -1)
	switch len(matches) {
	case 0:
		if strings.TrimSpace(guid) == "" {
			return "", fmt.Errorf("empty file guid")
		}
		return uuid.NewSHA1(fileNamespace, []byte(guid)).String(), nil
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("file guid %q contains %d uuids, expected one", guid, len(matches))
	}
}

// DerivedFileUUID names a generated file (such as metadata.json) inside a
// bundle.
func DerivedFileUUID(bundleUUID, name string) string {
	ns, err := uuid.Parse(bundleUUID)
	if err != nil {
		ns = bundleNamespace
	}
	return uuid.NewSHA1(ns, []byte(name)).String()
}

// IsUUID reports whether s parses as a UUID.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
