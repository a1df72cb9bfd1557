// Package input reads record descriptions from a JSON file, a directory of
// JSON files, or an archive of JSON files, and normalizes them into records.
package input

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andresuchdata/dss-loader/internal/domain"
)

// Result is everything read from one input.
type Result struct {
	Records  []*domain.InputRecord
	Failures []domain.ParseFailure
}

// Total is the number of entries seen, parsed or not.
func (r *Result) Total() int {
	return len(r.Records) + len(r.Failures)
}

// document is one JSON file found in the input.
type document struct {
	name string
	data []byte
}

// Load reads every record under path. An error means the input itself could
// not be read; per-entry problems are returned as failures.
func Load(path string) (*Result, error) {
	docs, err := readDocuments(path)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("no json documents found in %s", path)
	}

	p := newParser()
	for _, doc := range docs {
		if err := p.document(doc); err != nil {
			return nil, err
		}
	}
	return p.result, nil
}

// Parse reads records from a single JSON document.
func Parse(name string, r io.Reader) (*Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	p := newParser()
	if err := p.document(document{name: name, data: data}); err != nil {
		return nil, err
	}
	return p.result, nil
}

func readDocuments(path string) ([]document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("input %s: %w", path, err)
	}
	if info.IsDir() {
		return readDirectory(path)
	}
	if kind := archiveKind(path); kind != archiveNone {
		return readArchive(path, kind)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("input %s: %w", path, err)
	}
	return []document{{name: filepath.Base(path), data: data}}, nil
}

// readDirectory reads every *.json file below dir in lexical order.
func readDirectory(dir string) ([]document, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isJSONName(p) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(paths)

	docs := make([]document, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", p, err)
		}
		rel, _ := filepath.Rel(dir, p)
		docs = append(docs, document{name: rel, data: data})
	}
	return docs, nil
}

func isJSONName(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(strings.ToLower(base), ".json") && !strings.HasPrefix(base, ".")
}

// parser accumulates records across documents, keeping indexes global and
// record ids unique. Failure ids are unique too; a colliding one gets the
// entry index appended.
type parser struct {
	result *Result
	index  int
	seen   map[string]int
	failed map[string]bool
}

func newParser() *parser {
	return &parser{result: &Result{}, seen: make(map[string]int), failed: make(map[string]bool)}
}

func (p *parser) document(doc document) error {
	entries, err := splitEntries(doc.data)
	if err != nil {
		return fmt.Errorf("%s: %w", doc.name, err)
	}
	for _, raw := range entries {
		p.entry(doc.name, raw)
	}
	return nil
}

// splitEntries accepts either a JSON array of records or a single record.
func splitEntries(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var entries []json.RawMessage
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("invalid json array: %w", err)
		}
		return entries, nil
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("expected a json array or object")
	}
	return []json.RawMessage{json.RawMessage(trimmed)}, nil
}

func (p *parser) entry(source string, raw json.RawMessage) {
	index := p.index
	p.index++

	rec, err := parseRecord(raw)
	if err != nil {
		id := fmt.Sprintf("entry-%d", index)
		if rec != nil && rec.ID != "" {
			id = rec.ID
		}
		p.fail(id, index, domain.Wrap(domain.KindParse, err, "%s entry %d", source, index))
		return
	}

	if first, dup := p.seen[rec.ID]; dup {
		p.fail(fmt.Sprintf("%s#%d", rec.ID, index), index,
			domain.NewError(domain.KindParse, "%s entry %d: duplicate record id %q (first at entry %d)", source, index, rec.ID, first))
		return
	}
	p.seen[rec.ID] = index

	rec.Index = index
	p.result.Records = append(p.result.Records, rec)
}

func (p *parser) fail(id string, index int, err error) {
	if _, dup := p.seen[id]; dup || p.failed[id] {
		id = fmt.Sprintf("%s#%d", id, index)
	}
	p.failed[id] = true
	p.result.Failures = append(p.result.Failures, domain.ParseFailure{RecordID: id, Index: index, Err: err})
}

// parseRecord detects the format of one entry and parses it. On error the
// returned record, if any, carries the id for reporting.
func parseRecord(raw json.RawMessage) (*domain.InputRecord, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("entry is not a json object: %w", err)
	}

	switch {
	case probe["data_bundle"] != nil:
		return parseStandard(raw)
	case probe["manifest"] != nil:
		return parseGen3(raw)
	}
	return nil, fmt.Errorf("unrecognized record format: expected data_bundle or manifest")
}
