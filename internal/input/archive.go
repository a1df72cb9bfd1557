package input

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

type archive int

const (
	archiveNone archive = iota
	archiveTar
	archiveTarGzip
	archiveTarZstd
	archiveZip
	archiveGzipJSON
)

// maxDocumentSize caps a single JSON member so a corrupt archive cannot
// exhaust memory.
const maxDocumentSize = 512 << 20

func archiveKind(name string) archive {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return archiveTarGzip
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return archiveTarZstd
	case strings.HasSuffix(lower, ".tar"):
		return archiveTar
	case strings.HasSuffix(lower, ".zip"):
		return archiveZip
	case strings.HasSuffix(lower, ".json.gz"):
		return archiveGzipJSON
	}
	return archiveNone
}

func readArchive(name string, kind archive) ([]document, error) {
	if kind == archiveZip {
		return readZip(name)
	}

	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("input %s: %w", name, err)
	}
	defer f.Close()

	var r io.Reader = f
	switch kind {
	case archiveTarGzip, archiveGzipJSON:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("gzip %s: %w", name, err)
		}
		defer gz.Close()
		r = gz
	case archiveTarZstd:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("zstd %s: %w", name, err)
		}
		defer zr.Close()
		r = zr
	}

	if kind == archiveGzipJSON {
		data, err := readLimited(r)
		if err != nil {
			return nil, fmt.Errorf("gzip %s: %w", name, err)
		}
		return []document{{name: strings.TrimSuffix(path.Base(name), ".gz"), data: data}}, nil
	}
	return readTar(name, r)
}

func readTar(name string, r io.Reader) ([]document, error) {
	var docs []document
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tar %s: %w", name, err)
		}
		if hdr.Typeflag != tar.TypeReg || !isJSONName(hdr.Name) {
			continue
		}
		data, err := readLimited(tr)
		if err != nil {
			return nil, fmt.Errorf("tar %s: %s: %w", name, hdr.Name, err)
		}
		docs = append(docs, document{name: hdr.Name, data: data})
	}
	sortDocuments(docs)
	return docs, nil
}

func readZip(name string) ([]document, error) {
	zr, err := zip.OpenReader(name)
	if err != nil {
		return nil, fmt.Errorf("zip %s: %w", name, err)
	}
	defer zr.Close()

	var docs []document
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !isJSONName(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("zip %s: %s: %w", name, f.Name, err)
		}
		data, err := readLimited(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("zip %s: %s: %w", name, f.Name, err)
		}
		docs = append(docs, document{name: f.Name, data: data})
	}
	sortDocuments(docs)
	return docs, nil
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxDocumentSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxDocumentSize {
		return nil, fmt.Errorf("document larger than %d bytes", maxDocumentSize)
	}
	return data, nil
}

func sortDocuments(docs []document) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].name < docs[j].name })
}
