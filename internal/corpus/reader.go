// Package corpus reads the raw text a store is built from. A corpus URI is a
// local path (globs allowed), a file:// URL, or an http(s):// URL.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ragstore/internal/domain"
)

// MetadataFilename is set alongside domain.MetadataSource on every document.
const MetadataFilename = "filename"

// DefaultMaxBytes caps a single remote document.
const DefaultMaxBytes = 64 << 20

// ErrEmptyCorpus is returned when a URI resolves to no documents.
var ErrEmptyCorpus = errors.New("corpus contains no documents")

// Document is one corpus resource and the metadata its passages inherit.
type Document struct {
	Text     string
	Metadata map[string]string
}

// Reader resolves corpus URIs.
type Reader struct {
	client   *http.Client
	maxBytes int64
}

// NewReader creates a Reader. A nil client gets a 60s default.
func NewReader(client *http.Client) *Reader {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Reader{client: client, maxBytes: DefaultMaxBytes}
}

// Read loads every document named by uri, in lexical path order.
func (r *Reader) Read(ctx context.Context, uri string) ([]Document, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, errors.New("corpus uri is empty")
	}
	u, err := url.Parse(uri)
	if err == nil {
		switch u.Scheme {
		case "http", "https":
			doc, err := r.fetch(ctx, u)
			if err != nil {
				return nil, err
			}
			return []Document{doc}, nil
		case "file":
			return r.readFiles(ctx, u.Path)
		}
	}
	return r.readFiles(ctx, uri)
}

func (r *Reader) readFiles(ctx context.Context, pattern string) ([]Document, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad corpus pattern %q: %w", pattern, err)
	}
	if matches == nil {
		matches = []string{pattern}
	}
	sort.Strings(matches)

	var docs []Document
	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(m)
		if err != nil {
			return nil, fmt.Errorf("reading corpus: %w", err)
		}
		if info.IsDir() {
			continue
		}
		data, err := os.ReadFile(m)
		if err != nil {
			return nil, fmt.Errorf("reading corpus: %w", err)
		}
		docs = append(docs, newDocument(string(data), filepath.Base(m)))
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyCorpus, pattern)
	}
	return docs, nil
}

func (r *Reader) fetch(ctx context.Context, u *url.URL) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Document{}, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("fetching corpus: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Document{}, fmt.Errorf("fetching corpus %s: status %d", u, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return Document{}, fmt.Errorf("fetching corpus: %w", err)
	}
	if int64(len(data)) > r.maxBytes {
		return Document{}, fmt.Errorf("corpus %s exceeds %d bytes", u, r.maxBytes)
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		name = u.Host
	}
	return newDocument(string(data), name), nil
}

func newDocument(text, name string) Document {
	return Document{
		Text: text,
		Metadata: map[string]string{
			domain.MetadataSource: name,
			MetadataFilename:      name,
		},
	}
}
