package kb

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemSource searches document files under a base directory.
type FilesystemSource struct {
	id         string
	basePath   string
	extensions []string
	maxFiles   int
	maxSize    int64
}

// FilesystemOption configures a FilesystemSource.
type FilesystemOption func(*FilesystemSource)

// WithExtensions sets which file extensions to search.
func WithExtensions(exts ...string) FilesystemOption {
	return func(f *FilesystemSource) {
		f.extensions = exts
	}
}

// WithMaxFiles sets the maximum number of files to read per query.
func WithMaxFiles(max int) FilesystemOption {
	return func(f *FilesystemSource) {
		f.maxFiles = max
	}
}

// WithMaxSize sets the maximum file size to read.
func WithMaxSize(max int64) FilesystemOption {
	return func(f *FilesystemSource) {
		f.maxSize = max
	}
}

// NewFilesystemSource creates a source over documents under basePath.
func NewFilesystemSource(id, basePath string, opts ...FilesystemOption) *FilesystemSource {
	f := &FilesystemSource{
		id:         id,
		basePath:   basePath,
		extensions: []string{".md", ".txt", ".yaml", ".yml"},
		maxFiles:   200,
		maxSize:    512 * 1024,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ID returns the source identifier.
func (f *FilesystemSource) ID() string {
	return f.id
}

// Available returns true if the base path is an existing directory.
func (f *FilesystemSource) Available() bool {
	info, err := os.Stat(f.basePath)
	return err == nil && info.IsDir()
}

// Query walks the base directory scoring file contents against the query.
func (f *FilesystemSource) Query(ctx context.Context, query string) ([]Hit, error) {
	keywords := extractKeywords(query)

	var hits []Hit
	fileCount := 0
	err := filepath.WalkDir(f.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		if fileCount >= f.maxFiles {
			return filepath.SkipAll
		}

		ext := filepath.Ext(path)
		if !f.hasExtension(ext) {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() > f.maxSize {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		fileCount++

		score := scoreRelevance(strings.ToLower(string(content)), keywords)
		if score <= 0 {
			return nil
		}

		relPath, _ := filepath.Rel(f.basePath, path)
		hits = append(hits, Hit{
			Content:  string(content),
			SourceID: f.id,
			Ref:      relPath,
			Score:    score,
			Metadata: map[string]string{
				"extension": ext,
				"modified":  info.ModTime().UTC().Format("2006-01-02"),
				"size":      fmt.Sprintf("%d", info.Size()),
			},
		})
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return nil, err
	}
	return hits, nil
}

func (f *FilesystemSource) hasExtension(ext string) bool {
	for _, e := range f.extensions {
		if e == ext {
			return true
		}
	}
	return false
}
