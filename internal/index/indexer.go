// Package index ingests directory trees of text and image files and keeps
// them in sync with a collection.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	gitignore "github.com/sabhiram/go-gitignore"
	"go.uber.org/zap"

	"github.com/abdul-hamid-achik/multivec/internal/embed"
	"github.com/abdul-hamid-achik/multivec/internal/fault"
	"github.com/abdul-hamid-achik/multivec/internal/ingest"
	"github.com/abdul-hamid-achik/multivec/internal/store"
)

// Payload keys written for indexed files.
const (
	KeyPath        = "path"
	KeyContentHash = "content_hash"
	KeySize        = "size"
)

// IgnoreFile holds extra ignore rules, read next to .gitignore.
const IgnoreFile = ".multivecignore"

// IndexerConfig controls which files are indexed and how.
type IndexerConfig struct {
	IgnorePatterns []string `mapstructure:"ignore_patterns" yaml:"ignore_patterns"`
	// Include restricts indexing to paths matching one of these doublestar
	// globs. Empty means every supported file.
	Include     []string `mapstructure:"include" yaml:"include"`
	MaxFileSize int64    `mapstructure:"max_file_size" yaml:"max_file_size"`
	Workers     int      `mapstructure:"workers" yaml:"workers"`
	// Describe stores an LLM description of every image in the description space.
	Describe bool   `mapstructure:"describe" yaml:"describe"`
	Prompt   string `mapstructure:"prompt" yaml:"prompt,omitempty"`
	// Force re-ingests files whose content hash is unchanged.
	Force bool `mapstructure:"-" yaml:"-"`
}

// DefaultIndexerConfig returns the configuration used when none is given.
func DefaultIndexerConfig() IndexerConfig {
	return IndexerConfig{
		IgnorePatterns: []string{
			".git/**",
			".multivec/**",
			"node_modules/**",
			"vendor/**",
			"__pycache__/**",
			".DS_Store",
		},
		MaxFileSize: 10 * 1024 * 1024, // 10MB
		Workers:     4,
		Describe:    true,
	}
}

var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
}

var textExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".rst":      true,
	".csv":      true,
	".json":     true,
	".html":     true,
}

// ModalityOf reports the modality of a path by extension.
func ModalityOf(path string) (embed.Modality, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := imageTypes[ext]; ok {
		return embed.ModalityImage, true
	}
	if textExtensions[ext] {
		return embed.ModalityText, true
	}
	return "", false
}

// FileID is the record ID of a file, stable across runs.
func FileID(relPath string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file:///"+filepath.ToSlash(relPath))).String()
}

// Progress is a snapshot reported after each file.
type Progress struct {
	TotalFiles     int
	ProcessedFiles int
	SkippedFiles   int
	CurrentFile    string
	StartTime      time.Time
	Errors         []error
}

// ProgressCallback receives Progress snapshots.
type ProgressCallback func(Progress)

// Indexer walks directories and feeds changed files to an ingest pipeline.
type Indexer struct {
	pipeline *ingest.Pipeline
	store    store.Store
	config   IndexerConfig
	logger   *zap.Logger
	progress ProgressCallback
}

// NewIndexer returns an Indexer ingesting through pipeline.
func NewIndexer(pipeline *ingest.Pipeline, st store.Store, cfg IndexerConfig, logger *zap.Logger) *Indexer {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultIndexerConfig().Workers
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultIndexerConfig().MaxFileSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		pipeline: pipeline,
		store:    st,
		config:   cfg,
		logger:   logger,
	}
}

// WithForce returns a copy of idx that re-ingests unchanged files.
func (idx *Indexer) WithForce() *Indexer {
	c := *idx
	c.config.Force = true
	return &c
}

// SetProgressCallback installs cb for subsequent runs.
func (idx *Indexer) SetProgressCallback(cb ProgressCallback) {
	idx.progress = cb
}

// IndexResult summarizes one indexing run.
type IndexResult struct {
	FilesProcessed int
	FilesStored    int
	FilesSkipped   int
	FilesRemoved   int
	Duration       time.Duration
	Errors         []error
}

// Err joins every per-file error.
func (r *IndexResult) Err() error {
	return errors.Join(r.Errors...)
}

// fileInfo is a candidate file found by the walk.
type fileInfo struct {
	path         string
	relativePath string
	hash         string
	size         int64
	modality     embed.Modality
}

// Index ingests the supported files under the given paths into collection.
// Files whose stored content hash matches are skipped unless Force is set.
func (idx *Indexer) Index(ctx context.Context, root, collection string, paths ...string) (*IndexResult, error) {
	startTime := time.Now()

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}

	// Fail early on a missing collection instead of once per file
	if _, err := idx.store.DescribeCollection(ctx, collection); err != nil {
		return nil, err
	}

	ignoreMatcher := idx.buildIgnoreMatcher(absRoot)

	files, err := idx.collectFiles(ctx, absRoot, paths, ignoreMatcher)
	if err != nil {
		return nil, fmt.Errorf("collect files: %w", err)
	}

	filesToIndex, skipped, err := idx.filterUnchangedFiles(ctx, collection, files)
	if err != nil {
		return nil, err
	}

	result := &IndexResult{FilesSkipped: skipped}
	progress := Progress{
		TotalFiles:   len(filesToIndex),
		SkippedFiles: skipped,
		StartTime:    startTime,
	}

	items := make([]ingest.Item, 0, len(filesToIndex))
	for _, f := range filesToIndex {
		item, err := loadItem(f)
		if err != nil {
			result.FilesProcessed++
			result.Errors = append(result.Errors, err)
			continue
		}
		items = append(items, item)
	}

	opts := ingest.Options{DescribeImages: idx.config.Describe, Prompt: idx.config.Prompt}
	batch := idx.pipeline.IngestAll(ctx, items, collection, opts, func(p ingest.Progress) {
		progress.ProcessedFiles = result.FilesProcessed + p.Done
		progress.CurrentFile = p.Item
		if p.Err != nil {
			progress.Errors = append(progress.Errors, p.Err)
		}
		if idx.progress != nil {
			idx.progress(progress)
		}
	})

	result.FilesProcessed += len(items)
	result.FilesStored = batch.Stored
	for _, err := range batch.Errors {
		if err != nil {
			result.Errors = append(result.Errors, err)
		}
	}
	result.Duration = time.Since(startTime)

	idx.logger.Info("index complete",
		zap.String("collection", collection),
		zap.Int("stored", result.FilesStored),
		zap.Int("skipped", result.FilesSkipped),
		zap.Int("failed", len(result.Errors)),
		zap.Duration("duration", result.Duration))
	return result, ctx.Err()
}

// Remove deletes the records of the given files. Paths may be absolute or
// relative to root.
func (idx *Indexer) Remove(ctx context.Context, root, collection string, paths ...string) (int, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return 0, fmt.Errorf("abs path: %w", err)
	}
	var removed int
	for _, p := range paths {
		rel := p
		if filepath.IsAbs(p) {
			if rel, err = filepath.Rel(absRoot, p); err != nil {
				return removed, fmt.Errorf("rel path: %w", err)
			}
		}
		if err := idx.store.Delete(ctx, collection, FileID(rel)); err != nil {
			return removed, fmt.Errorf("remove %s: %w", rel, err)
		}
		removed++
	}
	return removed, nil
}

// ReadItem loads one supported file as an item without an ID, so the store
// assigns one.
func ReadItem(path string) (ingest.Item, error) {
	m, ok := ModalityOf(path)
	if !ok {
		return ingest.Item{}, fault.Newf(fault.InvalidInput, "index", "load", "unsupported file type %q", filepath.Ext(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return ingest.Item{}, fault.New(fault.InvalidInput, "index", "load", err)
	}
	item, err := loadItem(fileInfo{path: path, relativePath: path, size: info.Size(), modality: m})
	if err != nil {
		return ingest.Item{}, err
	}
	item.ID = ""
	delete(item.Payload, KeyContentHash)
	return item, nil
}

// loadItem reads a file into an ingest item.
func loadItem(f fileInfo) (ingest.Item, error) {
	content, err := os.ReadFile(f.path)
	if err != nil {
		return ingest.Item{}, fmt.Errorf("read %s: %w", f.relativePath, err)
	}

	item := ingest.Item{
		ID:       FileID(f.relativePath),
		Modality: f.modality,
		Source:   filepath.ToSlash(f.relativePath),
		Payload: map[string]any{
			KeyPath:        filepath.ToSlash(f.relativePath),
			KeyContentHash: f.hash,
			KeySize:        f.size,
		},
	}
	switch f.modality {
	case embed.ModalityImage:
		item.Image = &embed.Image{
			Data:      content,
			MediaType: imageTypes[strings.ToLower(filepath.Ext(f.path))],
		}
	default:
		if !IsTextFile(content) {
			return ingest.Item{}, fault.Newf(fault.InvalidInput, "index", "load", "%s is not a text file", f.relativePath)
		}
		item.Text = string(content)
	}
	return item, nil
}

// buildIgnoreMatcher merges configured patterns with the root ignore files.
func (idx *Indexer) buildIgnoreMatcher(rootPath string) *gitignore.GitIgnore {
	patterns := make([]string, len(idx.config.IgnorePatterns))
	copy(patterns, idx.config.IgnorePatterns)

	for _, name := range []string{".gitignore", IgnoreFile} {
		content, err := os.ReadFile(filepath.Join(rootPath, name))
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(content), "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "#") {
				patterns = append(patterns, line)
			}
		}
	}

	return gitignore.CompileIgnoreLines(patterns...)
}

// included reports whether a relative path passes the Include globs.
func (idx *Indexer) included(relPath string) bool {
	if len(idx.config.Include) == 0 {
		return true
	}
	slashed := filepath.ToSlash(relPath)
	for _, pattern := range idx.config.Include {
		if ok, _ := doublestar.Match(pattern, slashed); ok {
			return true
		}
	}
	return false
}

// collectFiles walks the file tree and collects supported files.
func (idx *Indexer) collectFiles(ctx context.Context, absRoot string, paths []string, ignore *gitignore.GitIgnore) ([]fileInfo, error) {
	if len(paths) == 0 {
		paths = []string{absRoot}
	}

	seen := map[string]bool{}
	var files []fileInfo
	for _, path := range paths {
		absPath := path
		if !filepath.IsAbs(path) {
			absPath = filepath.Join(absRoot, path)
		}

		err := filepath.WalkDir(absPath, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable entries are skipped
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			relPath, err := filepath.Rel(absRoot, p)
			if err != nil {
				relPath = p
			}
			if relPath == "." {
				return nil
			}
			if ignore.MatchesPath(relPath) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || seen[relPath] {
				return nil
			}

			modality, ok := ModalityOf(p)
			if !ok || !idx.included(relPath) {
				return nil
			}

			info, err := d.Info()
			if err != nil || info.Size() == 0 || info.Size() > idx.config.MaxFileSize {
				return nil
			}

			hash, err := hashFile(p)
			if err != nil {
				return nil
			}

			seen[relPath] = true
			files = append(files, fileInfo{
				path:         p,
				relativePath: relPath,
				hash:         hash,
				size:         info.Size(),
				modality:     modality,
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", path, err)
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].relativePath < files[j].relativePath })
	return files, nil
}

// filterUnchangedFiles drops files whose stored content hash matches.
func (idx *Indexer) filterUnchangedFiles(ctx context.Context, collection string, files []fileInfo) ([]fileInfo, int, error) {
	if idx.config.Force {
		return files, 0, nil
	}

	var toIndex []fileInfo
	var skipped int
	for _, file := range files {
		stored, err := idx.storedHash(ctx, collection, file.relativePath)
		if err != nil {
			return nil, 0, err
		}
		if stored == file.hash {
			skipped++
			continue
		}
		toIndex = append(toIndex, file)
	}
	return toIndex, skipped, nil
}

// storedHash returns the content hash recorded for a file, or "" when the
// file has not been indexed.
func (idx *Indexer) storedHash(ctx context.Context, collection, relPath string) (string, error) {
	rec, err := idx.store.Get(ctx, collection, FileID(relPath))
	if fault.Is(err, fault.NotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", relPath, err)
	}
	hash, _ := rec.Payload[KeyContentHash].(string)
	return hash, nil
}

// hashFile returns the hex SHA-256 of the file contents.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// PendingChanges holds counts of files needing indexing.
type PendingChanges struct {
	NewFiles      int
	ModifiedFiles int
	TotalPending  int
}

// GetPendingChanges scans root and reports which files Index would ingest.
func (idx *Indexer) GetPendingChanges(ctx context.Context, root, collection string) (*PendingChanges, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}

	files, err := idx.collectFiles(ctx, absRoot, nil, idx.buildIgnoreMatcher(absRoot))
	if err != nil {
		return nil, fmt.Errorf("collect files: %w", err)
	}

	pending := &PendingChanges{}
	for _, f := range files {
		stored, err := idx.storedHash(ctx, collection, f.relativePath)
		if err != nil {
			return nil, err
		}
		switch {
		case stored == "":
			pending.NewFiles++
		case stored != f.hash:
			pending.ModifiedFiles++
		}
	}
	pending.TotalPending = pending.NewFiles + pending.ModifiedFiles
	return pending, nil
}

// IsTextFile reports whether content looks like UTF-8 text.
func IsTextFile(content []byte) bool {
	if len(content) == 0 {
		return true
	}

	sample := content[:min(len(content), 8192)]
	if len(sample) < len(content) {
		// Drop a rune cut in half by the sample boundary.
		for i := len(sample) - 1; i >= 0 && i >= len(sample)-(utf8.UTFMax-1); i-- {
			if utf8.RuneStart(sample[i]) {
				if !utf8.FullRune(sample[i:]) {
					sample = sample[:i]
				}
				break
			}
		}
	}
	for _, b := range sample {
		if b == 0 {
			return false
		}
	}
	return utf8.Valid(sample)
}
