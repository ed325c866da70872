// Package loader reads the corpus directory into text documents.
package loader

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/denormal/go-gitignore"

	"ragchat/internal/domain"
	"ragchat/internal/logger"
)

// ErrNoDocuments is returned when the directory holds no loadable files.
var ErrNoDocuments = errors.New("no documents found")

// Options configures which files become documents.
type Options struct {
	// Extensions limits loading to these lowercase extensions (with dot).
	// Empty means any extension.
	Extensions []string
	// Exclude holds doublestar patterns matched against slash-separated
	// root-relative paths.
	Exclude []string
	// IncludeHidden loads dot-files and descends dot-directories.
	IncludeHidden bool
	// IgnoreFile names a gitignore-syntax file in the root, e.g. ".ragignore".
	IgnoreFile string
	// MaxFileBytes skips larger files. Zero means 10MB.
	MaxFileBytes int64
}

// Loader turns a directory tree into documents.
type Loader struct {
	opts Options
	exts map[string]struct{}
}

func New(opts Options) (*Loader, error) {
	for _, p := range opts.Exclude {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = 10 * 1024 * 1024
	}
	exts := make(map[string]struct{}, len(opts.Extensions))
	for _, e := range opts.Extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = struct{}{}
	}
	return &Loader{opts: opts, exts: exts}, nil
}

// Files lists the root-relative paths Load would read, sorted.
func (l *Loader) Files(ctx context.Context, root string) ([]string, error) {
	found, err := l.scan(ctx, root)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(found))
	for i, f := range found {
		out[i] = f.rel
	}
	return out, nil
}

// Load reads every eligible file under root. Binary files are skipped. The
// returned documents are ordered by relative path.
func (l *Loader) Load(ctx context.Context, root string) ([]domain.Document, error) {
	found, err := l.scan(ctx, root)
	if err != nil {
		return nil, err
	}
	docs := make([]domain.Document, 0, len(found))
	for _, f := range found {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(f.abs)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %w", domain.ErrFilesystem, f.rel, err)
		}
		if IsBinaryContent(data) {
			logger.Debugf("skipping binary file %s", f.rel)
			continue
		}
		content := string(data)
		switch strings.ToLower(filepath.Ext(f.rel)) {
		case ".html", ".htm":
			content = stripTags(content)
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		docs = append(docs, domain.Document{
			ID:      hashString(f.rel),
			Path:    f.abs,
			RelPath: f.rel,
			Content: content,
		})
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoDocuments, root)
	}
	return docs, nil
}

type foundFile struct {
	abs string
	rel string
}

func (l *Loader) scan(ctx context.Context, root string) ([]foundFile, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %s: %w", domain.ErrFilesystem, root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrFilesystem, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", domain.ErrFilesystem, abs)
	}
	ignore := l.loadIgnore(abs)

	var found []foundFile
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == abs {
			return nil
		}
		rel, _ := filepath.Rel(abs, path)
		rel = filepath.ToSlash(rel)
		hidden := strings.HasPrefix(d.Name(), ".")

		if d.IsDir() {
			if hidden && !l.opts.IncludeHidden {
				return filepath.SkipDir
			}
			if ignore != nil {
				if m := ignore.Relative(rel, true); m != nil && m.Ignore() {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if hidden && !l.opts.IncludeHidden {
			return nil
		}
		fi, err := os.Stat(path)
		if err != nil || !fi.Mode().IsRegular() {
			return nil
		}
		if !l.accepts(rel, fi.Size()) {
			return nil
		}
		if ignore != nil {
			if m := ignore.Relative(rel, false); m != nil && m.Ignore() {
				return nil
			}
		}
		found = append(found, foundFile{abs: path, rel: rel})
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: scanning %s: %w", domain.ErrFilesystem, abs, err)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].rel < found[j].rel })
	return found, nil
}

func (l *Loader) accepts(rel string, size int64) bool {
	if size > l.opts.MaxFileBytes {
		return false
	}
	if len(l.exts) > 0 {
		if _, ok := l.exts[strings.ToLower(filepath.Ext(rel))]; !ok {
			return false
		}
	}
	for _, p := range l.opts.Exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return false
		}
	}
	return true
}

func (l *Loader) loadIgnore(root string) gitignore.GitIgnore {
	if l.opts.IgnoreFile == "" {
		return nil
	}
	f, err := os.Open(filepath.Join(root, l.opts.IgnoreFile))
	if err != nil {
		return nil
	}
	defer f.Close()
	return gitignore.New(f, root, nil)
}

// IsBinaryContent reports whether the first 512 bytes contain a NUL byte.
func IsBinaryContent(data []byte) bool {
	checkSize := 512
	if len(data) < checkSize {
		checkSize = len(data)
	}
	for i := 0; i < checkSize; i++ {
		if data[i] == 0 {
			return true
		}
	}
	return false
}

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]+>`)
	spaceRe  = regexp.MustCompile(`[ \t]+`)
)

func stripTags(s string) string {
	s = scriptRe.ReplaceAllString(s, " ")
	s = tagRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

func hashString(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:8])
}
