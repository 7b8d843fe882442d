// Package scanner walks source roots and yields text documents.
package scanner

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"ragterm/internal/domain"
)

// Warning reasons.
const (
	ReasonUnreadable = "unreadable"
	ReasonTooLarge   = "too large"
	ReasonBinary     = "binary or non-UTF-8 content"
	ReasonEmpty      = "empty"
	ReasonMissing    = "root not found"
)

// Warning reports a file that was skipped. Scanning continues past it.
type Warning struct {
	Path   string
	Reason string
	Err    error
}

// AsError converts the warning into a ScanWarning error.
func (w Warning) AsError() *domain.Error {
	return domain.NewError(domain.KindScanWarning, "", "scan "+w.Path, w.Reason, w.Err)
}

// Result carries exactly one of Doc or Warning.
type Result struct {
	Doc     *domain.Document
	Warning *Warning
}

// Options selects what gets scanned.
type Options struct {
	Roots []string
	// Extensions are matched case-insensitively against the file suffix.
	// Empty means every file.
	Extensions []string
	// ExcludeDirs are directory base names that are never entered.
	ExcludeDirs    []string
	MaxFileBytes   int64
	FollowSymlinks bool
}

// Scanner enumerates candidate documents.
type Scanner struct {
	opts    Options
	exts    map[string]struct{}
	exclude map[string]struct{}
}

// New creates a scanner for the given options.
func New(opts Options) *Scanner {
	s := &Scanner{
		opts:    opts,
		exts:    make(map[string]struct{}, len(opts.Extensions)),
		exclude: make(map[string]struct{}, len(opts.ExcludeDirs)),
	}
	for _, e := range opts.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		s.exts[e] = struct{}{}
	}
	for _, d := range opts.ExcludeDirs {
		if d = strings.TrimSpace(d); d != "" {
			s.exclude[d] = struct{}{}
		}
	}
	return s
}

// Scan starts walking in a goroutine and streams results. The channel is
// closed when every root has been walked or ctx is done. Order is not
// guaranteed.
func (s *Scanner) Scan(ctx context.Context) <-chan Result {
	out := make(chan Result)
	go func() {
		defer close(out)
		w := &walker{
			s:     s,
			ctx:   ctx,
			out:   out,
			dirs:  make(map[string]struct{}),
			files: make(map[string]struct{}),
		}
		for _, root := range s.opts.Roots {
			if ctx.Err() != nil {
				return
			}
			w.root(root)
		}
	}()
	return out
}

// Collect drains a scan into documents and warnings.
func Collect(ctx context.Context, results <-chan Result) ([]domain.Document, []Warning, error) {
	var docs []domain.Document
	var warnings []Warning
	for r := range results {
		switch {
		case r.Doc != nil:
			docs = append(docs, *r.Doc)
		case r.Warning != nil:
			warnings = append(warnings, *r.Warning)
		}
	}
	if err := ctx.Err(); err != nil {
		return docs, warnings, domain.Cancelled("scan", err)
	}
	return docs, warnings, nil
}

type walker struct {
	s     *Scanner
	ctx   context.Context
	out   chan<- Result
	dirs  map[string]struct{}
	files map[string]struct{}
}

func (w *walker) root(root string) {
	info, err := os.Stat(root)
	if err != nil {
		reason := ReasonUnreadable
		if errors.Is(err, fs.ErrNotExist) {
			reason = ReasonMissing
		}
		w.warn(root, reason, err)
		return
	}
	if !info.IsDir() {
		w.file(root)
		return
	}
	w.dir(root)
}

func (w *walker) dir(root string) {
	canon, err := filepath.EvalSymlinks(root)
	if err != nil {
		w.warn(root, ReasonUnreadable, err)
		return
	}
	if !w.enter(canon) {
		return
	}
	// WalkDir does not descend through a symlinked root.
	if fi, err := os.Lstat(root); err == nil && fi.Mode()&fs.ModeSymlink != 0 {
		root = canon
	}

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if w.ctx.Err() != nil {
			return w.ctx.Err()
		}
		if err != nil {
			w.warn(path, ReasonUnreadable, err)
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			if _, skip := w.s.exclude[d.Name()]; skip {
				return fs.SkipDir
			}
			if c, err := filepath.EvalSymlinks(path); err == nil && !w.enter(c) {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			w.symlink(path, d.Name())
			return nil
		}
		if d.Type().IsRegular() {
			w.file(path)
		}
		return nil
	})
}

func (w *walker) symlink(path, name string) {
	info, err := os.Stat(path)
	if err != nil {
		w.warn(path, ReasonUnreadable, err)
		return
	}
	if info.IsDir() {
		if !w.s.opts.FollowSymlinks {
			return
		}
		if _, skip := w.s.exclude[name]; skip {
			return
		}
		w.dir(path)
		return
	}
	if info.Mode().IsRegular() {
		w.file(path)
	}
}

// enter marks a canonical directory as visited and reports whether it was new.
func (w *walker) enter(canon string) bool {
	if _, seen := w.dirs[canon]; seen {
		return false
	}
	w.dirs[canon] = struct{}{}
	return true
}

func (w *walker) file(path string) {
	if !w.s.matches(path) {
		return
	}
	if canon, err := filepath.EvalSymlinks(path); err == nil {
		if _, seen := w.files[canon]; seen {
			return
		}
		w.files[canon] = struct{}{}
	}

	info, err := os.Stat(path)
	if err != nil {
		w.warn(path, ReasonUnreadable, err)
		return
	}
	if limit := w.s.opts.MaxFileBytes; limit > 0 && info.Size() > limit {
		w.warn(path, ReasonTooLarge, nil)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		w.warn(path, ReasonUnreadable, err)
		return
	}
	if bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(data) {
		w.warn(path, ReasonBinary, nil)
		return
	}
	if len(bytes.TrimSpace(data)) == 0 {
		w.warn(path, ReasonEmpty, nil)
		return
	}
	doc := &domain.Document{
		Path:    path,
		Text:    string(data),
		ModTime: info.ModTime(),
		Size:    info.Size(),
	}
	w.send(Result{Doc: doc})
}

func (w *walker) warn(path, reason string, err error) {
	w.send(Result{Warning: &Warning{Path: path, Reason: reason, Err: err}})
}

func (w *walker) send(r Result) {
	select {
	case w.out <- r:
	case <-w.ctx.Done():
	}
}

func (s *Scanner) matches(path string) bool {
	if len(s.exts) == 0 {
		return true
	}
	lower := strings.ToLower(filepath.Base(path))
	for ext := range s.exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
