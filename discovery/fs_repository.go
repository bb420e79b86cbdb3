// Package discovery finds native module files on disk.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/reglet-dev/capbridge/capability"
	"github.com/reglet-dev/capbridge/parser"
	"github.com/reglet-dev/capbridge/values"
)

// DefaultPattern matches every module file below the root.
const DefaultPattern = "**/*.wasm"

// ErrNoMatchingVersion is returned when no discovered version satisfies the
// configured constraint.
var ErrNoMatchingVersion = errors.New("no matching module version")

// manifestNames are checked, in order, in each module's directory.
var manifestNames = []string{"manifest.yaml", "manifest.yml", "manifest.json"}

var _ capability.Locator = (*FSRepository)(nil)

// Entry is a module file found on disk.
type Entry struct {
	Name        string
	Version     string
	Description string
	Path        string
	Digest      values.Digest
}

// FSRepository discovers modules under a root directory. A module is named
// by the sibling manifest when one exists and by its file stem otherwise.
// A version comes from the manifest or, failing that, from a parent
// directory named like a semantic version.
type FSRepository struct {
	root        string
	pattern     string
	overrides   map[string]string
	constraints map[string]string
	resolver    *SemverResolver
	logger      *slog.Logger
}

// Option configures an FSRepository.
type Option func(*FSRepository)

// WithPattern sets the doublestar pattern, relative to the root.
func WithPattern(pattern string) Option {
	return func(r *FSRepository) {
		if pattern != "" {
			r.pattern = pattern
		}
	}
}

// WithOverride maps a module name to an explicit path, bypassing the scan.
func WithOverride(name, path string) Option {
	return func(r *FSRepository) {
		r.overrides[name] = path
	}
}

// WithConstraint restricts the versions considered for name.
func WithConstraint(name, constraint string) Option {
	return func(r *FSRepository) {
		r.constraints[name] = constraint
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *FSRepository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewFSRepository creates a repository rooted at root.
func NewFSRepository(root string, opts ...Option) (*FSRepository, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve module dir %s: %w", root, err)
	}

	r := &FSRepository{
		root:        abs,
		pattern:     DefaultPattern,
		overrides:   make(map[string]string),
		constraints: make(map[string]string),
		resolver:    NewSemverResolver(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if !doublestar.ValidatePattern(r.pattern) {
		return nil, fmt.Errorf("invalid discovery pattern %q", r.pattern)
	}
	for name, c := range r.constraints {
		if c == Latest {
			continue
		}
		if _, err := semver.NewConstraint(c); err != nil {
			return nil, fmt.Errorf("invalid version constraint for %s: %w", name, err)
		}
	}
	return r, nil
}

// Root returns the directory being scanned.
func (r *FSRepository) Root() string { return r.root }

// List returns every module file matching the pattern, sorted by name,
// then version, then path. Entries with unusable manifests are skipped.
func (r *FSRepository) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry

	fsys := os.DirFS(r.root)
	err := doublestar.GlobWalk(fsys, r.pattern, func(rel string, _ fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		path, err := r.modulePath(rel)
		if err != nil {
			r.logger.WarnContext(ctx, "skipping module outside root", "path", rel, "error", err)
			return nil
		}

		entry, err := r.describe(path)
		if err != nil {
			r.logger.WarnContext(ctx, "skipping module with invalid manifest", "path", path, "error", err)
			return nil
		}
		entries = append(entries, entry)
		return nil
	}, doublestar.WithFilesOnly())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan %s: %w", r.root, err)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Version != b.Version {
			return a.Version < b.Version
		}
		return a.Path < b.Path
	})
	return entries, nil
}

// Find returns the entry chosen for name: the highest version satisfying
// the name's constraint. Unversioned files count as 0.0.0; ties go to the
// lexically first path.
func (r *FSRepository) Find(ctx context.Context, name string) (Entry, error) {
	if _, err := values.NewModuleName(name); err != nil {
		return Entry{}, err
	}

	if path, ok := r.overrides[name]; ok {
		entry, err := r.describe(filepath.Clean(path))
		if err != nil {
			return Entry{}, err
		}
		entry.Name = name
		return entry, nil
	}

	all, err := r.List(ctx)
	if err != nil {
		return Entry{}, err
	}

	var candidates []Entry
	for _, e := range all {
		if e.Name == name {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return Entry{}, fmt.Errorf("%w: %s under %s", capability.ErrModuleNotFound, name, r.root)
	}

	versions := make([]string, 0, len(candidates))
	for _, e := range candidates {
		versions = append(versions, versionOf(e))
	}

	chosen, err := r.resolver.Resolve(r.constraints[name], versions)
	if err != nil {
		return Entry{}, fmt.Errorf("module %s: %w", name, err)
	}

	for _, e := range candidates {
		if versionOf(e) == chosen {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %s %s", capability.ErrModuleNotFound, name, chosen)
}

// Locate implements capability.Locator.
func (r *FSRepository) Locate(ctx context.Context, name string) (capability.Source, error) {
	entry, err := r.Find(ctx, name)
	if err != nil {
		return capability.Source{}, err
	}
	r.logger.DebugContext(ctx, "located native module",
		"module", name, "path", entry.Path, "version", entry.Version)
	return capability.Source{Path: entry.Path, Digest: entry.Digest}, nil
}

func versionOf(e Entry) string {
	if e.Version == "" {
		return "0.0.0"
	}
	return e.Version
}

// modulePath joins rel onto the root and rejects results that escape it.
func (r *FSRepository) modulePath(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("security violation: absolute path %q", rel)
	}

	full := filepath.Clean(filepath.Join(r.root, filepath.FromSlash(rel)))
	if !strings.HasPrefix(full, r.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("security violation: path traversal detected for %q", rel)
	}
	return full, nil
}

func (r *FSRepository) describe(path string) (Entry, error) {
	entry := Entry{
		Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Path: path,
	}

	dir := filepath.Dir(path)
	if dir != r.root {
		if v, err := semver.NewVersion(filepath.Base(dir)); err == nil {
			entry.Version = v.Original()
		}
	}

	m, err := loadManifest(dir)
	if err != nil {
		return Entry{}, err
	}
	if m == nil {
		return entry, nil
	}

	entry.Name = m.Name
	entry.Description = m.Description
	if m.Version != "" {
		entry.Version = m.Version
	}
	if m.Digest != "" {
		// Validate already parsed it.
		entry.Digest, _ = values.ParseDigest(m.Digest)
	}
	return entry, nil
}

// loadManifest returns nil when dir has no manifest.
func loadManifest(dir string) (*parser.Manifest, error) {
	for _, name := range manifestNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path) // #nosec G304 -- path is built from the scanned root
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}

		p, err := parser.ForFile(path)
		if err != nil {
			return nil, err
		}
		m, err := p.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return m, nil
	}
	return nil, nil
}
