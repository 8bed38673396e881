// Package solc fetches, caches and loads historical soljson compiler builds.
package solc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pendergraft/contraverify/internal/observability/metrics"
)

// DefaultArchiveURL is the historical soljson archive.
const DefaultArchiveURL = "https://binaries.soliditylang.org/bin"

var (
	// ErrCompilerUnavailable means the archive did not serve the build.
	ErrCompilerUnavailable = errors.New("compiler unavailable")
	// ErrCompilerLoad means the build could not be instantiated.
	ErrCompilerLoad = errors.New("compiler load error")
)

// Loader instantiates a compiler module from soljson source.
type Loader interface {
	Load(version string, code []byte) (Module, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(version string, code []byte) (Module, error)

// Load calls f.
func (f LoaderFunc) Load(version string, code []byte) (Module, error) {
	return f(version, code)
}

// Options configures a Manager.
type Options struct {
	CacheDir   string
	ArchiveURL string
	HTTPClient *http.Client
	Loader     Loader
	Logger     *slog.Logger
}

// Manager resolves compiler versions to loaded modules. A version is
// downloaded at most once into the cache directory and loaded at most once
// per process.
type Manager struct {
	cacheDir   string
	archiveURL string
	client     *http.Client
	loader     Loader
	logger     *slog.Logger

	group   singleflight.Group
	mu      sync.RWMutex
	modules map[string]Module
}

// NewManager creates a compiler manager.
func NewManager(opts Options) *Manager {
	if opts.CacheDir == "" {
		opts.CacheDir = ".soljson"
	}
	if opts.ArchiveURL == "" {
		opts.ArchiveURL = DefaultArchiveURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if opts.Loader == nil {
		opts.Loader = LoaderFunc(LoadSoljson)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		cacheDir:   opts.CacheDir,
		archiveURL: strings.TrimRight(opts.ArchiveURL, "/"),
		client:     opts.HTTPClient,
		loader:     opts.Loader,
		logger:     opts.Logger,
		modules:    make(map[string]Module),
	}
}

// FileName is the archive and cache file name of a version.
func FileName(version string) string {
	return "soljson-v" + version + ".js"
}

// Path returns the cache file path of a version.
func (m *Manager) Path(version string) string {
	return filepath.Join(m.cacheDir, FileName(version))
}

// Cached reports whether a version is present in the cache directory.
func (m *Manager) Cached(version string) (bool, error) {
	info, err := os.Stat(m.Path(version))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// Download fetches a version from the archive into the cache directory,
// replacing any cached copy.
func (m *Manager) Download(ctx context.Context, version string) error {
	_, err := m.download(ctx, version)
	return err
}

func (m *Manager) download(ctx context.Context, version string) ([]byte, error) {
	code, err := m.fetch(ctx, FileName(version))
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(m.cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	// Readers in other processes never see a partial file.
	tmp, err := os.CreateTemp(m.cacheDir, FileName(version)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(code); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("writing %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), m.Path(version)); err != nil {
		return nil, fmt.Errorf("storing %s: %w", m.Path(version), err)
	}

	m.logger.Info("downloaded compiler", "version", version, "bytes", len(code))
	return code, nil
}

func (m *Manager) fetch(ctx context.Context, name string) ([]byte, error) {
	url := m.archiveURL + "/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompilerUnavailable, err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompilerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s: %s", ErrCompilerUnavailable, url, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrCompilerUnavailable, url, err)
	}
	return body, nil
}

// Resolve returns the loaded module for a version, downloading and loading
// it on first use. Concurrent calls for one version share a single load; a
// caller whose ctx ends stops waiting without failing the others.
func (m *Manager) Resolve(ctx context.Context, version string) (Module, error) {
	m.mu.RLock()
	mod, ok := m.modules[version]
	m.mu.RUnlock()
	if ok {
		return mod, nil
	}

	// The shared load outlives any one caller's context.
	loadCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(version, func() (any, error) {
		m.mu.RLock()
		mod, ok := m.modules[version]
		m.mu.RUnlock()
		if ok {
			return mod, nil
		}

		mod, err := m.load(loadCtx, version)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.modules[version] = mod
		m.mu.Unlock()
		return mod, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Module), nil
	}
}

func (m *Manager) load(ctx context.Context, version string) (Module, error) {
	start := time.Now()
	source := "cache"

	code, err := os.ReadFile(m.Path(version))
	if errors.Is(err, fs.ErrNotExist) {
		source = "download"
		code, err = m.download(ctx, version)
	}
	if err != nil {
		return nil, err
	}

	mod, err := m.loader.Load(version, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCompilerLoad, version, err)
	}

	metrics.CompilerLoad(source, time.Since(start))
	m.logger.Debug("loaded compiler",
		"version", version,
		"source", source,
		"identity", mod.Version(),
		"duration", time.Since(start),
	)
	return mod, nil
}

// ListVersions returns the versions named in the archive's list.txt.
func (m *Manager) ListVersions(ctx context.Context) ([]string, error) {
	body, err := m.fetch(ctx, "list.txt")
	if err != nil {
		return nil, err
	}
	return parseList(body), nil
}

func parseList(body []byte) []string {
	var versions []string
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "soljson-v") || !strings.HasSuffix(line, ".js") {
			continue
		}
		versions = append(versions, strings.TrimSuffix(strings.TrimPrefix(line, "soljson-v"), ".js"))
	}
	return versions
}
