package records

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/pendergraft/contraverify/internal/validation"
)

// ErrNotFound is returned when no record exists for an id.
var ErrNotFound = errors.New("record not found")

const (
	abiFile      = "abi.json"
	bytecodeFile = "bytecode.bin"
	infoFile     = "info.yaml"
	srcDir       = "src"

	loadConcurrency = 16
)

// Filter selects records; a nil Filter matches everything.
type Filter func(c *Contract) bool

// Store reads and writes records laid out as <dir>/<id>/{abi.json,bytecode.bin,info.yaml,src/...}.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates a record store rooted at dir.
func NewStore(dir string, logger *slog.Logger) *Store {
	return &Store{dir: dir, logger: logger}
}

// Dir returns the root directory of the store.
func (s *Store) Dir() string {
	return s.dir
}

// Exists reports whether a record directory exists for id.
func (s *Store) Exists(id string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.dir, id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// ExistsByAddressNetwork reports whether a record exists for address on network.
func (s *Store) ExistsByAddressNetwork(address, network string) (bool, error) {
	id, err := ComputeID(address, network)
	if err != nil {
		return false, err
	}
	return s.Exists(id)
}

// Load reads a single record by id.
func (s *Store) Load(ctx context.Context, id string) (*Contract, error) {
	dir := filepath.Join(s.dir, id)
	if ok, err := s.Exists(id); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	c := &Contract{ID: id, Src: make(map[string]string)}

	abi, err := readTrimmed(filepath.Join(dir, abiFile))
	if err != nil {
		return nil, err
	}
	c.ABI = abi

	bin, err := readTrimmed(filepath.Join(dir, bytecodeFile))
	if err != nil {
		return nil, err
	}
	c.Bin = bin

	info, err := os.ReadFile(filepath.Join(dir, infoFile))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", infoFile, err)
	}
	if err := yaml.Unmarshal(info, &c.Info); err != nil {
		return nil, fmt.Errorf("parsing %s of %s: %w", infoFile, id, err)
	}
	expected, err := ComputeID(c.Info.Address, c.Info.Network)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", id, err)
	}
	if expected != id {
		return nil, fmt.Errorf("contract id %s is wrong, expected: %s", id, expected)
	}

	root := filepath.Join(dir, srcDir)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		content, err := readTrimmed(path)
		if err != nil {
			return err
		}
		c.Src[filepath.ToSlash(rel)] = content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading sources of %s: %w", id, err)
	}

	return c, nil
}

// LoadAll loads every record matching filter. Order is not significant.
func (s *Store) LoadAll(ctx context.Context, filter Filter) ([]*Contract, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}

	var (
		mu        sync.Mutex
		contracts []*Contract
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := e.Name()
		g.Go(func() error {
			c, err := s.Load(ctx, id)
			if err != nil {
				return err
			}
			if filter != nil && !filter(c) {
				return nil
			}
			mu.Lock()
			contracts = append(contracts, c)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Debug("records loaded", "dir", s.dir, "count", len(contracts))
	return contracts, nil
}

// Save writes a new record. It returns false without writing when the id already exists.
func (s *Store) Save(ctx context.Context, c *Contract) (bool, error) {
	if err := validateInfo(c.Info); err != nil {
		return false, err
	}
	id, err := ComputeID(c.Info.Address, c.Info.Network)
	if err != nil {
		return false, err
	}
	if ok, err := s.Exists(id); err != nil || ok {
		return false, err
	}

	info, err := yaml.Marshal(c.Info)
	if err != nil {
		return false, fmt.Errorf("encoding %s: %w", infoFile, err)
	}

	dir := filepath.Join(s.dir, id)
	files := map[string][]byte{
		abiFile:      []byte(c.ABI + "\n"),
		bytecodeFile: []byte(c.Bin + "\n"),
		infoFile:     info,
	}
	for name, content := range c.Src {
		files[filepath.Join(srcDir, filepath.FromSlash(name))] = []byte(content + "\n")
	}

	for name, content := range files {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return false, fmt.Errorf("creating record directory: %w", err)
		}
		if err := os.WriteFile(path, content, 0644); err != nil {
			return false, fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return true, nil
}

func validateInfo(info Info) error {
	if err := validation.ValidateAddress(info.Address); err != nil {
		return err
	}
	if err := validation.ValidateTxID(info.TxID); err != nil {
		return err
	}
	return validation.ValidateCompiler(info.Compiler)
}

func readTrimmed(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	return strings.TrimSpace(string(b)), nil
}
