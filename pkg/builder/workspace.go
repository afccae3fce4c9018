// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package builder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/axisctl/pkg/catalog"
	"github.com/Thermoquad/axisctl/pkg/confstore"
	"github.com/Thermoquad/axisctl/pkg/match"
	"github.com/Thermoquad/axisctl/pkg/oplog"
	"github.com/Thermoquad/axisctl/pkg/settings"
	"github.com/Thermoquad/axisctl/pkg/vlink"
)

// Workspace locates the files of one axis: its own directory holding rules
// and build output, and the shared directory holding the configuration store.
type Workspace struct {
	AxisDir   string
	SharedDir string

	StoreFile   string
	MatchFile   string
	CatalogFile string
	BoardFile   string

	Locks *DirLocks
}

// NewWorkspace derives the workspace of axis n from settings.
func NewWorkspace(s settings.Settings, axis int) Workspace {
	return Workspace{
		AxisDir:     s.AxisDir(axis),
		SharedDir:   s.SharedPath(),
		StoreFile:   s.StoreFile,
		MatchFile:   s.MatchFile,
		CatalogFile: s.CatalogFile,
		BoardFile:   s.BoardFile,
		Locks:       SharedLocks,
	}
}

func (w Workspace) StorePath() string   { return filepath.Join(w.SharedDir, w.StoreFile) }
func (w Workspace) MatchPath() string   { return filepath.Join(w.AxisDir, w.MatchFile) }
func (w Workspace) CatalogPath() string { return filepath.Join(w.AxisDir, w.CatalogFile) }
func (w Workspace) BoardPath() string   { return filepath.Join(w.AxisDir, w.BoardFile) }
func (w Workspace) InputsPath() string  { return filepath.Join(w.AxisDir, w.CatalogFile+".inputs") }

func (w Workspace) locks() *DirLocks {
	if w.Locks == nil {
		return SharedLocks
	}
	return w.Locks
}

// LoadStore reads the configuration store while holding the shared
// directory lock. A missing file yields an empty store.
func (w Workspace) LoadStore(ctx context.Context) (confstore.Map, error) {
	unlock, err := w.locks().Lock(ctx, w.SharedDir)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", w.SharedDir, err)
	}
	defer unlock()

	m, err := confstore.Load(w.StorePath())
	if errors.Is(err, fs.ErrNotExist) {
		return confstore.Map{}, nil
	}
	return m, err
}

// LoadRules reads the match rules. A missing file yields no rules.
func (w Workspace) LoadRules() (*match.Rules, error) {
	rules, err := match.Load(w.MatchPath())
	if errors.Is(err, fs.ErrNotExist) {
		return match.New(nil)
	}
	return rules, err
}

// InputsDigest returns a SHA-256 digest over the match rules and the
// configuration store, the inputs a build merges with the board. A missing
// file contributes its name only.
func (w Workspace) InputsDigest(ctx context.Context) (string, error) {
	h := sha256.New()
	add := func(path string) error {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		fmt.Fprintf(h, "%s\x00%t\x00%d\x00", filepath.Base(path), err == nil, len(data))
		h.Write(data)
		return nil
	}

	if err := add(w.MatchPath()); err != nil {
		return "", err
	}

	unlock, err := w.locks().Lock(ctx, w.SharedDir)
	if err != nil {
		return "", fmt.Errorf("lock %s: %w", w.SharedDir, err)
	}
	defer unlock()
	if err := add(w.StorePath()); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// inputsCurrent reports whether the saved catalog was built from inputs
// with the given digest.
func (w Workspace) inputsCurrent(digest string) bool {
	saved, err := os.ReadFile(w.InputsPath())
	return err == nil && string(bytes.TrimSpace(saved)) == digest
}

// SaveDescriptors writes the raw board descriptors as a CBOR snapshot.
func SaveDescriptors(path string, ds []vlink.Descriptor) error {
	data, err := cbor.Marshal(ds)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadDescriptors reads a snapshot written by SaveDescriptors.
func LoadDescriptors(path string) ([]vlink.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ds []vlink.Descriptor
	if err := cbor.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return ds, nil
}

// LoadOrBuild returns the persisted catalog when it matches the board's
// item count and was built from the current match rules and configuration
// store. Otherwise it builds and persists a new one. force always rebuilds.
func LoadOrBuild(ctx context.Context, board Board, ws Workspace, rec oplog.Recorder, force bool) (*Result, error) {
	count, err := board.ItemCount(ctx)
	if err != nil {
		return nil, err
	}
	digest, err := ws.InputsDigest(ctx)
	if err != nil {
		return nil, fmt.Errorf("hash build inputs: %w", err)
	}

	if !force && ws.inputsCurrent(digest) {
		if c, err := catalog.Load(ws.CatalogPath()); err == nil && c.Len() == count {
			return &Result{Catalog: c, Reused: true}, nil
		}
	}

	rules, err := ws.LoadRules()
	if err != nil {
		return nil, err
	}
	store, err := ws.LoadStore(ctx)
	if err != nil {
		return nil, err
	}

	b := &Builder{Board: board, Rules: rules, Store: store, Recorder: rec}
	res, err := b.build(ctx, count)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(ws.AxisDir, 0o755); err != nil {
		return nil, err
	}
	if err := SaveDescriptors(ws.BoardPath(), res.Descriptors); err != nil {
		return nil, fmt.Errorf("save board descriptors: %w", err)
	}
	if err := catalog.Save(ws.CatalogPath(), res.Catalog); err != nil {
		return nil, err
	}
	if err := os.WriteFile(ws.InputsPath(), []byte(digest+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("save build inputs digest: %w", err)
	}
	return res, nil
}
