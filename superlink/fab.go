// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package superlink

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/superlink/superlink/structs"
)

// FabSource stores and serves application bundles in one directory,
// addressed by the hex sha256 of their content.
type FabSource struct {
	dir string
}

func NewFabSource(dir string) *FabSource {
	return &FabSource{dir: dir}
}

// HashFab returns the content address of a bundle.
func HashFab(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (f *FabSource) path(hash string) string {
	return filepath.Join(f.dir, hash+".fab")
}

// Put installs a bundle and returns its content hash. Installing the
// same content twice is a no-op.
func (f *FabSource) Put(content []byte) (string, error) {
	if err := os.MkdirAll(f.dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create fab dir: %w", err)
	}

	hash := HashFab(content)
	if err := os.WriteFile(f.path(hash), content, 0600); err != nil {
		return "", fmt.Errorf("failed to install fab: %w", err)
	}
	return hash, nil
}

// Get reads a bundle back by hash and verifies the content still
// matches its address.
func (f *FabSource) Get(hash string) (*structs.Fab, error) {
	content, err := os.ReadFile(f.path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no fab installed with hash %q", hash)
		}
		return nil, err
	}

	if got := HashFab(content); got != hash {
		return nil, fmt.Errorf("fab %q failed content verification", hash)
	}
	return &structs.Fab{Hash: hash, Content: content}, nil
}
