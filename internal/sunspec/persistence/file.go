// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ffutop/dlms-sunspec-bridge/internal/sunspec"
)

// imageSize is the on-disk footprint of a snapshot: 197 registers, two
// bytes each.
const imageSize = sunspec.RegisterTotalCount * 2

// FileStorage persists the image as a flat 394-byte file using plain
// file operations. This provides OS-managed durability without the
// complexity of memory mapping.
type FileStorage struct {
	path string
	file *os.File
}

// NewFileStorage creates a new FileStorage.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Load opens (creating if necessary) the backing file and restores a
// previously saved snapshot into a freshly constructed Image.
func (fs *FileStorage) Load(modbusAddress byte) (*sunspec.Image, error) {
	f, err := os.OpenFile(fs.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	fs.file = f

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	img := sunspec.NewImage(modbusAddress)
	if fi.Size() == int64(imageSize) {
		data, err := io.ReadAll(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		img.Restore(data)
	} else if err := f.Truncate(int64(imageSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to resize file: %w", err)
	}

	return img, nil
}

// Save flushes the current image to disk.
func (fs *FileStorage) Save(img *sunspec.Image) error {
	return fs.sync(img)
}

// OnWrite triggers a sync for real-time persistence.
func (fs *FileStorage) OnWrite(img *sunspec.Image) {
	if err := fs.sync(img); err != nil {
		slog.Error("sunspec/persistence: failed to sync file", "err", err)
	}
}

func (fs *FileStorage) sync(img *sunspec.Image) error {
	if fs.file == nil {
		return nil
	}
	if _, err := fs.file.WriteAt(img.Snapshot(), 0); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return fs.file.Sync()
}

// Close releases the underlying file handle.
func (fs *FileStorage) Close() error {
	if fs.file == nil {
		return nil
	}
	return fs.file.Close()
}
