// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/ffutop/dlms-sunspec-bridge/internal/sunspec"
)

// MmapStorage persists the image through a memory-mapped file. Because
// the Image keeps its registers in a private fixed array rather than a
// slice over foreign memory, this backend does not map the live struct
// zero-copy; it maps a same-sized byte region and moves data through
// Snapshot/Restore, trading a copy per write for a far simpler and
// portable implementation.
type MmapStorage struct {
	path string
	file *os.File
	data mmap.MMap
}

// NewMmapStorage creates a new MmapStorage.
func NewMmapStorage(path string) *MmapStorage {
	return &MmapStorage{path: path}
}

// Load maps (creating if necessary) the backing file and restores a
// previously saved snapshot into a freshly constructed Image.
func (ms *MmapStorage) Load(modbusAddress byte) (*sunspec.Image, error) {
	f, err := os.OpenFile(ms.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open mmap file: %w", err)
	}
	ms.file = f

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != int64(imageSize) {
		if err := f.Truncate(int64(imageSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to resize mmap file: %w", err)
		}
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	ms.data = data

	img := sunspec.NewImage(modbusAddress)
	if fi.Size() == int64(imageSize) {
		img.Restore(data)
	}
	return img, nil
}

// Save copies the image into the mapped region and flushes it to disk.
func (ms *MmapStorage) Save(img *sunspec.Image) error {
	if ms.data == nil {
		return fmt.Errorf("mmap data is nil")
	}
	copy(ms.data, img.Snapshot())
	return ms.data.Flush()
}

// OnWrite triggers a flush for real-time persistence.
func (ms *MmapStorage) OnWrite(img *sunspec.Image) {
	if ms.data == nil {
		return
	}
	copy(ms.data, img.Snapshot())
	if err := ms.data.Flush(); err != nil {
		slog.Error("sunspec/persistence: failed to flush mmap", "err", err)
	}
}

// Close unmaps and closes the file.
func (ms *MmapStorage) Close() error {
	var err error
	if ms.data != nil {
		if e := ms.data.Unmap(); e != nil {
			err = e
		}
		ms.data = nil
	}
	if ms.file != nil {
		if e := ms.file.Close(); e != nil {
			err = e
		}
		ms.file = nil
	}
	return err
}
