// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

const (
	DevicesDir       = "devices"
	ShadowFile       = "shadow.json"
	CipherSecretFile = "cipher.secret"
	ConfigFile       = "config.toml"
	DbFile           = "sql.db"
)

type baseFsHandle struct {
	root string
}

func (h baseFsHandle) RootDir() string {
	return h.root
}

func (h baseFsHandle) FilePath(name string) string {
	return filepath.Join(h.root, name)
}

func (h baseFsHandle) readFile(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(h.root, name))
}

// writeFile replaces the file atomically, readers never see a partial write.
func (h baseFsHandle) writeFile(name string, content []byte, mode os.FileMode) error {
	if err := os.MkdirAll(h.root, 0o744); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(h.root, "."+name+".*")
	if err != nil {
		return err
	}
	if _, err = tmp.Write(content); err == nil {
		err = tmp.Chmod(mode)
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), filepath.Join(h.root, name))
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
	}
	return err
}

type FsHandle struct {
	baseFsHandle

	Devices DevicesFsHandle
}

func NewFs(root string) (*FsHandle, error) {
	fs := &FsHandle{
		baseFsHandle: baseFsHandle{root: root},
		Devices:      DevicesFsHandle{baseFsHandle{root: filepath.Join(root, DevicesDir)}},
	}
	if err := os.MkdirAll(fs.Devices.root, 0o744); err != nil {
		return nil, fmt.Errorf("unable to initialize file storage: %w", err)
	}
	return fs, nil
}

// ReadFile returns the content of a top level file. A missing file is not an
// error, it returns nil content.
func (s FsHandle) ReadFile(name string) ([]byte, error) {
	content, err := s.readFile(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("unexpected error reading file %s: %w", name, err)
	}
	return content, nil
}

func (s FsHandle) WriteFile(name string, content []byte, mode os.FileMode) error {
	if err := s.writeFile(name, content, mode); err != nil {
		return fmt.Errorf("error writing file %s: %w", name, err)
	}
	return nil
}

type DevicesFsHandle struct {
	baseFsHandle
}

func (s DevicesFsHandle) deviceHandle(uuid string) (baseFsHandle, error) {
	if uuid == "" || uuid != filepath.Base(uuid) || uuid == "." || uuid == ".." {
		return baseFsHandle{}, fmt.Errorf("invalid device id: %q", uuid)
	}
	return baseFsHandle{root: filepath.Join(s.root, uuid)}, nil
}

// ReadAsJson decodes a device file into value. It returns an error wrapping
// os.ErrNotExist when the device has no such file.
func (s DevicesFsHandle) ReadAsJson(uuid, name string, value any) error {
	h, err := s.deviceHandle(uuid)
	if err != nil {
		return err
	}
	content, err := h.readFile(name)
	if err != nil {
		return fmt.Errorf("error reading file %s for device %s: %w", name, uuid, err)
	}
	if err = json.Unmarshal(content, value); err != nil {
		return fmt.Errorf("unexpected error unmarshalling file %s for device %s: %w", name, uuid, err)
	}
	return nil
}

func (s DevicesFsHandle) WriteAsJson(uuid, name string, value any) error {
	h, err := s.deviceHandle(uuid)
	if err != nil {
		return err
	}
	content, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("unable to marshal file %s for device %s: %w", name, uuid, err)
	}
	if err = h.writeFile(name, content, 0o644); err != nil {
		return fmt.Errorf("error writing file %s for device %s: %w", name, uuid, err)
	}
	return nil
}

// List returns the ids of all devices having stored files, sorted.
func (s DevicesFsHandle) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("error listing devices: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	slices.Sort(ids)
	return ids, nil
}
