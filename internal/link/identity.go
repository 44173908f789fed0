package link

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// IdentityStore 保存上一次交互选中的设备
type IdentityStore struct {
	path string
}

type identityFile struct {
	Identity Identity  `yaml:"identity"`
	SavedAt  time.Time `yaml:"saved_at"`
}

func NewIdentityStore(path string) *IdentityStore {
	return &IdentityStore{path: path}
}

func (s *IdentityStore) Path() string { return s.path }

// Save 写入设备标识, 目录不存在时创建
func (s *IdentityStore) Save(id Identity) error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(identityFile{Identity: id, SavedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("序列化设备标识失败: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("写入设备标识失败: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Load 读取设备标识, 文件不存在返回 ErrNoSavedIdentity
func (s *IdentityStore) Load() (Identity, error) {
	if s.path == "" {
		return Identity{}, ErrNoSavedIdentity
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Identity{}, ErrNoSavedIdentity
	}
	if err != nil {
		return Identity{}, fmt.Errorf("读取设备标识失败: %w", err)
	}
	var f identityFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Identity{}, fmt.Errorf("解析设备标识失败: %w", err)
	}
	if f.Identity.Port == "" && f.Identity.SerialNumber == "" {
		return Identity{}, ErrNoSavedIdentity
	}
	return f.Identity, nil
}

// Forget 删除保存的设备标识
func (s *IdentityStore) Forget() error {
	if s.path == "" {
		return nil
	}
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
