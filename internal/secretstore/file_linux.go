//go:build linux

package secretstore

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

func init() { Default = fileStore{} }

type fileStore struct{}

func (fileStore) path(name string) string {
	u, _ := user.Current()
	// Secret names may contain path separators; flatten them
	flat := strings.ReplaceAll(name, string(os.PathSeparator), "_")
	return filepath.Join(u.HomeDir, ".lockstep-secrets", flat)
}

func (f fileStore) Put(n string, d []byte) error {
	path := f.path(n)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, d, 0600)
}

func (f fileStore) Get(n string) ([]byte, error) { return os.ReadFile(f.path(n)) }

func (f fileStore) Delete(n string) error { return os.Remove(f.path(n)) }
