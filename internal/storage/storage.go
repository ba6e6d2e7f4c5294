package storage

import (
	"os"
	"path/filepath"
)

type AppStorage struct {
	configPath string
	dbPath     string
}

func NewAppStorage(appName string) (*AppStorage, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}
	baseDir = filepath.Join(baseDir, appName)

	configPath := filepath.Join(baseDir, "config")
	dbPath := filepath.Join(baseDir, "db")

	for _, dir := range []string{configPath, dbPath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	return &AppStorage{
		configPath: configPath,
		dbPath:     dbPath,
	}, nil
}

// NewAppStorageAt roots all storage in the given directory. Used by tests
// and portable installs.
func NewAppStorageAt(baseDir string) (*AppStorage, error) {
	configPath := filepath.Join(baseDir, "config")
	dbPath := filepath.Join(baseDir, "db")

	for _, dir := range []string{configPath, dbPath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	return &AppStorage{
		configPath: configPath,
		dbPath:     dbPath,
	}, nil
}

func (s *AppStorage) ConfigPath() string {
	return s.configPath
}

func (s *AppStorage) DBPath() string {
	return s.dbPath
}

func (s *AppStorage) WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *AppStorage) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (s *AppStorage) FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (s *AppStorage) DeleteFile(path string) error {
	return os.Remove(path)
}
