// Package vpn provides OpenVPN session management for ovpnctl.
// This file contains the ConfigStore, which manages imported OpenVPN
// configuration bundles on disk.
package vpn

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/yllada/ovpnctl/common"
)

// primaryExtensions are the accepted config file extensions, in lookup order.
var primaryExtensions = []string{".ovpn", ".conf"}

// fileRefDirectives are the config directives whose first argument names an
// auxiliary file (certificate, key) that must travel with the config.
var fileRefDirectives = map[string]bool{
	"ca":        true,
	"cert":      true,
	"key":       true,
	"tls-auth":  true,
	"tls-crypt": true,
}

// ConfigStore manages named OpenVPN configuration bundles. Each bundle is a
// directory under the store root holding the primary config file plus any
// referenced auxiliary files:
//
//	<root>/<name>/<name>.ovpn
//	<root>/<name>/ca.crt
//	...
//
// The directory name is the configuration's identity. Bundles are created
// by Import, read by the session controller, and never mutated.
type ConfigStore struct {
	root string
}

// NewConfigStore creates a store rooted in the default configs directory
// under the application config dir.
func NewConfigStore() (*ConfigStore, error) {
	configDir, err := common.GetConfigDir()
	if err != nil {
		return nil, err
	}
	return NewConfigStoreAt(filepath.Join(configDir, common.ConfigStoreDirName))
}

// NewConfigStoreAt creates a store rooted at the given directory, creating
// it if necessary.
func NewConfigStoreAt(root string) (*ConfigStore, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, common.WrapError(err, "failed to create config store")
	}
	return &ConfigStore{root: root}, nil
}

// Root returns the store's root directory.
func (s *ConfigStore) Root() string {
	return s.root
}

// Import copies an OpenVPN config file and every auxiliary file it
// references into a new bundle directory named after the config file.
// Relative file references are resolved against the source file's
// directory. Returns the configuration name.
func (s *ConfigStore) Import(ovpnPath string) (string, error) {
	ext := strings.ToLower(filepath.Ext(ovpnPath))
	validExt := false
	for _, e := range primaryExtensions {
		if ext == e {
			validExt = true
			break
		}
	}
	if !validExt {
		return "", fmt.Errorf("%w: expected .ovpn or .conf extension", common.ErrInvalidConfig)
	}

	src, err := os.Open(ovpnPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrInvalidConfig, err)
	}
	defer src.Close()

	name := strings.TrimSuffix(filepath.Base(ovpnPath), filepath.Ext(ovpnPath))
	destDir := filepath.Join(s.root, name)
	if common.FileExists(destDir) {
		return "", fmt.Errorf("%w: %s", common.ErrDuplicateConfig, name)
	}
	if err := os.MkdirAll(destDir, 0700); err != nil {
		return "", common.WrapError(err, "failed to create bundle directory")
	}

	// Store the primary file with a lowercased extension so PrimaryFile's
	// probe always finds it, whatever case the source file used.
	if err := copyFile(ovpnPath, filepath.Join(destDir, name+ext)); err != nil {
		return "", err
	}

	// Pull in referenced certificates and keys so the bundle is
	// self-contained.
	srcDir := filepath.Dir(ovpnPath)
	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		fields := strings.Fields(strings.TrimSpace(scanner.Text()))
		if len(fields) < 2 || !fileRefDirectives[fields[0]] {
			continue
		}
		refPath := fields[1]
		if !filepath.IsAbs(refPath) {
			refPath = filepath.Join(srcDir, refPath)
		}
		if !common.FileExists(refPath) {
			common.LogWarn("referenced file missing, skipping: %s", refPath)
			continue
		}
		if err := copyFile(refPath, filepath.Join(destDir, filepath.Base(refPath))); err != nil {
			return "", err
		}
	}
	if err := scanner.Err(); err != nil {
		return "", common.WrapError(err, "failed to scan config file")
	}

	common.LogInfo("imported configuration %q", name)
	return name, nil
}

// List returns the names of all stored configurations, sorted.
func (s *ConfigStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, common.WrapError(err, "failed to read config store")
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// PrimaryFile returns the path of the primary config file for a named
// configuration: <root>/<name>/<name>.<ext>.
func (s *ConfigStore) PrimaryFile(name string) (string, error) {
	for _, ext := range primaryExtensions {
		path := filepath.Join(s.root, name, name+ext)
		if common.FileExists(path) {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", common.ErrConfigNotFound, name)
}

// Remove deletes a configuration bundle.
func (s *ConfigStore) Remove(name string) error {
	dir := filepath.Join(s.root, name)
	if !common.FileExists(dir) {
		return fmt.Errorf("%w: %s", common.ErrConfigNotFound, name)
	}
	return os.RemoveAll(dir)
}

// Watch invokes onChange after any filesystem change under the store root,
// so front-ends can refresh their listings. The returned stop function
// releases the watcher.
func (s *ConfigStore) Watch(onChange func()) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, common.WrapError(err, "failed to create watcher")
	}
	if err := watcher.Add(s.root); err != nil {
		watcher.Close()
		return nil, common.WrapError(err, "failed to watch config store")
	}

	go func() {
		for {
			select {
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				onChange()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				common.LogWarn("config store watcher: %v", err)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}

// copyFile copies a file with restrictive permissions. Bundles may contain
// private keys.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return common.WrapError(err, "failed to read source file")
	}
	if err := os.WriteFile(dst, data, 0600); err != nil {
		return common.WrapError(err, "failed to write destination file")
	}
	return nil
}
