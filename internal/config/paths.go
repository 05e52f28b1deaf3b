package config

import (
	"os"
	"path/filepath"
	"strings"
)

// FileName is the config file inside Dir.
const FileName = "node.yaml"

// Dir is the node's state directory: $NODEHOST_HOME, or ~/.nodehost.
func Dir() (string, error) {
	if d := os.Getenv("NODEHOST_HOME"); d != "" {
		return expandHome(d), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".nodehost"), nil
}

// Path is the config file path inside dir.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0700)
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

func expandAll(paths []string) []string {
	if paths == nil {
		return nil
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = expandHome(p)
	}
	return out
}
