// Package intentguard holds application-wide defaults shared by the config loader,
// the CLI and the runtime.
package intentguard

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName = "intentguard"

	// DefaultCacheDir is the result cache root, relative to the working directory.
	DefaultCacheDir = ".intentguard"

	DefaultQuorumSize  = 3
	DefaultModel       = "IntentGuard-1"
	DefaultTemperature = 0.4

	// Managed runtime artifacts.
	DefaultBinaryFile   = "llamafile.exe"
	DefaultBinaryURL    = "https://github.com/Mozilla-Ocho/llamafile/releases/download/0.8.17/llamafile-0.8.17"
	DefaultBinarySHA256 = "1041e05b2c254674e03c66052b1a6cf646e8b15ebd29a195c77fed92cac60d6b"
	DefaultModelFile    = "IntentGuard-1.Q8_0.gguf"
	DefaultModelURL     = "https://huggingface.co/kdunee/IntentGuard-1/resolve/main/IntentGuard-1.Q8_0.gguf"

	DefaultContextSize = 8192
)

// DefaultConfigPath is the per-user configuration directory.
var DefaultConfigPath = filepath.Join(userConfigDir(), DefaultAppName)

// DefaultStorageDir is where runtime artifacts (server binary, model weights) are kept.
var DefaultStorageDir = filepath.Join(userCacheDir(), DefaultAppName)

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return "."
}

func userCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir
	}
	return os.TempDir()
}
