//go:build silero

package silero

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// resolveORTLibPath returns the path to the ONNX Runtime shared library.
// Search order:
//  1. explicit path (WithLibraryPath)
//  2. EARSHOT_ORT_LIB_PATH environment variable
//  3. lib/<goos>-<goarch>/ relative to the executable
//  4. ../lib/<goos>-<goarch>/ relative to the executable (bin/ layout)
func resolveORTLibPath(explicit string) (string, error) {
	for _, p := range []string{explicit, os.Getenv("EARSHOT_ORT_LIB_PATH")} {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			return "", fmt.Errorf("ort: %q does not exist", p)
		}
		if info.IsDir() {
			return "", fmt.Errorf("ort: %q is a directory, expected a file", p)
		}
		return p, nil
	}

	filename := ortLibFilename()
	libRel := filepath.Join("lib", runtime.GOOS+"-"+runtime.GOARCH, filename)
	libRelParent := filepath.Join("..", "lib", runtime.GOOS+"-"+runtime.GOARCH, filename)

	if exePath, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exePath)
		for _, rel := range []string{libRel, libRelParent} {
			path := filepath.Join(exeDir, rel)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}

	return "", fmt.Errorf("ort: shared library not found; searched lib/<os>-<arch>/%s relative to executable (set EARSHOT_ORT_LIB_PATH to override)", filename)
}

// ortLibFilename returns the platform-specific ONNX Runtime library filename.
func ortLibFilename() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}
