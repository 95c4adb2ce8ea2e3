// +build darwin

package shell

import (
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// sipProtectedPrefixes are the directories macOS System Integrity
// Protection forbids library injection into.
var sipProtectedPrefixes = []string{"/bin", "/sbin", "/usr/bin", "/usr/sbin"}

// shimSearchPath materializes a shadow directory holding copies of the
// binaries under SIP-protected prefixes so the SOCKS-wrapper's library
// injection can still intercept them, and prepends it to PATH.
// Best-effort: files that fail to read are skipped, not fatal.
func shimSearchPath(env []string) (shadowDir string, newPath string, cleanup func() error) {
	originalPath := lookupPath(env)

	dir, err := os.MkdirTemp("", "kubeshell-shim-"+uuid.NewString())
	if err != nil {
		return "", originalPath, nil
	}

	for _, prefix := range sipProtectedPrefixes {
		entries, err := os.ReadDir(prefix)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			src := filepath.Join(prefix, entry.Name())
			dst := filepath.Join(dir, entry.Name())
			if err := copyExecutable(src, dst); err != nil {
				continue
			}
		}
	}

	newPath = dir + ":" + originalPath
	cleanup = func() error {
		return os.RemoveAll(dir)
	}
	return dir, newPath, cleanup
}

func copyExecutable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Chmod(0o755)
}

func lookupPath(env []string) string {
	for _, e := range env {
		if len(e) > 5 && e[:5] == "PATH=" {
			return e[5:]
		}
	}
	return os.Getenv("PATH")
}
