// +build !darwin

package shell

import "os"

// shimSearchPath is a no-op on platforms without a library-injection
// restriction on system binary prefixes.
func shimSearchPath(env []string) (shadowDir string, newPath string, cleanup func() error) {
	return "", lookupPath(env), nil
}

func lookupPath(env []string) string {
	for _, e := range env {
		if len(e) > 5 && e[:5] == "PATH=" {
			return e[5:]
		}
	}
	return os.Getenv("PATH")
}
