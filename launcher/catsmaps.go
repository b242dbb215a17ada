package launcher

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
)

// catSmapsSource is run with java's single-file source launcher (JDK 11+)
// when no main class is configured.
//
//go:embed java/CatSmaps.java
var catSmapsSource []byte

const catSmapsFile = "CatSmaps.java"

// writeCatSmaps writes the bundled smaps dumper into dir and returns its path.
func writeCatSmaps(dir string) (string, error) {
	path := filepath.Join(dir, catSmapsFile)
	if err := os.WriteFile(path, catSmapsSource, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
