package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/frame-export/config"
)

// resolveOutputPath returns path, or a fresh file name in the configured
// output directory when path is empty. "-" means stdout.
func resolveOutputPath(path, ext string) (string, error) {
	if path != "" {
		return path, nil
	}
	dir := config.GetOutputDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create output directory %s", dir)
	}
	return filepath.Join(dir, fmt.Sprintf("export-%s%s", uuid.NewString()[:8], ext)), nil
}

// writeOutput stores data at path, or on stdout for "-".
func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

func openOutput(path string) {
	if path == "-" {
		return
	}
	if err := browser.OpenFile(path); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", path, err)
	}
}
