// Package archive unpacks zipped order outputs into a flat directory.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Options control extraction
type Options struct {
	// Flatten drops the per-granule folders inside the archive
	Flatten bool
	// RemoveArchive deletes the zip after a successful extraction
	RemoveArchive bool
}

// IsZip reports whether name looks like a zip archive
func IsZip(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".zip")
}

// Extract unpacks the archive at src into dest and returns the written
// paths. Entries that would escape dest are rejected.
func Extract(src, dest string, opts Options) ([]string, error) {
	r, err := zip.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0755); err != nil {
		return nil, err
	}

	var written []string
	seen := make(map[string]bool)
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rel, err := entryPath(f.Name, opts.Flatten)
		if err != nil {
			return written, err
		}
		if seen[rel] {
			return written, fmt.Errorf("%s: duplicate entry %s after flattening", src, rel)
		}
		seen[rel] = true

		target := filepath.Join(dest, rel)
		if err := extractFile(f, target); err != nil {
			return written, err
		}
		written = append(written, target)
	}

	if opts.RemoveArchive {
		r.Close()
		if err := os.Remove(src); err != nil {
			return written, fmt.Errorf("failed to remove %s: %w", src, err)
		}
	}
	return written, nil
}

func entryPath(name string, flatten bool) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return "", fmt.Errorf("unsafe archive entry %q", name)
		}
	}
	clean := path.Clean(strings.TrimLeft(name, "/"))
	if clean == "." {
		return "", fmt.Errorf("unsafe archive entry %q", name)
	}
	if flatten {
		return path.Base(clean), nil
	}
	return filepath.FromSlash(clean), nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	return out.Close()
}
