// Package archive unpacks the compressed tar archives published for HPD and
// concatenates their contents into one file.
//
// The archives use the Unix compress (.Z) format, which has no maintained Go
// decoder; extraction pipes `zcat` into `tar` as subprocesses. zcat also
// accepts gzip input.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// Unpacker implements pipeline.Archive with zcat and tar.
type Unpacker struct {
	zcat   string
	tar    string
	logger *slog.Logger
}

// NewUnpacker creates an Unpacker using zcat and tar from PATH.
func NewUnpacker(logger *slog.Logger) *Unpacker {
	return &Unpacker{zcat: "zcat", tar: "tar", logger: logger}
}

// Extract unpacks every file in srcDir into dstDir. Extraction stops at the
// first archive that fails.
func (u *Unpacker) Extract(ctx context.Context, srcDir, dstDir string) error {
	files, err := regularFiles(srcDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dstDir, err)
	}

	for _, f := range files {
		u.logger.Debug("extracting archive", "file", f, "dir", dstDir)
		if err := u.extractOne(ctx, f, dstDir); err != nil {
			return fmt.Errorf("extract %s: %w", filepath.Base(f), err)
		}
	}
	return nil
}

func (u *Unpacker) extractOne(ctx context.Context, file, dstDir string) error {
	var zcatErr, tarErr bytes.Buffer

	decompress := exec.CommandContext(ctx, u.zcat, file)
	decompress.Stderr = &zcatErr
	untar := exec.CommandContext(ctx, u.tar, "-xf", "-", "-C", dstDir)
	untar.Stderr = &tarErr

	pipe, err := decompress.StdoutPipe()
	if err != nil {
		return err
	}
	untar.Stdin = pipe

	if err := decompress.Start(); err != nil {
		return fmt.Errorf("start %s: %w", u.zcat, err)
	}
	if err := untar.Run(); err != nil {
		_ = decompress.Wait()
		return fmt.Errorf("%s: %w: %s", u.tar, err, strings.TrimSpace(tarErr.String()))
	}
	if err := decompress.Wait(); err != nil {
		return fmt.Errorf("%s: %w: %s", u.zcat, err, strings.TrimSpace(zcatErr.String()))
	}
	return nil
}

// Combine truncates dstPath and appends every file of srcDir to it in name
// order. A newline is inserted after any file that does not end with one so
// lines from adjacent files never merge.
func (u *Unpacker) Combine(srcDir, dstPath string) error {
	files, err := regularFiles(srcDir)
	if err != nil {
		return err
	}

	out, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", dstPath, err)
	}

	for _, f := range files {
		if err := appendFile(out, f); err != nil {
			out.Close() //nolint:errcheck // already failing
			return fmt.Errorf("append %s: %w", filepath.Base(f), err)
		}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dstPath, err)
	}
	u.logger.Debug("combined files", "files", len(files), "path", dstPath)
	return nil
}

func appendFile(w io.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if data[len(data)-1] != '\n' {
		_, err = w.Write([]byte{'\n'})
	}
	return err
}

// regularFiles lists the non-directory entries of dir, sorted by name.
func regularFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
