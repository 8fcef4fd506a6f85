package compressor

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
)

// Extension is appended to the artifact name when compression is on.
const Extension = ".gz"

type Gzip struct {
	level int
}

// NewGzip returns a gzip compressor. A level of 0 means best compression.
func NewGzip(level int) *Gzip {
	if level == 0 {
		level = gzip.BestCompression
	}
	return &Gzip{level: level}
}

func (g *Gzip) Compress(sourcePath, destPath string) (err error) {
	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create dest file: %w", err)
	}
	defer func() {
		if cerr := dst.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close dest file: %w", cerr)
		}
		if err != nil {
			os.Remove(destPath)
		}
	}()

	zw, err := gzip.NewWriterLevel(dst, g.level)
	if err != nil {
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}

	if _, err := io.Copy(zw, src); err != nil {
		return fmt.Errorf("failed to compress: %w", err)
	}
	// Close flushes the footer; a dropped error here leaves a truncated archive.
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}

	return nil
}

func (g *Gzip) Decompress(sourcePath, destPath string) (err error) {
	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	zr, err := gzip.NewReader(src)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer zr.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create dest file: %w", err)
	}
	defer func() {
		if cerr := dst.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close dest file: %w", cerr)
		}
	}()

	if _, err := io.Copy(dst, zr); err != nil {
		return fmt.Errorf("failed to decompress: %w", err)
	}

	return nil
}
