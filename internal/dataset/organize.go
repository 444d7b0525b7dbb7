package dataset

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// NumGrades is the number of class folders created up front.
const NumGrades = 5

// Split describes one spreadsheet and where its images come from and go.
type Split struct {
	Name      string
	Labels    string
	Images    string
	Output    string
	Extension string
	Columns   Columns
}

type Report struct {
	Copied  int
	Skipped int
}

// Organize copies every labeled image of the split into
// <Output>/<grade>/<id><ext>. Rows whose image is missing are skipped.
// Existing copies are overwritten; nothing is rolled back on failure.
func Organize(ctx context.Context, split Split) (Report, error) {
	var report Report

	ext := split.Extension
	if ext == "" {
		ext = ".jpg"
	}

	for grade := 0; grade < NumGrades; grade++ {
		if err := os.MkdirAll(filepath.Join(split.Output, strconv.Itoa(grade)), 0o755); err != nil {
			return report, fmt.Errorf("failed to create class folder: %w", err)
		}
	}

	labels, err := ReadLabels(split.Labels, split.Columns)
	if err != nil {
		return report, err
	}

	for _, l := range labels {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		name := l.ID + ext
		src := filepath.Join(split.Images, name)
		if _, err := os.Stat(src); err != nil {
			report.Skipped++
			continue
		}

		dstDir := filepath.Join(split.Output, strconv.Itoa(l.Grade))
		if err := os.MkdirAll(dstDir, 0o755); err != nil {
			return report, fmt.Errorf("failed to create class folder: %w", err)
		}
		if err := copyFile(src, filepath.Join(dstDir, name)); err != nil {
			return report, fmt.Errorf("failed to copy %s: %w", src, err)
		}
		report.Copied++
	}
	return report, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
