package ingest

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/WessleyAI/crisis-mvp/engine/domain"
)

// Supported image extensions, matched case-insensitively.
var imageExts = []string{".jpg", ".jpeg", ".png"}

var (
	errBlankLine     = errors.New("blank line")
	errBadTimestamp  = errors.New("first tab field is not an RFC3339 timestamp")
	errEmptyLineText = errors.New("empty text field")
)

// ParseLine turns one log line into a LogRecord. Accepted forms:
//
//	text
//	RFC3339<TAB>text
//	RFC3339<TAB>location<TAB>text
func ParseLine(file string, lineNo int, line string) (domain.LogRecord, error) {
	rec := domain.LogRecord{
		ID:   fmt.Sprintf("%s#L%d", filepath.Base(file), lineNo),
		Role: domain.RoleSystemReport,
	}
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return rec, errBlankLine
	}
	if !strings.Contains(line, "\t") {
		rec.Text = strings.TrimSpace(line)
		return rec, nil
	}

	fields := strings.SplitN(line, "\t", 3)
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(fields[0]))
	if err != nil {
		return rec, errBadTimestamp
	}
	rec.SourceTimestamp = &ts
	switch len(fields) {
	case 2:
		rec.Text = strings.TrimSpace(fields[1])
	case 3:
		rec.Location = strings.TrimSpace(fields[1])
		rec.Text = strings.TrimSpace(fields[2])
	}
	if rec.Text == "" {
		return rec, errEmptyLineText
	}
	return rec, nil
}

// readLog parses every line of path. Blank and malformed lines are counted
// in skipped and never abort the read.
func readLog(path string) (records []domain.LogRecord, read, skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("ingest: open log %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		read++
		rec, perr := ParseLine(path, read, sc.Text())
		if perr != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return records, read, skipped, fmt.Errorf("ingest: read log %s: %w", path, err)
	}
	return records, read, skipped, nil
}

// IsImage reports whether name has a supported image extension.
func IsImage(name string) bool {
	return slices.Contains(imageExts, strings.ToLower(filepath.Ext(name)))
}

// Caption derives a readable description from an image filename:
// "guwahati_flood-zoo_road.jpg" becomes "guwahati flood zoo road".
func Caption(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.Join(strings.Fields(base), " ")
}

// listImages returns the supported images in dir sorted by filename.
func listImages(dir string) ([]domain.ImageRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ingest: read image dir %s: %w", dir, err)
	}
	var out []domain.ImageRecord
	for _, e := range entries {
		if e.IsDir() || !IsImage(e.Name()) {
			continue
		}
		out = append(out, domain.ImageRecord{
			ID:       e.Name(),
			FilePath: filepath.Join(dir, e.Name()),
			Caption:  Caption(e.Name()),
		})
	}
	return out, nil
}
