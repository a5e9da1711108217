package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cfdude/mcp-perplexity-pro/internal/fileutil"
)

// Report is a persisted research result. Content is markdown; metadata
// lives in a sidecar JSON file so listing does not read report bodies.
type Report struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	Query     string    `json:"query"`
	CreatedAt time.Time `json:"created_at"`
	Citations []string  `json:"citations,omitempty"`
}

func (s *Store) reportPath(id string) string {
	return filepath.Join(s.dir, "reports", id+".md")
}

func (s *Store) reportMetaPath(id string) string {
	return filepath.Join(s.dir, "reports", id+".meta.json")
}

// NewReportID returns a fresh opaque report id with a sortable date prefix.
func NewReportID() string {
	return time.Now().UTC().Format("20060102") + "-" + uuid.NewString()[:8]
}

// SaveReport persists a report's metadata and markdown content.
func (s *Store) SaveReport(report *Report, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if err := validateID(report.ID); err != nil {
		return err
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}

	return s.withLock(func() error {
		if err := fileutil.WriteFileAtomic(s.reportPath(report.ID), []byte(content), 0644); err != nil {
			return err
		}
		return fileutil.WriteJSONAtomic(s.reportMetaPath(report.ID), report, 0644)
	})
}

// GetReport loads a report's metadata and markdown content by id.
func (s *Store) GetReport(id string) (*Report, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, "", ErrStoreClosed
	}
	if err := validateID(id); err != nil {
		return nil, "", err
	}

	var report Report
	if err := fileutil.ReadJSON(s.reportMetaPath(id), &report); err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("report %s: %w", id, ErrNotFound)
		}
		return nil, "", err
	}

	content, err := os.ReadFile(s.reportPath(id))
	if err != nil {
		return nil, "", err
	}
	return &report, string(content), nil
}

// ListReports returns metadata for all reports, newest first.
func (s *Store) ListReports() ([]Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	entries, err := os.ReadDir(filepath.Join(s.dir, "reports"))
	if err != nil {
		return nil, err
	}

	reports := make([]Report, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".meta.json") {
			continue
		}

		var report Report
		if err := fileutil.ReadJSON(filepath.Join(s.dir, "reports", name), &report); err != nil {
			s.logger.Warn("skipping unreadable report metadata", "file", name, "error", err)
			continue
		}
		reports = append(reports, report)
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].CreatedAt.After(reports[j].CreatedAt)
	})
	return reports, nil
}
