package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// Validate performs business-rule validation on the loaded configuration.
// It must be called after loading; Load calls it automatically.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Paths.DataRoot == "" || c.Paths.LedgerDir == "" || c.Paths.BackupDir == "" {
		return fmt.Errorf("paths.data_root, paths.ledger_dir and paths.backup_dir are required")
	}

	if c.Import.WorkbookWorkers < 1 {
		return fmt.Errorf("import.workbook_workers must be >= 1 (got %d)", c.Import.WorkbookWorkers)
	}
	c.Import.DateLayouts = ParseList(c.Import.DateLayoutsRaw)

	if c.Session.LockRetries < 0 {
		return fmt.Errorf("session.lock_retries must be >= 0 (got %d)", c.Session.LockRetries)
	}
	if c.Session.LockBackoffInitial <= 0 || c.Session.LockBackoffMax < c.Session.LockBackoffInitial {
		return fmt.Errorf("session.lock_backoff_initial must be > 0 and <= lock_backoff_max (got %v, %v)",
			c.Session.LockBackoffInitial, c.Session.LockBackoffMax)
	}

	if err := c.Router.validate(); err != nil {
		return fmt.Errorf("router: %w", err)
	}
	if err := c.Backup.validate(); err != nil {
		return fmt.Errorf("backup: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("log.format must be json or text (got %q)", c.Log.Format)
	}

	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must be >= 0 (got %v)", c.Watch.Debounce)
	}

	return nil
}

func (r *RouterConfig) validate() error {
	seen := make(map[string]string, 3)
	for category, name := range r.Ledgers() {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%s_ledger is required", category)
		}
		if other, dup := seen[name]; dup {
			return fmt.Errorf("%s and %s share ledger %q", other, category, name)
		}
		seen[name] = category
	}
	if strings.TrimSpace(r.AnnotationHeader) == "" {
		return fmt.Errorf("annotation_header is required")
	}
	return nil
}

func (b *BackupConfig) validate() error {
	if b.Keep < 1 {
		return fmt.Errorf("keep must be >= 1 (got %d)", b.Keep)
	}
	switch b.Mirror {
	case MirrorNone:
	case MirrorFS:
		if b.MirrorDir == "" {
			return fmt.Errorf("mirror_dir is required for mirror %q", b.Mirror)
		}
	case MirrorS3:
		if b.S3Bucket == "" {
			return fmt.Errorf("s3_bucket is required for mirror %q", b.Mirror)
		}
	default:
		return fmt.Errorf("mirror must be one of none, fs, s3 (got %q)", b.Mirror)
	}
	return nil
}

// ParseList splits a comma-separated string into trimmed, non-empty items.
// An empty string returns a nil slice.
func ParseList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		items = append(items, p)
	}
	return items
}
