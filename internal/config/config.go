package config

import (
	"path/filepath"
	"strings"
	"time"
)

// Config is the root application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Paths   PathsConfig   `yaml:"paths"`
	Import  ImportConfig  `yaml:"import"`
	Session SessionConfig `yaml:"session"`
	Router  RouterConfig  `yaml:"router"`
	Backup  BackupConfig  `yaml:"backup"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
	Watch   WatchConfig   `yaml:"watch"`
}

// StoreConfig holds embedded SQLite settings.
type StoreConfig struct {
	Path        string        `yaml:"path"         env:"STORE_PATH"         env-default:"./data/tumorboard.db"`
	BusyTimeout time.Duration `yaml:"busy_timeout" env:"STORE_BUSY_TIMEOUT" env-default:"5s"`
}

// PathsConfig holds the on-disk layout of workbooks.
//
// Session sources live at <data_root>/<entity>/sessions/<DD_MM_YYYY>.xlsx,
// collections at <data_root>/<entity>/<entity>_collection.xlsx.
type PathsConfig struct {
	DataRoot  string `yaml:"data_root"  env:"PATHS_DATA_ROOT"  env-default:"./data/entities"`
	LedgerDir string `yaml:"ledger_dir" env:"PATHS_LEDGER_DIR" env-default:"./data/ledgers"`
	BackupDir string `yaml:"backup_dir" env:"PATHS_BACKUP_DIR" env-default:"./data/backups"`
}

// ImportConfig holds Import/Sync Engine settings.
type ImportConfig struct {
	PruneMissing    bool   `yaml:"prune_missing"    env:"IMPORT_PRUNE_MISSING"    env-default:"false"`
	DateLayoutsRaw  string `yaml:"date_layouts"     env:"IMPORT_DATE_LAYOUTS"`
	WorkbookWorkers int    `yaml:"workbook_workers" env:"IMPORT_WORKBOOK_WORKERS" env-default:"4"`

	// DateLayouts is parsed from DateLayoutsRaw during validation.
	DateLayouts []string `yaml:"-" env:"-"`
}

// SessionConfig holds Session Lifecycle Manager settings.
type SessionConfig struct {
	Actor              string        `yaml:"actor"                env:"SESSION_ACTOR"                env-default:""`
	LockRetries        int           `yaml:"lock_retries"         env:"SESSION_LOCK_RETRIES"         env-default:"5"`
	LockBackoffInitial time.Duration `yaml:"lock_backoff_initial" env:"SESSION_LOCK_BACKOFF_INITIAL" env-default:"200ms"`
	LockBackoffMax     time.Duration `yaml:"lock_backoff_max"     env:"SESSION_LOCK_BACKOFF_MAX"     env-default:"5s"`
}

// RouterConfig holds Category Router settings. Ledger names are file names
// without extension inside paths.ledger_dir.
type RouterConfig struct {
	UrgentLedger     string `yaml:"urgent_ledger"     env:"ROUTER_URGENT_LEDGER"     env-default:"aufgebot_dringend"`
	SoonLedger       string `yaml:"soon_ledger"       env:"ROUTER_SOON_LEDGER"       env-default:"aufgebot_zeitnah"`
	RoutineLedger    string `yaml:"routine_ledger"    env:"ROUTER_ROUTINE_LEDGER"    env-default:"aufgebot_elektiv"`
	AnnotationHeader string `yaml:"annotation_header" env:"ROUTER_ANNOTATION_HEADER" env-default:"Notiz"`
}

// Ledgers maps call-priority category names to ledger file names.
func (c RouterConfig) Ledgers() map[string]string {
	return map[string]string{
		"urgent":  c.UrgentLedger,
		"soon":    c.SoonLedger,
		"routine": c.RoutineLedger,
	}
}

// BackupConfig holds backup and mirror settings.
type BackupConfig struct {
	Keep       int    `yaml:"keep"        env:"BACKUP_KEEP"        env-default:"10"`
	Mirror     string `yaml:"mirror"      env:"BACKUP_MIRROR"      env-default:"none"`
	MirrorDir  string `yaml:"mirror_dir"  env:"BACKUP_MIRROR_DIR"`
	S3Bucket   string `yaml:"s3_bucket"   env:"BACKUP_S3_BUCKET"`
	S3Prefix   string `yaml:"s3_prefix"   env:"BACKUP_S3_PREFIX"   env-default:"tumorboard/"`
	S3Region   string `yaml:"s3_region"   env:"BACKUP_S3_REGION"   env-default:"eu-central-1"`
	S3Endpoint string `yaml:"s3_endpoint" env:"BACKUP_S3_ENDPOINT"`

	// Static credentials; when empty the default AWS credential chain is used.
	S3AccessKeyID     string `yaml:"s3_access_key_id"     env:"BACKUP_S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key" env:"BACKUP_S3_SECRET_ACCESS_KEY"`
}

// Mirror kinds.
const (
	MirrorNone = "none"
	MirrorFS   = "fs"
	MirrorS3   = "s3"
)

// MetricsConfig holds metrics export settings. An empty textfile disables export.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" env:"METRICS_TEXTFILE"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
}

// WatchConfig holds collection watcher settings.
// Listen, when set, is the address of the status endpoints served while
// watching (e.g. "127.0.0.1:9102").
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce" env:"WATCH_DEBOUNCE" env-default:"2s"`
	Listen   string        `yaml:"listen"   env:"WATCH_LISTEN"`
}

// EntityDir returns the directory holding an entity's workbooks.
func (p PathsConfig) EntityDir(entity string) string {
	return filepath.Join(p.DataRoot, entity)
}

// SessionsDir returns the directory holding an entity's session sources.
func (p PathsConfig) SessionsDir(entity string) string {
	return filepath.Join(p.DataRoot, entity, "sessions")
}

// CollectionPath returns the path of an entity's collection workbook.
func (p PathsConfig) CollectionPath(entity string) string {
	return filepath.Join(p.DataRoot, entity, entity+"_collection.xlsx")
}

// LedgerPath returns the path of a category ledger workbook.
func (p PathsConfig) LedgerPath(name string) string {
	if !strings.HasSuffix(name, ".xlsx") {
		name += ".xlsx"
	}
	return filepath.Join(p.LedgerDir, name)
}
