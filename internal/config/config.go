// Package config loads and persists the pipeline's INI configuration.
//
// The file doubles as the checkpoint store: the [binlog] section carries
// the replication offset the tailer resumes from, and the backfill
// trigger (init_time). Checkpoint writes rewrite the whole file through
// a temp-file rename so that concurrent readers always observe a
// complete image; ini.v1 preserves section order and comments across
// the rewrite.
package config

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// DefaultPath is where commands look for the configuration unless
// --config points elsewhere.
const DefaultPath = "config.ini"

// Defaults applied when the optional keys are absent.
const (
	DefaultCharset        = "utf8mb4"
	DefaultServerID       = 2001
	DefaultDelayThreshold = 300 * time.Second
	DefaultCheckInterval  = 60 * time.Second
)

// Source describes the MySQL replication source.
type Source struct {
	Host      string
	Port      int
	User      string
	Password  string
	Charset   string
	ServerID  uint32
	Databases []string
	Tables    []string
}

// Addr returns host:port for the replication and backfill connections.
func (s Source) Addr() string {
	return joinHostPort(s.Host, s.Port)
}

// Target describes the document store.
type Target struct {
	Host      string
	Port      int
	User      string
	Password  string
	IndexName string
}

// URL returns the store's base URL.
func (t Target) URL() string {
	return "http://" + joinHostPort(t.Host, t.Port)
}

// Binlog is the persisted checkpoint section. A non-empty InitTime means
// "backfill from this timestamp, then clear the field and tail".
type Binlog struct {
	LogFile  string
	LogPos   uint32
	InitTime string
}

// Log controls logging. An empty Path logs to stderr; otherwise output
// goes to a size-rotated file.
type Log struct {
	Level string
	Path  string
}

// Monitor configures the replication lag monitor.
type Monitor struct {
	DelayThreshold time.Duration
	CheckInterval  time.Duration
}

// Alert configures the webhook alert sink. An empty ToGroupKey disables
// the webhook; alerts then go to the log.
type Alert struct {
	ToGroupKey string
	ToUsers    []string
}

// Config is the full parsed configuration plus the path it came from.
type Config struct {
	Path    string
	Source  Source
	Target  Target
	Binlog  Binlog
	Log     Log
	Monitor Monitor
	Alert   Alert
}

// Load reads and validates the configuration file. Missing required keys
// are returned as errors; commands treat them as fatal at startup.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}

	src := f.Section("source")
	tgt := f.Section("target")
	bl := f.Section("binlog")
	lg := f.Section("log")
	mon := f.Section("monitor")
	al := f.Section("alert")

	cfg := &Config{
		Path: path,
		Source: Source{
			Host:      src.Key("host").String(),
			Port:      src.Key("port").MustInt(3306),
			User:      src.Key("user").String(),
			Password:  src.Key("password").String(),
			Charset:   src.Key("charset").MustString(DefaultCharset),
			ServerID:  uint32(src.Key("server_id").MustUint(DefaultServerID)),
			Databases: csv(src.Key("database").String()),
			Tables:    csv(src.Key("tables").String()),
		},
		Target: Target{
			Host:      tgt.Key("host").String(),
			Port:      tgt.Key("port").MustInt(9200),
			User:      tgt.Key("user").String(),
			Password:  tgt.Key("password").String(),
			IndexName: tgt.Key("index_name").String(),
		},
		Binlog: Binlog{
			LogFile:  bl.Key("log_file").String(),
			LogPos:   uint32(bl.Key("log_pos").MustUint(0)),
			InitTime: strings.TrimSpace(bl.Key("init_time").String()),
		},
		Log: Log{
			Level: lg.Key("level").MustString("info"),
			Path:  lg.Key("path").String(),
		},
		Monitor: Monitor{
			DelayThreshold: secondsOr(mon.Key("delay_threshold"), DefaultDelayThreshold),
			CheckInterval:  secondsOr(mon.Key("check_interval"), DefaultCheckInterval),
		},
		Alert: Alert{
			ToGroupKey: al.Key("to_group_key").String(),
			ToUsers:    csv(al.Key("to_user").String()),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	required := []struct {
		section, key, value string
	}{
		{"source", "host", c.Source.Host},
		{"source", "user", c.Source.User},
		{"target", "host", c.Target.Host},
		{"target", "index_name", c.Target.IndexName},
	}
	for _, r := range required {
		if r.value == "" {
			return errors.Errorf("config %s: [%s] %s is required", c.Path, r.section, r.key)
		}
	}
	if len(c.Source.Databases) == 0 {
		return errors.Errorf("config %s: [source] database is required", c.Path)
	}
	if len(c.Source.Tables) == 0 {
		return errors.Errorf("config %s: [source] tables is required", c.Path)
	}
	return nil
}

// SaveOffset rewrites the [binlog] section with the given offset and
// init_time (empty clears the backfill trigger). The rest of the file,
// including comments, is preserved; the write is a temp-file rename so
// readers never see a torn file.
func (c *Config) SaveOffset(logFile string, logPos uint32, initTime string) error {
	f, err := ini.Load(c.Path)
	if err != nil {
		return errors.Wrapf(err, "reload config %s", c.Path)
	}
	sec := f.Section("binlog")
	sec.Key("log_file").SetValue(logFile)
	sec.Key("log_pos").SetValue(strconv.FormatUint(uint64(logPos), 10))
	sec.Key("init_time").SetValue(initTime)

	tmp, err := os.CreateTemp(filepath.Dir(c.Path), ".config-*.ini")
	if err != nil {
		return errors.Wrap(err, "create checkpoint temp file")
	}
	tmpName := tmp.Name()
	if _, err := f.WriteTo(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "write checkpoint")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "flush checkpoint")
	}
	if err := os.Rename(tmpName, c.Path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "replace config %s", c.Path)
	}

	c.Binlog = Binlog{LogFile: logFile, LogPos: logPos, InitTime: initTime}
	return nil
}

func csv(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func secondsOr(k *ini.Key, def time.Duration) time.Duration {
	n, err := k.Int()
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
