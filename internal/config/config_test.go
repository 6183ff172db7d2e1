package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `# pipeline configuration
[source]
host = db1.internal
port = 3307
user = repl
password = secret
database = workorder
tables = tb_workorderinfo, tb_workcarinfo
charset = utf8mb4
server_id = 4001

[target]
host = es1.internal
port = 9200
user = elastic
password = espw
index_name = workorder

[binlog]
log_file = mysql-bin.000042
log_pos = 1337
init_time = 2024-01-01 00:00:00

[log]
level = debug

[monitor]
delay_threshold = 600
check_interval = 30

[alert]
to_group_key = abc123
to_user = 13800000001, 13800000002
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.ini")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := cfg.Source.Addr(); got != "db1.internal:3307" {
		t.Errorf("Source.Addr() = %q, want db1.internal:3307", got)
	}
	if cfg.Source.ServerID != 4001 {
		t.Errorf("ServerID = %d, want 4001", cfg.Source.ServerID)
	}
	if len(cfg.Source.Tables) != 2 || cfg.Source.Tables[1] != "tb_workcarinfo" {
		t.Errorf("Tables = %v, want trimmed two-element list", cfg.Source.Tables)
	}
	if got := cfg.Target.URL(); got != "http://es1.internal:9200" {
		t.Errorf("Target.URL() = %q", got)
	}
	if cfg.Binlog.LogFile != "mysql-bin.000042" || cfg.Binlog.LogPos != 1337 {
		t.Errorf("Binlog = %+v", cfg.Binlog)
	}
	if cfg.Binlog.InitTime != "2024-01-01 00:00:00" {
		t.Errorf("InitTime = %q", cfg.Binlog.InitTime)
	}
	if cfg.Monitor.DelayThreshold != 600*time.Second {
		t.Errorf("DelayThreshold = %v", cfg.Monitor.DelayThreshold)
	}
	if cfg.Monitor.CheckInterval != 30*time.Second {
		t.Errorf("CheckInterval = %v", cfg.Monitor.CheckInterval)
	}
	if len(cfg.Alert.ToUsers) != 2 || cfg.Alert.ToUsers[0] != "13800000001" {
		t.Errorf("ToUsers = %v", cfg.Alert.ToUsers)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestLoadDefaults(t *testing.T) {
	minimal := `[source]
host = db
user = repl
database = workorder
tables = tb_workorderinfo

[target]
host = es
index_name = workorder
`
	cfg, err := Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source.Port != 3306 {
		t.Errorf("default source port = %d", cfg.Source.Port)
	}
	if cfg.Source.Charset != DefaultCharset {
		t.Errorf("default charset = %q", cfg.Source.Charset)
	}
	if cfg.Source.ServerID != DefaultServerID {
		t.Errorf("default server_id = %d", cfg.Source.ServerID)
	}
	if cfg.Target.Port != 9200 {
		t.Errorf("default target port = %d", cfg.Target.Port)
	}
	if cfg.Monitor.DelayThreshold != DefaultDelayThreshold {
		t.Errorf("default delay_threshold = %v", cfg.Monitor.DelayThreshold)
	}
	if cfg.Monitor.CheckInterval != DefaultCheckInterval {
		t.Errorf("default check_interval = %v", cfg.Monitor.CheckInterval)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default log level = %q", cfg.Log.Level)
	}
	if cfg.Binlog.InitTime != "" {
		t.Errorf("InitTime = %q, want empty", cfg.Binlog.InitTime)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "no source host",
			content: "[source]\nuser = repl\ndatabase = d\ntables = t\n[target]\nhost = es\nindex_name = i\n",
			want:    "[source] host",
		},
		{
			name:    "no index name",
			content: "[source]\nhost = db\nuser = repl\ndatabase = d\ntables = t\n[target]\nhost = es\n",
			want:    "[target] index_name",
		},
		{
			name:    "no tables",
			content: "[source]\nhost = db\nuser = repl\ndatabase = d\n[target]\nhost = es\nindex_name = i\n",
			want:    "[source] tables",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			if err == nil {
				t.Fatal("Load succeeded, want error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestSaveOffset(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := cfg.SaveOffset("mysql-bin.000099", 4096, ""); err != nil {
		t.Fatalf("SaveOffset: %v", err)
	}
	if cfg.Binlog.LogFile != "mysql-bin.000099" || cfg.Binlog.LogPos != 4096 || cfg.Binlog.InitTime != "" {
		t.Errorf("in-memory Binlog not updated: %+v", cfg.Binlog)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Binlog.LogFile != "mysql-bin.000099" {
		t.Errorf("persisted log_file = %q", reloaded.Binlog.LogFile)
	}
	if reloaded.Binlog.LogPos != 4096 {
		t.Errorf("persisted log_pos = %d", reloaded.Binlog.LogPos)
	}
	if reloaded.Binlog.InitTime != "" {
		t.Errorf("persisted init_time = %q, want cleared", reloaded.Binlog.InitTime)
	}

	// The rewrite must not clobber unrelated sections.
	if reloaded.Source.Host != "db1.internal" || reloaded.Alert.ToGroupKey != "abc123" {
		t.Errorf("unrelated sections changed: source=%+v alert=%+v", reloaded.Source, reloaded.Alert)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(raw), "pipeline configuration") {
		t.Error("rewrite dropped the file comment")
	}
}
