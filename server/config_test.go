package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pathviewer/wsiview/dicomweb"
)

const testConfig = `
[server]
httpAddress = "localhost:9000"
host = "viewer.example.org"
note = "test server"
corsDomains = ["https://viewer.example.org"]
tileMode = "direct"
sessionIdleMinutes = 30

[auth]
secret_key = "not so secret"
auth_file = "users.json"

[logging]
logfile = "logs/wsiview.log"
max_log_size = 10
max_log_age = 7

[dicomweb]
base_url = "http://localhost:8080/v1"
project = "p"
credentials_file = "creds.json"
metadata_mode = "wado"
timeout_seconds = 20

[pyramid]
last_write_wins = true

[cache]
metadata_mb = 16
ttl_seconds = 600

[archive]
bucket = "file://archive"
compression = "zstd"
read_through = true

[kafka]
servers = ["localhost:9092"]
topic_activity = "wsiview-activity"
`

func writeConfig(t *testing.T, contents string) string {
	dir := t.TempDir()
	filename := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(filename, []byte(contents), 0644); err != nil {
		t.Fatalf("unable to write test config: %v\n", err)
	}
	return filename
}

func TestLoadConfig(t *testing.T) {
	defer func() { tc = defaultConfig() }()

	filename := writeConfig(t, testConfig)
	if err := LoadConfig(filename); err != nil {
		t.Fatalf("unable to load config: %v\n", err)
	}
	dir := filepath.Dir(filename)
	if ConfigLocation() != filename {
		t.Errorf("bad config location: %s\n", ConfigLocation())
	}
	if HTTPAddress() != "localhost:9000" || Host() != "viewer.example.org:9000" || Note() != "test server" {
		t.Errorf("bad server settings: %s, %s, %s\n", HTTPAddress(), Host(), Note())
	}
	if TileMode() != DirectTiles || tc.Server.SessionIdleMinutes != 30 || len(tc.Server.CorsDomains) != 1 {
		t.Errorf("bad server settings: %+v\n", tc.Server)
	}
	if tc.Server.ShutdownDelay != DefaultShutdownDelay {
		t.Errorf("expected default shutdown delay, got %d\n", tc.Server.ShutdownDelay)
	}
	if !AuthRequired() || tc.Auth.AuthFile != filepath.Join(dir, "users.json") {
		t.Errorf("bad auth settings: %+v\n", tc.Auth)
	}
	logCfg := LogConfig()
	if logCfg.Logfile != filepath.Join(dir, "logs/wsiview.log") || logCfg.MaxSize != 10 || logCfg.MaxAge != 7 {
		t.Errorf("bad logging settings: %+v\n", logCfg)
	}
	dwc := DicomWebConfig()
	if mode, _ := dwc.Mode(); mode != dicomweb.WADOMode {
		t.Errorf("expected wado metadata mode, got %s\n", dwc.MetadataMode)
	}
	if dwc.Project != "p" || dwc.CredentialsFile != filepath.Join(dir, "creds.json") || dwc.TimeoutSeconds != 20 {
		t.Errorf("bad dicomweb settings: %+v\n", dwc)
	}
	if !tc.Pyramid.LastWriteWins {
		t.Errorf("expected last_write_wins to be set\n")
	}
	if MetadataCacheSize() != 16<<20 || tc.Cache.TTLSeconds != 600 {
		t.Errorf("bad cache settings: %+v\n", tc.Cache)
	}
	if tc.Archive.Bucket != "file://"+filepath.Join(dir, "archive") || !tc.Archive.ReadThrough {
		t.Errorf("bad archive settings: %+v\n", tc.Archive)
	}
	if !KafkaAvailable() || KafkaConfig().TopicActivity != "wsiview-activity" {
		t.Errorf("bad kafka settings: %+v\n", KafkaConfig())
	}

	SetHTTPAddress("")
	if HTTPAddress() != "localhost:9000" {
		t.Errorf("empty address should not override config\n")
	}
	SetHTTPAddress(":7000")
	if HTTPAddress() != ":7000" {
		t.Errorf("address override failed: %s\n", HTTPAddress())
	}
}

func TestBadConfig(t *testing.T) {
	defer func() { tc = defaultConfig() }()

	if err := LoadConfig(""); err == nil {
		t.Errorf("expected error with no config file\n")
	}
	if err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Errorf("expected error with missing config file\n")
	}
	bad := map[string]string{
		"syntax":      "[server\nhttpAddress = 1",
		"tile mode":   "[server]\ntileMode = \"sideways\"",
		"metadata":    "[dicomweb]\nmetadata_mode = \"bulk\"",
		"compression": "[archive]\ncompression = \"lz4\"",
		"cache size":  "[cache]\nmetadata_mb = -1",
	}
	for name, contents := range bad {
		if err := LoadConfig(writeConfig(t, contents)); err == nil {
			t.Errorf("expected error for bad %s config\n", name)
		}
	}
	if TileMode() != ProxyTiles {
		t.Errorf("failed config load should leave defaults, got tile mode %q\n", TileMode())
	}
}
