package server

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pathviewer/wsiview/dicomweb"
	"github.com/pathviewer/wsiview/storage"
	"github.com/pathviewer/wsiview/wsi"
)

const (
	// DefaultWebAddress is the default URL of the wsiview web server
	DefaultWebAddress = "localhost:8000"

	// DefaultShutdownDelay is the default seconds to wait for in-flight requests on shutdown.
	DefaultShutdownDelay = 5

	// ProxyTiles has the server fetch frames and return the pixels.
	ProxyTiles = "proxy"

	// DirectTiles redirects tile requests to the DICOMweb frame URL.
	DirectTiles = "direct"
)

var (
	// DefaultHost is the default most understandable alias for this server.
	DefaultHost = "localhost"

	// the parsed TOML configuration data
	tc tomlConfig

	// the TOML config file location
	tcLocation string

	// the TOML config raw contents
	tcContent string
)

func init() {
	if host, err := os.Hostname(); err != nil {
		wsi.Errorf("Unable to get default Host name: %v\n", err)
		wsi.Errorf("Using 'localhost' as default Host name.\n")
	} else {
		DefaultHost = host
	}
	tc = defaultConfig()
}

type tomlConfig struct {
	Server   serverConfig
	Auth     authConfig
	Logging  wsi.LogConfig
	DicomWeb dicomweb.Config `toml:"dicomweb"`
	Pyramid  pyramidConfig
	Cache    cacheConfig
	Archive  archiveConfig
	Kafka    storage.KafkaConfig
}

type serverConfig struct {
	HTTPAddress        string   `toml:"httpAddress"`
	Host               string   `toml:"host"`
	Note               string   `toml:"note"`
	CorsDomains        []string `toml:"corsDomains"`
	ShutdownDelay      int      `toml:"shutdownDelay"`
	TileMode           string   `toml:"tileMode"`
	SessionIdleMinutes int      `toml:"sessionIdleMinutes"`
}

type pyramidConfig struct {
	LastWriteWins bool `toml:"last_write_wins"`
}

type cacheConfig struct {
	MetadataMB int `toml:"metadata_mb"`
	TTLSeconds int `toml:"ttl_seconds"`
}

type archiveConfig struct {
	Bucket      string `toml:"bucket"`
	Compression string `toml:"compression"`
	ReadThrough bool   `toml:"read_through"`
}

func defaultConfig() tomlConfig {
	var c tomlConfig
	c.Server.HTTPAddress = DefaultWebAddress
	c.Server.ShutdownDelay = DefaultShutdownDelay
	c.Server.TileMode = ProxyTiles
	return c
}

// Some settings in the TOML can be given as relative paths.
// This function converts them in-place to absolute paths,
// assuming the given paths were relative to the TOML file's own directory.
func (c *tomlConfig) convertPathsToAbsolute(configPath string) error {
	var err error

	configDir := filepath.Dir(configPath)

	// [logging].logfile
	if c.Logging.Logfile != "" {
		c.Logging.Logfile, err = wsi.ConvertToAbsolute(c.Logging.Logfile, configDir)
		if err != nil {
			return fmt.Errorf("Error converting logfile setting to absolute path")
		}
	}

	// [auth].auth_file
	if c.Auth.AuthFile != "" {
		c.Auth.AuthFile, err = wsi.ConvertToAbsolute(c.Auth.AuthFile, configDir)
		if err != nil {
			return fmt.Errorf("Error converting auth_file setting to absolute path")
		}
	}

	// [dicomweb].credentials_file
	if c.DicomWeb.CredentialsFile != "" {
		c.DicomWeb.CredentialsFile, err = wsi.ConvertToAbsolute(c.DicomWeb.CredentialsFile, configDir)
		if err != nil {
			return fmt.Errorf("Error converting credentials_file setting to absolute path")
		}
	}

	// [archive].bucket for local file buckets
	if strings.HasPrefix(c.Archive.Bucket, "file://") {
		dir := strings.TrimPrefix(c.Archive.Bucket, "file://")
		dir, err = wsi.ConvertToAbsolute(dir, configDir)
		if err != nil {
			return fmt.Errorf("Error converting archive bucket to absolute path")
		}
		c.Archive.Bucket = "file://" + dir
	}
	return nil
}

// validate checks settings that can't be checked by TOML decoding.
func (c *tomlConfig) validate() error {
	switch c.Server.TileMode {
	case "":
		c.Server.TileMode = ProxyTiles
	case ProxyTiles, DirectTiles:
	default:
		return fmt.Errorf("tileMode must be %q or %q, not %q", ProxyTiles, DirectTiles, c.Server.TileMode)
	}
	if _, err := c.DicomWeb.Mode(); err != nil {
		return err
	}
	if _, err := wsi.ParseCompression(c.Archive.Compression); err != nil {
		return err
	}
	if c.Cache.MetadataMB < 0 {
		return fmt.Errorf("[cache] metadata_mb must be non-negative")
	}
	return nil
}

// LoadConfig loads wsiview server configuration from a TOML file.
func LoadConfig(filename string) error {
	if filename == "" {
		return fmt.Errorf("no server TOML configuration file provided")
	}
	fp, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer fp.Close()
	byteContents, err := io.ReadAll(fp)
	if err != nil {
		return err
	}
	c := defaultConfig()
	if _, err := toml.Decode(string(byteContents), &c); err != nil {
		return fmt.Errorf("could not decode TOML config: %v", err)
	}
	if err := c.convertPathsToAbsolute(filename); err != nil {
		return fmt.Errorf("could not convert relative paths to absolute paths in TOML config: %v", err)
	}
	if err := c.validate(); err != nil {
		return fmt.Errorf("bad TOML config %s: %v", filename, err)
	}
	tc = c
	tcLocation = filename
	tcContent = string(byteContents)
	wsi.Debugf("tomlConfig: %v\n", tc)
	return nil
}

// SetHTTPAddress overrides the configured web address if non-empty.
func SetHTTPAddress(address string) {
	if address != "" {
		tc.Server.HTTPAddress = address
	}
}

// Host returns the most understandable host alias + any port.
func Host() string {
	host := tc.Server.Host
	if host == "" {
		host = DefaultHost
	}
	parts := strings.Split(tc.Server.HTTPAddress, ":")
	if len(parts) > 1 {
		host = host + ":" + parts[len(parts)-1]
	}
	return host
}

func ConfigLocation() string {
	return tcLocation
}

func Note() string {
	return tc.Server.Note
}

func HTTPAddress() string {
	return tc.Server.HTTPAddress
}

func TileMode() string {
	return tc.Server.TileMode
}

// LogConfig returns the [logging] settings.
func LogConfig() wsi.LogConfig {
	return tc.Logging
}

// DicomWebConfig returns the [dicomweb] settings.
func DicomWebConfig() dicomweb.Config {
	return tc.DicomWeb
}

// KafkaConfig returns the [kafka] settings.
func KafkaConfig() storage.KafkaConfig {
	return tc.Kafka
}

// KafkaAvailable returns true if kafka servers are configured.
func KafkaAvailable() bool {
	return len(tc.Kafka.Servers) != 0
}

// MetadataCacheSize returns the number of bytes reserved for the metadata cache.
// If unset, will return 0.
func MetadataCacheSize() int {
	return tc.Cache.MetadataMB * wsi.Mega
}
