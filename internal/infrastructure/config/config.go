package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for mwha2mqtt.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Serial    *SerialConfig   `yaml:"serial"`
	TCP       *TCPConfig      `yaml:"tcp"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Amp       AmpConfig       `yaml:"amp"`
	Shairport ShairportConfig `yaml:"shairport"`
	History   HistoryConfig   `yaml:"history"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// validBaudRates are the rates the amplifier supports on its RS232 port.
var validBaudRates = []int{9600, 19200, 38400, 57600, 115200, 230400}

// SerialConfig connects the daemon to a local RS232 device.
// Exactly one of serial or tcp must be configured.
type SerialConfig struct {
	// Device is the serial device path, e.g. /dev/ttyUSB0.
	Device string `yaml:"device"`

	// Baud is either "auto" (probe all supported rates) or a fixed
	// rate to probe exclusively.
	Baud string `yaml:"baud"`

	// AdjustBaud selects the rate to move the amp to after detection:
	// "off" (stay at the detected rate), "max" (highest supported), or
	// a specific rate.
	AdjustBaud string `yaml:"adjust_baud"`

	// ResetBaud restores the detected rate at shutdown so the next
	// startup converges quickly.
	ResetBaud bool `yaml:"reset_baud"`

	// ReadTimeoutMS is the per-read timeout in milliseconds.
	ReadTimeoutMS int `yaml:"read_timeout_ms"`
}

// TCPConfig connects the daemon to a remote serial server (ser2net in
// raw mode, or the amp emulator). Baud control is left to the remote end.
type TCPConfig struct {
	// Address is the host:port of the serial server.
	Address string `yaml:"address"`

	// ReadTimeoutMS is the per-read timeout in milliseconds.
	ReadTimeoutMS int `yaml:"read_timeout_ms"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// AmpConfig describes the amplifier stack and its poll cadence.
type AmpConfig struct {
	// PollIntervalMS is the delay between poll rounds in milliseconds.
	PollIntervalMS int `yaml:"poll_interval_ms"`

	// Metadata published under status/amp at startup.
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`
	Serial       string `yaml:"serial"`

	// Sources maps source IDs 1-6 to their metadata.
	Sources map[int]SourceConfig `yaml:"sources"`

	// Zones maps two-digit zone IDs ("11".."36", amp zones "10".."30",
	// system zone "00") to their metadata. Physical zone entries decide
	// which amps are polled.
	Zones map[string]ZoneConfig `yaml:"zones"`
}

// SourceConfig describes one input source.
type SourceConfig struct {
	Name    string `yaml:"name"`
	Enabled bool   `yaml:"enabled"`

	// VolumeTopic is an optional Shairport-Sync volume topic to follow
	// for zones listening to this source.
	VolumeTopic string `yaml:"volume_topic"`
}

// ZoneConfig describes one configured zone. Virtual zones (amp, system)
// carry only a name.
type ZoneConfig struct {
	Name string `yaml:"name"`

	// MaxVolume and VolumeOffset override the global shairport volume
	// mapping for this zone. Nil falls back to the shairport section.
	MaxVolume    *int `yaml:"max_volume"`
	VolumeOffset *int `yaml:"volume_offset"`
}

// ShairportConfig holds the global AirPlay volume mapping defaults.
type ShairportConfig struct {
	// MaxZoneVolume is the zone volume an AirPlay volume of 0 dB maps
	// to, before the offset is applied. Range 0-38.
	MaxZoneVolume int `yaml:"max_zone_volume"`

	// ZoneVolumeOffset is added after scaling.
	ZoneVolumeOffset int `yaml:"zone_volume_offset"`
}

// HistoryConfig contains the SQLite attribute history settings.
type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	WALMode       bool   `yaml:"wal_mode"`
	BusyTimeout   int    `yaml:"busy_timeout"`
	RetentionDays int    `yaml:"retention_days"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MWHA_SECTION_KEY
// For example: MWHA_SERIAL_DEVICE, MWHA_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if !strings.HasSuffix(cfg.MQTT.TopicPrefix, "/") {
		cfg.MQTT.TopicPrefix += "/"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "mwha2mqtt",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			TopicPrefix: "mwha/",
		},
		Amp: AmpConfig{
			PollIntervalMS: 500,
			Manufacturer:   "Monoprice",
			Model:          "MPR-6ZHMAUT",
		},
		Shairport: ShairportConfig{
			MaxZoneVolume: 38,
		},
		History: HistoryConfig{
			Path:          "./data/mwha2mqtt.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MWHA_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Serial
	if v := os.Getenv("MWHA_SERIAL_DEVICE"); v != "" {
		if cfg.Serial == nil {
			cfg.Serial = &SerialConfig{Baud: "auto", AdjustBaud: "max", ResetBaud: true, ReadTimeoutMS: 1000}
		}
		cfg.Serial.Device = v
	}

	// MQTT
	if v := os.Getenv("MWHA_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MWHA_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MWHA_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("MWHA_MQTT_TOPIC_PREFIX"); v != "" {
		cfg.MQTT.TopicPrefix = v
	}

	// History
	if v := os.Getenv("MWHA_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}

	// InfluxDB
	if v := os.Getenv("MWHA_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Transport validation: exactly one of serial or tcp.
	switch {
	case c.Serial == nil && c.TCP == nil:
		errs = append(errs, "one of serial or tcp is required")
	case c.Serial != nil && c.TCP != nil:
		errs = append(errs, "serial and tcp are mutually exclusive")
	}

	if c.Serial != nil {
		if c.Serial.Device == "" {
			errs = append(errs, "serial.device is required")
		}
		if c.Serial.Baud != "auto" && !isValidBaud(c.Serial.Baud) {
			errs = append(errs, fmt.Sprintf("serial.baud must be \"auto\" or one of %v", validBaudRates))
		}
		if c.Serial.AdjustBaud != "off" && c.Serial.AdjustBaud != "max" && !isValidBaud(c.Serial.AdjustBaud) {
			errs = append(errs, fmt.Sprintf("serial.adjust_baud must be \"off\", \"max\", or one of %v", validBaudRates))
		}
		if c.Serial.ReadTimeoutMS <= 0 {
			errs = append(errs, "serial.read_timeout_ms must be positive")
		}
	}

	if c.TCP != nil {
		if c.TCP.Address == "" {
			errs = append(errs, "tcp.address is required")
		}
		if c.TCP.ReadTimeoutMS <= 0 {
			errs = append(errs, "tcp.read_timeout_ms must be positive")
		}
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TopicPrefix == "" || c.MQTT.TopicPrefix == "/" {
		errs = append(errs, "mqtt.topic_prefix is required")
	}

	// Amp validation
	if c.Amp.PollIntervalMS <= 0 {
		errs = append(errs, "amp.poll_interval_ms must be positive")
	}
	if len(c.Amp.Zones) == 0 {
		errs = append(errs, "amp.zones must configure at least one zone")
	}
	for id := range c.Amp.Zones {
		if !isValidZoneKey(id) {
			errs = append(errs, fmt.Sprintf("amp.zones: %q is not a valid zone id", id))
		}
	}
	if len(c.ConfiguredAmps()) == 0 && len(c.Amp.Zones) > 0 {
		errs = append(errs, "amp.zones must include at least one zone on amps 1-3")
	}
	for id := range c.Amp.Sources {
		if id < 1 || id > 6 {
			errs = append(errs, fmt.Sprintf("amp.sources: %d is not a valid source id (1-6)", id))
		}
	}

	// Shairport validation
	if c.Shairport.MaxZoneVolume < 0 || c.Shairport.MaxZoneVolume > 38 {
		errs = append(errs, "shairport.max_zone_volume must be between 0 and 38")
	}

	// History validation
	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, "history.path is required when history is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled (set MWHA_INFLUXDB_TOKEN)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// isValidBaud reports whether s is a supported numeric baud rate.
func isValidBaud(s string) bool {
	rate, err := strconv.Atoi(s)
	if err != nil {
		return false
	}
	for _, r := range validBaudRates {
		if rate == r {
			return true
		}
	}
	return false
}

// isValidZoneKey reports whether s is a two-digit zone ID within the
// protocol's addressable range.
func isValidZoneKey(s string) bool {
	if len(s) != 2 || s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return false
	}
	a, z := s[0]-'0', s[1]-'0'
	if a == 0 {
		return z == 0
	}
	return a <= 3 && z <= 6
}

// ConfiguredAmps returns the amp IDs referenced by the configured
// zones, in ascending order. The system zone alone selects no amps.
func (c *Config) ConfiguredAmps() []uint8 {
	seen := make(map[uint8]bool)
	for id := range c.Amp.Zones {
		if !isValidZoneKey(id) || id == "00" {
			continue
		}
		seen[id[0]-'0'] = true
	}

	amps := make([]uint8, 0, len(seen))
	for a := range seen {
		amps = append(amps, a)
	}
	sort.Slice(amps, func(i, j int) bool { return amps[i] < amps[j] })
	return amps
}

// BaudRates returns the rates to probe: all supported rates for "auto",
// otherwise the single configured rate.
func (s *SerialConfig) BaudRates() []int {
	if s.Baud == "auto" {
		return append([]int(nil), validBaudRates...)
	}
	rate, _ := strconv.Atoi(s.Baud)
	return []int{rate}
}

// AdjustTarget resolves the adjust_baud setting against the detected
// rate. Returns 0 when no adjustment is wanted.
func (s *SerialConfig) AdjustTarget() int {
	switch s.AdjustBaud {
	case "off", "":
		return 0
	case "max":
		return validBaudRates[len(validBaudRates)-1]
	default:
		rate, _ := strconv.Atoi(s.AdjustBaud)
		return rate
	}
}

// GetReadTimeout returns the transport read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	if c.Serial != nil {
		return time.Duration(c.Serial.ReadTimeoutMS) * time.Millisecond
	}
	if c.TCP != nil {
		return time.Duration(c.TCP.ReadTimeoutMS) * time.Millisecond
	}
	return time.Second
}

// GetPollInterval returns the poll cadence as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Amp.PollIntervalMS) * time.Millisecond
}

// GetHistoryRetention returns the history retention as a Duration.
func (c *Config) GetHistoryRetention() time.Duration {
	return time.Duration(c.History.RetentionDays) * 24 * time.Hour
}
