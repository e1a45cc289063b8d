// Package config reads the settings of the pulse server from a YAML or JSON file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/viper"

	"github.com/ftl/tagstrainer/detector"
)

const (
	AppName    = "tagstrainer"
	ConfigType = "yaml"
)

const (
	ModeSimulator  = "simulator"
	ModeFile       = "file"
	ModeRTLTCP     = "rtltcp"
	ModeTCI        = "tci"
	ModePulseAudio = "pulseaudio"
)

var Modes = []string{ModeSimulator, ModeFile, ModeRTLTCP, ModeTCI, ModePulseAudio}

const (
	ExportNone   = ""
	ExportCSV    = "csv"
	ExportSQLite = "sqlite"
	ExportMySQL  = "mysql"
)

const DefaultConfig = `# TagStrainer configuration

addr: "0.0.0.0:9000"        # listening address of the pulse protocol
http_addr: "0.0.0.0:8080"   # listening address of the web API, empty to disable
mode: "simulator"           # simulator | file | rtltcp | tci | pulseaudio
autostart: false            # start streaming without waiting for a client

sdr_config:
  samp_rate: 2400000
  center_freq: 150000000
  auto_gain: true
  lna_gain: 24              # dB
  vga_gain: 20              # dB
  amp_enable: false
  antenna_enable: false
  # baseband_filter: 1750000

pulse_targets:
  - freq: 150100000         # Hz
    duration: 0.02          # seconds
    duration_variance: 0.005
    threshold: 0.1
    edge_length: 10         # frames
    peak_lookahead: 5       # frames
    gain: 30

simulator:
  amplitude: 0.3            # amplitude of the pulses
  noise: 0.05               # amplitude of the noise
  interval: 1s              # pulse interval
  block_size: 16384         # I/Q samples per block

file:
  path: ""
  format: "u8"              # u8 | f32
  loop: false
  realtime: true            # replay at the configured sample rate

rtltcp:
  address: "localhost:1234"

tci:
  host: "localhost:40001"
  trx: 0

pulseaudio:
  source: ""                # empty for the default source

export:
  type: ""                  # csv | sqlite | mysql, empty to disable
  file: "pulses.csv"        # csv and sqlite
  mysql:
    addr: "localhost:3306"
    user: ""
    password: ""
    database: "tagstrainer"
`

// Settings holds all settings of the pulse server.
type Settings struct {
	Addr      string `mapstructure:"addr"`
	HTTPAddr  string `mapstructure:"http_addr"`
	Mode      string `mapstructure:"mode"`
	Autostart bool   `mapstructure:"autostart"`

	SdrConfig    detector.SdrConfig     `mapstructure:"sdr_config"`
	PulseTargets []detector.PulseTarget `mapstructure:"pulse_targets"`

	Simulator  SimulatorSettings  `mapstructure:"simulator"`
	File       FileSettings       `mapstructure:"file"`
	RTLTCP     RTLTCPSettings     `mapstructure:"rtltcp"`
	TCI        TCISettings        `mapstructure:"tci"`
	PulseAudio PulseAudioSettings `mapstructure:"pulseaudio"`

	Export ExportSettings `mapstructure:"export"`
}

type SimulatorSettings struct {
	Amplitude float64       `mapstructure:"amplitude"`
	Noise     float64       `mapstructure:"noise"`
	Interval  time.Duration `mapstructure:"interval"`
	BlockSize int           `mapstructure:"block_size"`
}

type FileSettings struct {
	Path     string `mapstructure:"path"`
	Format   string `mapstructure:"format"`
	Loop     bool   `mapstructure:"loop"`
	Realtime bool   `mapstructure:"realtime"`
}

type RTLTCPSettings struct {
	Address string `mapstructure:"address"`
}

type TCISettings struct {
	Host string `mapstructure:"host"`
	TRX  int    `mapstructure:"trx"`
}

type PulseAudioSettings struct {
	Source string `mapstructure:"source"`
}

type ExportSettings struct {
	Type  string        `mapstructure:"type"`
	File  string        `mapstructure:"file"`
	MySQL MySQLSettings `mapstructure:"mysql"`
}

type MySQLSettings struct {
	Addr     string `mapstructure:"addr"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", "0.0.0.0:9000")
	v.SetDefault("http_addr", "0.0.0.0:8080")
	v.SetDefault("mode", ModeSimulator)
	v.SetDefault("autostart", false)

	v.SetDefault("sdr_config.samp_rate", 2_400_000)
	v.SetDefault("sdr_config.center_freq", 150_000_000)
	v.SetDefault("sdr_config.auto_gain", true)
	v.SetDefault("sdr_config.lna_gain", 24)
	v.SetDefault("sdr_config.vga_gain", 20)

	v.SetDefault("simulator.amplitude", 0.3)
	v.SetDefault("simulator.noise", 0.05)
	v.SetDefault("simulator.interval", time.Second)
	v.SetDefault("simulator.block_size", 16384)

	v.SetDefault("file.format", "u8")
	v.SetDefault("file.realtime", true)

	v.SetDefault("rtltcp.address", "localhost:1234")

	v.SetDefault("tci.host", "localhost:40001")

	v.SetDefault("export.file", "pulses.csv")
	v.SetDefault("export.mysql.addr", "localhost:3306")
	v.SetDefault("export.mysql.database", AppName)
}

// Load reads the settings from the given file. Without a filename, the current directory and
// the user's config directory are searched for tagstrainer.yaml; if there is none, the defaults apply.
func Load(filename string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	if filename != "" {
		v.SetConfigFile(filename)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType(ConfigType)
		v.AddConfigPath(".")
		if configDir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(configDir, AppName))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if filename != "" || !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// WriteDefault writes the default configuration into a new file.
func WriteDefault(filename string) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}

	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(DefaultConfig); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

// Validate checks that all settings are within acceptable ranges
func (s *Settings) Validate() error {
	var errs []error

	if s.Addr == "" {
		errs = append(errs, fmt.Errorf("addr must not be empty"))
	}
	if !slices.Contains(Modes, s.Mode) {
		errs = append(errs, fmt.Errorf("mode must be one of %v, got %q", Modes, s.Mode))
	}

	if s.SdrConfig.SampRate < detector.FrameLength {
		errs = append(errs, fmt.Errorf("sdr_config.samp_rate must be at least %d, got %d", detector.FrameLength, s.SdrConfig.SampRate))
	}
	for i, target := range s.PulseTargets {
		if err := target.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("pulse_targets[%d]: %w", i, err))
		}
		if !s.SdrConfig.Contains(target.Freq) {
			errs = append(errs, fmt.Errorf("pulse_targets[%d]: %v Hz is outside of the receiver's bandwidth", i, target.Freq))
		}
	}

	switch s.Mode {
	case ModeSimulator:
		if s.Simulator.Interval <= 0 {
			errs = append(errs, fmt.Errorf("simulator.interval must be positive, got %v", s.Simulator.Interval))
		}
		if s.Simulator.BlockSize < 1 {
			errs = append(errs, fmt.Errorf("simulator.block_size must be positive, got %d", s.Simulator.BlockSize))
		}
	case ModeFile:
		if s.File.Path == "" {
			errs = append(errs, fmt.Errorf("file.path must not be empty"))
		}
		if s.File.Format != "u8" && s.File.Format != "f32" {
			errs = append(errs, fmt.Errorf("file.format must be u8 or f32, got %q", s.File.Format))
		}
	case ModeRTLTCP:
		if s.RTLTCP.Address == "" {
			errs = append(errs, fmt.Errorf("rtltcp.address must not be empty"))
		}
	case ModeTCI:
		if s.TCI.Host == "" {
			errs = append(errs, fmt.Errorf("tci.host must not be empty"))
		}
		if s.TCI.TRX < 0 {
			errs = append(errs, fmt.Errorf("tci.trx must not be negative, got %d", s.TCI.TRX))
		}
	}

	switch s.Export.Type {
	case ExportNone:
	case ExportCSV, ExportSQLite:
		if s.Export.File == "" {
			errs = append(errs, fmt.Errorf("export.file must not be empty for %s", s.Export.Type))
		}
	case ExportMySQL:
		if s.Export.MySQL.Addr == "" || s.Export.MySQL.Database == "" {
			errs = append(errs, fmt.Errorf("export.mysql.addr and export.mysql.database must not be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("export.type must be one of csv, sqlite, mysql, got %q", s.Export.Type))
	}

	return errors.Join(errs...)
}
