package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// RootConfig is the on-disk layout of soundrecorder.yaml
type RootConfig struct {
	ActiveProfile string                   `mapstructure:"active_profile" yaml:"active_profile"`
	Storage       StorageConfig            `mapstructure:"storage" yaml:"storage"`
	Audio         AudioConfig              `mapstructure:"audio" yaml:"audio"`
	Server        ServerConfig             `mapstructure:"server" yaml:"server"`
	Tasks         TasksConfig              `mapstructure:"tasks" yaml:"tasks"`
	Profiles      map[string]*AudioProfile `mapstructure:"profiles" yaml:"profiles"`
}

// Config is the resolved daemon configuration
type Config struct {
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Audio   AudioConfig   `mapstructure:"audio" yaml:"audio"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Tasks   TasksConfig   `mapstructure:"tasks" yaml:"tasks"`

	// Profile is the name of the audio profile that was applied, if any
	Profile string `mapstructure:"-" yaml:"profile,omitempty"`
}

type StorageConfig struct {
	RecordingsDirectory string `mapstructure:"recordings_directory" yaml:"recordings_directory"` // in-progress recordings
	LibraryDirectory    string `mapstructure:"library_directory" yaml:"library_directory"`       // committed recordings
	PreferencesFile     string `mapstructure:"preferences_file" yaml:"preferences_file"`
	LockFile            string `mapstructure:"lock_file" yaml:"lock_file"`
}

type AudioConfig struct {
	Backend    string `mapstructure:"backend" yaml:"backend"` // "pipewire", "pulse", "alsa", "auto"
	Device     string `mapstructure:"device" yaml:"device"`
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int    `mapstructure:"channels" yaml:"channels"`
}

// AudioProfile overrides parts of the audio section. Zero values inherit.
type AudioProfile struct {
	Backend    string `mapstructure:"backend" yaml:"backend"`
	Device     string `mapstructure:"device" yaml:"device"`
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int    `mapstructure:"channels" yaml:"channels"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

type TasksConfig struct {
	Workers int `mapstructure:"workers" yaml:"workers"`
}

var validBackends = []string{"auto", "pipewire", "pulse", "alsa"}

// Default returns the built-in configuration
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Storage: StorageConfig{
			RecordingsDirectory: filepath.Join(home, ".local", "share", "soundrecorder", "recordings"),
			LibraryDirectory:    filepath.Join(home, "Music"),
			PreferencesFile:     filepath.Join(home, ".config", "soundrecorder", "preferences.yaml"),
			LockFile:            filepath.Join(home, ".local", "share", "soundrecorder", "recording.lock"),
		},
		Audio: AudioConfig{
			Backend:    "auto",
			Device:     "default",
			SampleRate: 48000,
			Channels:   1,
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8765",
		},
		Tasks: TasksConfig{
			Workers: 2,
		},
	}
}

// Load reads configFile and resolves the active profile. A missing file
// yields the defaults.
func Load(configFile string) (*Config, error) {
	return LoadWithProfile(configFile, "")
}

// LoadWithProfile reads configFile and applies the named audio profile,
// falling back to active_profile from the file.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	cfg := Default()

	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if profile != "" {
			return nil, fmt.Errorf("profile '%s' requested but config file %s does not exist", profile, configFile)
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetEnvPrefix("SOUNDRECORDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var root RootConfig
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Storage = root.Storage
	cfg.Audio = root.Audio
	cfg.Server = root.Server
	cfg.Tasks = root.Tasks

	name := profile
	if name == "" {
		name = root.ActiveProfile
	}
	if name != "" {
		p, ok := root.Profiles[name]
		if !ok || p == nil {
			return nil, fmt.Errorf("audio profile '%s' not found", name)
		}
		cfg.Audio = mergeAudio(cfg.Audio, p)
		cfg.Profile = name
	}

	cfg.Storage.RecordingsDirectory = expandPath(cfg.Storage.RecordingsDirectory)
	cfg.Storage.LibraryDirectory = expandPath(cfg.Storage.LibraryDirectory)
	cfg.Storage.PreferencesFile = expandPath(cfg.Storage.PreferencesFile)
	cfg.Storage.LockFile = expandPath(cfg.Storage.LockFile)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// setDefaults registers every default so that partially written files and
// environment overrides resolve against them
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("storage.recordings_directory", cfg.Storage.RecordingsDirectory)
	v.SetDefault("storage.library_directory", cfg.Storage.LibraryDirectory)
	v.SetDefault("storage.preferences_file", cfg.Storage.PreferencesFile)
	v.SetDefault("storage.lock_file", cfg.Storage.LockFile)
	v.SetDefault("audio.backend", cfg.Audio.Backend)
	v.SetDefault("audio.device", cfg.Audio.Device)
	v.SetDefault("audio.sample_rate", cfg.Audio.SampleRate)
	v.SetDefault("audio.channels", cfg.Audio.Channels)
	v.SetDefault("server.listen", cfg.Server.Listen)
	v.SetDefault("tasks.workers", cfg.Tasks.Workers)
}

// mergeAudio applies the non-zero fields of a profile on top of base
func mergeAudio(base AudioConfig, profile *AudioProfile) AudioConfig {
	result := base
	if profile.Backend != "" {
		result.Backend = profile.Backend
	}
	if profile.Device != "" {
		result.Device = profile.Device
	}
	if profile.SampleRate != 0 {
		result.SampleRate = profile.SampleRate
	}
	if profile.Channels != 0 {
		result.Channels = profile.Channels
	}
	return result
}

// Validate checks the resolved configuration
func (c *Config) Validate() error {
	if c.Storage.RecordingsDirectory == "" {
		return fmt.Errorf("storage.recordings_directory is required")
	}
	if c.Storage.LibraryDirectory == "" {
		return fmt.Errorf("storage.library_directory is required")
	}
	if c.Storage.PreferencesFile == "" {
		return fmt.Errorf("storage.preferences_file is required")
	}
	if c.Storage.LockFile == "" {
		return fmt.Errorf("storage.lock_file is required")
	}

	backend := strings.ToLower(c.Audio.Backend)
	valid := false
	for _, b := range validBackends {
		if backend == b {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("audio.backend must be one of %s, got: %s", strings.Join(validBackends, ", "), c.Audio.Backend)
	}
	c.Audio.Backend = backend

	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 192000 {
		return fmt.Errorf("audio.sample_rate must be between 8000 and 192000, got: %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		return fmt.Errorf("audio.channels must be 1 or 2, got: %d", c.Audio.Channels)
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Tasks.Workers < 1 {
		return fmt.Errorf("tasks.workers must be >= 1, got: %d", c.Tasks.Workers)
	}
	return nil
}

// UpdateActiveProfile updates the active_profile field in the config file
func UpdateActiveProfile(configFile, newActiveProfile string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_profile", newActiveProfile)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
