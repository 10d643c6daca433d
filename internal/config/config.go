package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the OTP server process.
type Config struct {
	// Language selects the name-master dictionary.
	Language string `yaml:"language"`

	ClientAgent     ClientAgentConfig     `yaml:"client_agent"`
	MessageDirector MessageDirectorConfig `yaml:"message_director"`
	EventLog        EventLogConfig        `yaml:"event_log"`
	Database        DatabaseConfig        `yaml:"database"`
}

// ClientAgentConfig configures the client-facing listener.
type ClientAgentConfig struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// ServerVersion must match the value the client sends at login.
	ServerVersion string `yaml:"server_version"`

	// TokenPassword keys the DES3 play-token decryption.
	TokenPassword string `yaml:"token_password"`

	// Flood protection
	FloodProtection   bool    `yaml:"flood_protection"`
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	MessageBurst      int     `yaml:"message_burst"`

	// VisgroupsFile is the YAML zone-visibility table distilled from the
	// street DNA files.
	VisgroupsFile string `yaml:"visgroups_file"`

	// NameMasterDir holds the per-language NameMaster files.
	NameMasterDir string `yaml:"name_master_dir"`
}

// Addr returns the client agent listen address.
func (c ClientAgentConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// MessageDirectorConfig configures the channel bus listener for
// external AI participants.
type MessageDirectorConfig struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
}

// Addr returns the message director listen address.
func (c MessageDirectorConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// EventLogConfig configures the UDP event sink.
type EventLogConfig struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
	Directory   string `yaml:"directory"`
}

// Addr returns the event log listen address.
func (c EventLogConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// DatabaseConfig selects and configures the object-store backend.
type DatabaseConfig struct {
	// Backend is one of "raw", "packed" or "sql".
	Backend string `yaml:"backend"`

	// Directory, Extension and Storage configure the file backends:
	// one <doId><Extension> file per object under Directory, plus the
	// account directory file named Storage.
	Directory string `yaml:"directory"`
	Extension string `yaml:"extension"`
	Storage   string `yaml:"storage"`

	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds connection parameters for the sql backend.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Language: "english",
		ClientAgent: ClientAgentConfig{
			BindAddress:       "0.0.0.0",
			Port:              6667,
			ServerVersion:     "sv1.0.47.38",
			TokenPassword:     "kvm5SAE7sAq9csdPA8UPZRe7",
			FloodProtection:   true,
			MessagesPerSecond: 60,
			MessageBurst:      120,
			VisgroupsFile:     "config/visgroups.yml",
			NameMasterDir:     "config/namemaster",
		},
		MessageDirector: MessageDirectorConfig{
			BindAddress: "0.0.0.0",
			Port:        7199,
		},
		EventLog: EventLogConfig{
			BindAddress: "0.0.0.0",
			Port:        4343,
			Directory:   "event_logs",
		},
		Database: DatabaseConfig{
			Backend:   "raw",
			Directory: "database",
			Extension: ".txt",
			Storage:   "game-accounts.db",
			Postgres: PostgresConfig{
				Host:     "127.0.0.1",
				Port:     5432,
				User:     "otpgo",
				Password: "otpgo",
				DBName:   "otpgo",
				SSLMode:  "disable",
			},
		},
	}
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// NameMasterFile resolves the dictionary path for the configured
// language.
func (c Config) NameMasterFile() string {
	switch c.Language {
	case "castillian", "japanese", "german", "french", "portuguese":
		return filepath.Join(c.ClientAgent.NameMasterDir, fmt.Sprintf("NameMaster_%s.txt", c.Language))
	default:
		return filepath.Join(c.ClientAgent.NameMasterDir, "NameMasterEnglish.txt")
	}
}
