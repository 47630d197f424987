// Package config provides configuration management for the Securito assistant
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Wake         WakeConfig         `mapstructure:"wake"`
	Recognition  RecognitionConfig  `mapstructure:"recognition"`
	Playback     PlaybackConfig     `mapstructure:"playback"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Avatar       AvatarConfig       `mapstructure:"avatar"`
	Services     ServicesConfig     `mapstructure:"services"`
	UI           UIConfig           `mapstructure:"ui"`
}

// WakeConfig configures wake-phrase detection. Threshold and the window
// extension are empirically tuned and hot-reloadable.
type WakeConfig struct {
	Variants        []string      `mapstructure:"variants"`
	Threshold       float64       `mapstructure:"threshold"`
	WindowExtension time.Duration `mapstructure:"window_extension"`
}

// RecognitionConfig configures the speech-recognition session
type RecognitionConfig struct {
	Language       string        `mapstructure:"language"`
	DebounceDelay  time.Duration `mapstructure:"debounce_delay"`
	RestartBackoff time.Duration `mapstructure:"restart_backoff"`
}

// PlaybackConfig configures synthesized-speech playback
type PlaybackConfig struct {
	Voice       string        `mapstructure:"voice"`
	Format      string        `mapstructure:"format"`
	ResumeDelay time.Duration `mapstructure:"resume_delay"`
}

// ConversationConfig configures the orchestrator's turn handling
type ConversationConfig struct {
	MaxMessages  int           `mapstructure:"max_messages"`
	HintCooldown time.Duration `mapstructure:"hint_cooldown"`
}

// AvatarConfig configures the cosmetic animation timers
type AvatarConfig struct {
	BlinkInterval time.Duration `mapstructure:"blink_interval"`
	BlinkJitter   time.Duration `mapstructure:"blink_jitter"`
	BlinkHold     time.Duration `mapstructure:"blink_hold"`
	FlapInterval  time.Duration `mapstructure:"flap_interval"`
	FlapJitter    time.Duration `mapstructure:"flap_jitter"`
}

// ServicesConfig locates the remote chat and synthesis collaborators
type ServicesConfig struct {
	ChatURL string        `mapstructure:"chat_url"`
	TTSURL  string        `mapstructure:"tts_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// UIConfig configures the local websocket feed for the browser view
type UIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Wake: WakeConfig{
			Variants:        nil, // wake.DefaultVariants when empty
			Threshold:       0.70,
			WindowExtension: 25 * time.Second,
		},
		Recognition: RecognitionConfig{
			Language:       "es-MX",
			DebounceDelay:  900 * time.Millisecond,
			RestartBackoff: 400 * time.Millisecond,
		},
		Playback: PlaybackConfig{
			Voice:       "alloy",
			Format:      "mp3",
			ResumeDelay: 350 * time.Millisecond,
		},
		Conversation: ConversationConfig{
			MaxMessages:  12,
			HintCooldown: 30 * time.Second,
		},
		Avatar: AvatarConfig{
			BlinkInterval: 4 * time.Second,
			BlinkJitter:   2 * time.Second,
			BlinkHold:     150 * time.Millisecond,
			FlapInterval:  120 * time.Millisecond,
			FlapJitter:    80 * time.Millisecond,
		},
		Services: ServicesConfig{
			ChatURL: "http://localhost:8888/.netlify/functions/chat",
			TTSURL:  "http://localhost:8888/.netlify/functions/tts",
			Timeout: 30 * time.Second,
		},
		UI: UIConfig{
			ListenAddr: "127.0.0.1:7321",
		},
	}
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configDir, err := Dir()
	if err != nil {
		return cfg, err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return cfg, err
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("SECURITO")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
		// No config file yet: write the defaults so the operator has
		// something to tune.
		if err := Save(cfg); err != nil {
			return cfg, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Save writes the configuration to file
func Save(cfg *Config) error {
	configDir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	viper.Set("wake", cfg.Wake)
	viper.Set("recognition", cfg.Recognition)
	viper.Set("playback", cfg.Playback)
	viper.Set("conversation", cfg.Conversation)
	viper.Set("avatar", cfg.Avatar)
	viper.Set("services", cfg.Services)
	viper.Set("ui", cfg.UI)

	return viper.WriteConfigAs(filepath.Join(configDir, "config.yaml"))
}

// Dir returns the configuration directory path
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".securito"), nil
}
