package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// TokenEnv overrides auth.token when set.
const TokenEnv = "PARLEY_TOKEN"

// Config represents ~/.parley/config.toml.
type Config struct {
	DefaultProfile string      `toml:"default_profile"`
	Relay          Relay       `toml:"relay"`
	API            API         `toml:"api"`
	Auth           Auth        `toml:"auth"`
	Chat           Chat        `toml:"chat"`
	Attachments    Attachments `toml:"attachments"`
	Storage        Storage     `toml:"storage"`
	Call           Call        `toml:"call"`
}

type Relay struct {
	URL string `toml:"url" validate:"required,url"`
}

type API struct {
	BaseURL string   `toml:"base_url" validate:"required,url"`
	Timeout Duration `toml:"timeout"`
}

type Auth struct {
	Token string `toml:"token"`
}

type Chat struct {
	PageSize int `toml:"page_size" validate:"min=1,max=500"`
	// BottomThreshold is how many rows from the newest message still count as "at the bottom".
	BottomThreshold int `toml:"bottom_threshold" validate:"min=0"`
	DedupWindow     int `toml:"dedup_window" validate:"min=1"`
}

type Attachments struct {
	MaxFileMB         int64  `toml:"max_file_mb" validate:"min=1"`
	MaxBatchFileMB    int64  `toml:"max_batch_file_mb" validate:"min=1"`
	UploadConcurrency int    `toml:"upload_concurrency" validate:"min=1,max=16"`
	FFprobePath       string `toml:"ffprobe_path"`
}

type Storage struct {
	Mode          string   `toml:"mode" validate:"oneof=api minio"`
	Endpoint      string   `toml:"endpoint" validate:"required_if=Mode minio"`
	AccessKey     string   `toml:"access_key" validate:"required_if=Mode minio"`
	SecretKey     string   `toml:"secret_key" validate:"required_if=Mode minio"`
	Bucket        string   `toml:"bucket" validate:"required_if=Mode minio"`
	UseSSL        bool     `toml:"use_ssl"`
	PresignExpiry Duration `toml:"presign_expiry"`
}

type Call struct {
	ICEServers       []string `toml:"ice_servers"`
	WatchdogInterval Duration `toml:"watchdog_interval"`
	WatchdogMisses   int      `toml:"watchdog_misses" validate:"min=1"`
	Video            bool     `toml:"video"`
	Audio            bool     `toml:"audio"`
	// VideoFile and AudioFile replace the generated test signal with an
	// IVF (VP8) or Ogg (Opus) recording.
	VideoFile string `toml:"video_file"`
	AudioFile string `toml:"audio_file"`
}

// Default returns the configuration used for any key the file leaves out.
func Default() *Config {
	return &Config{
		API: API{Timeout: Duration(15 * time.Second)},
		Chat: Chat{
			PageSize:        50,
			BottomThreshold: 2,
			DedupWindow:     256,
		},
		Attachments: Attachments{
			MaxFileMB:         50,
			MaxBatchFileMB:    50,
			UploadConcurrency: 3,
		},
		Storage: Storage{
			Mode:          "api",
			PresignExpiry: Duration(15 * time.Minute),
		},
		Call: Call{
			ICEServers:       []string{"stun:stun.l.google.com:19302"},
			WatchdogInterval: Duration(time.Second),
			WatchdogMisses:   3,
			Video:            true,
			Audio:            true,
		},
	}
}

// Load reads config from path on top of Default. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the settings the daemon needs before it can start.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Token returns the bearer credential, preferring the environment.
func (c *Config) Token() string {
	if tok := os.Getenv(TokenEnv); tok != "" {
		return tok
	}
	return c.Auth.Token
}

// MaxFileBytes is the single-attachment ceiling in bytes.
func (a Attachments) MaxFileBytes() int64 { return a.MaxFileMB << 20 }

// MaxBatchFileBytes is the per-file ceiling in bytes when sending a batch.
func (a Attachments) MaxBatchFileBytes() int64 { return a.MaxBatchFileMB << 20 }

// Duration is a time.Duration written as a string such as "1s" in TOML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}
