package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/qbzgrab/qbzgrab/redact"
)

type Config struct {
	Log   Log   `yaml:"log"`
	Qobuz Qobuz `yaml:"qobuz"`
}

func (c *Config) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Dict("log", c.Log.ToDict()).
		Dict("qobuz", c.Qobuz.ToDict())
}

func (c *Config) setDefaults() {
	c.Log.setDefaults()
	c.Qobuz.setDefaults()
}

func (c *Config) validate() error {
	if err := c.Log.validate(); nil != err {
		return fmt.Errorf("log config validation failed: %v", err)
	}

	if err := c.Qobuz.validate(); nil != err {
		return fmt.Errorf("qobuz config validation failed: %v", err)
	}

	return nil
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Log) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("level", c.Level).
		Str("format", c.Format)
}

func (c *Log) setDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}

	if c.Format == "" {
		c.Format = "auto"
	}
}

func (c *Log) validate() error {
	if !slices.Contains([]string{"trace", "debug", "info", "warn", "error", "fatal", "panic"}, c.Level) {
		return fmt.Errorf(
			"level must be one of: trace, debug, info, warn, error, fatal, panic, got: %s",
			c.Level,
		)
	}

	if !slices.Contains([]string{"json", "pretty", "auto"}, c.Format) {
		return fmt.Errorf("format must be 'json', 'pretty' or 'auto', got: %s", c.Format)
	}

	return nil
}

type Qobuz struct {
	// AppID and AppSecret are optional. When either is empty the application
	// identity is discovered from the public web-player bundle instead.
	AppID      string     `yaml:"app_id"`
	AppSecret  string     `yaml:"-"`
	Session    Session    `yaml:"session"`
	Quality    string     `yaml:"quality"`
	Downloads  string     `yaml:"downloads_dir"`
	CredsPath  string     `yaml:"creds_path"`
	Downloader Downloader `yaml:"downloader"`
}

func (c *Qobuz) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("app_id", c.AppID).
		Str("app_secret", redact.String(c.AppSecret)).
		Dict("session", c.Session.ToDict()).
		Str("quality", c.Quality).
		Str("downloads_dir", c.Downloads).
		Str("creds_path", c.CredsPath).
		Dict("downloader", c.Downloader.ToDict())
}

func (c *Qobuz) setDefaults() {
	if c.Quality == "" {
		c.Quality = "flac"
	}

	if c.Downloads == "" {
		c.Downloads = "./downloads"
	}

	if c.CredsPath == "" {
		c.CredsPath = "./creds.db"
	}

	c.Session.setDefaults()
	c.Downloader.setDefaults()
}

func (c *Qobuz) validate() error {
	if !slices.Contains([]string{"mp3", "flac", "hires96", "hires192"}, c.Quality) {
		return fmt.Errorf("quality must be one of: mp3, flac, hires96, hires192, got: %s", c.Quality)
	}

	if i, err := os.Stat(c.Downloads); nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return errors.New("downloads_dir does not exist")
		}

		return fmt.Errorf("failed to stat downloads_dir: %v", err)
	} else if !i.IsDir() {
		return errors.New("downloads_dir must be a directory")
	}

	if dir := filepath.Dir(c.CredsPath); dir != "." {
		if i, err := os.Stat(dir); nil != err {
			if errors.Is(err, os.ErrNotExist) {
				return errors.New("creds_path parent directory does not exist")
			}

			return fmt.Errorf("failed to stat creds_path parent directory: %v", err)
		} else if !i.IsDir() {
			return errors.New("creds_path parent must be a directory")
		}
	}

	if err := c.Session.validate(); nil != err {
		return fmt.Errorf("session config validation failed: %v", err)
	}

	if err := c.Downloader.validate(); nil != err {
		return fmt.Errorf("downloader config validation failed: %v", err)
	}

	return nil
}

type Session struct {
	UserID        string `yaml:"user_id"`
	UserAuthToken string `yaml:"-"`
}

func (c *Session) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("user_id", c.UserID).
		Str("user_auth_token", redact.String(c.UserAuthToken))
}

func (c *Session) setDefaults() {}

func (c *Session) validate() error {
	if c.UserID != "" && c.UserAuthToken == "" {
		return errors.New("make sure the QBZ_USER_AUTH_TOKEN environment variable is set when user_id is configured")
	}

	return nil
}

type Downloader struct {
	Timeouts    Timeouts    `yaml:"timeouts"`
	Concurrency Concurrency `yaml:"concurrency"`
	MaxRetries  int         `yaml:"max_retries"`
}

func (c *Downloader) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Dict("timeouts", c.Timeouts.ToDict()).
		Dict("concurrency", c.Concurrency.ToDict()).
		Int("max_retries", c.MaxRetries)
}

func (c *Downloader) setDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}

	c.Timeouts.setDefaults()
	c.Concurrency.setDefaults()
}

func (c *Downloader) validate() error {
	if c.MaxRetries < 0 {
		return errors.New("max_retries must be greater than 0")
	}

	if err := c.Timeouts.validate(); nil != err {
		return fmt.Errorf("timeouts config validation failed: %v", err)
	}

	if err := c.Concurrency.validate(); nil != err {
		return fmt.Errorf("concurrency config validation failed: %v", err)
	}

	return nil
}

type Timeouts struct {
	GetMeta       int `yaml:"get_meta"`
	ResolveTrack  int `yaml:"resolve_track"`
	DownloadChunk int `yaml:"download_chunk"`
	DownloadCover int `yaml:"download_cover"`
	Discovery     int `yaml:"discovery"`
}

func (c *Timeouts) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Int("get_meta", c.GetMeta).
		Int("resolve_track", c.ResolveTrack).
		Int("download_chunk", c.DownloadChunk).
		Int("download_cover", c.DownloadCover).
		Int("discovery", c.Discovery)
}

func (c *Timeouts) setDefaults() {
	if c.GetMeta == 0 {
		c.GetMeta = 5
	}

	if c.ResolveTrack == 0 {
		c.ResolveTrack = 5
	}

	if c.DownloadChunk == 0 {
		c.DownloadChunk = 60
	}

	if c.DownloadCover == 0 {
		c.DownloadCover = 10
	}

	if c.Discovery == 0 {
		c.Discovery = 30
	}
}

func (c *Timeouts) validate() error {
	if c.GetMeta < 0 {
		return errors.New("get_meta must be greater than 0")
	}

	if c.ResolveTrack < 0 {
		return errors.New("resolve_track must be greater than 0")
	}

	if c.DownloadChunk < 0 {
		return errors.New("download_chunk must be greater than 0")
	}

	if c.DownloadCover < 0 {
		return errors.New("download_cover must be greater than 0")
	}

	if c.Discovery < 0 {
		return errors.New("discovery must be greater than 0")
	}

	return nil
}

type Concurrency struct {
	Tracks int `yaml:"tracks"`
}

func (c *Concurrency) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Int("tracks", c.Tracks)
}

func (c *Concurrency) setDefaults() {
	if c.Tracks == 0 {
		c.Tracks = 3
	}
}

func (c *Concurrency) validate() error {
	if c.Tracks < 0 {
		return errors.New("tracks must be greater than 0")
	}

	return nil
}

func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(lo.Ternary(len(filename) > 0, filename, "config.yaml"))
	if nil != err {
		return nil, fmt.Errorf("failed to read config file %s: %v", filename, err)
	}

	var conf Config
	if err := yaml.Unmarshal(data, &conf); nil != err {
		return nil, fmt.Errorf("failed to parse config file %s: %v", filename, err)
	}

	conf.Qobuz.AppSecret = os.Getenv("QBZ_APP_SECRET")
	conf.Qobuz.Session.UserAuthToken = os.Getenv("QBZ_USER_AUTH_TOKEN")
	conf.setDefaults()

	if err := conf.validate(); nil != err {
		return nil, fmt.Errorf("configuration validation failed: %v", err)
	}

	return &conf, nil
}
