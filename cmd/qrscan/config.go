package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// settings holds everything configurable by flags or the config file.
type settings struct {
	Recorder   string
	Device     string
	Interval   time.Duration
	Preview    string
	Retry      bool
	RetryDelay time.Duration
	Timeout    time.Duration
	TryHarder  bool
	Verbose    bool
}

// duration is a time.Duration written as a string like "250ms" in TOML.
type duration time.Duration

func (d *duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// fileConfig is the TOML config file. Zero values are not applied.
//
// Example:
//
//	recorder = "ffmpeg"
//	device = "/dev/video2"
//	interval = "200ms"
//	preview = "/run/qrscan"
//	retry = true
//	retry_delay = "1s"
type fileConfig struct {
	Recorder   string   `toml:"recorder"`
	Device     string   `toml:"device"`
	Interval   duration `toml:"interval"`
	Preview    string   `toml:"preview"`
	Retry      bool     `toml:"retry"`
	RetryDelay duration `toml:"retry_delay"`
	Timeout    duration `toml:"timeout"`
	TryHarder  bool     `toml:"try_harder"`
	Verbose    bool     `toml:"verbose"`
}

func loadConfig(path string) (fileConfig, error) {
	var c fileConfig
	buf, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("reading config: %v", err)
	}
	if err := toml.Unmarshal(buf, &c); err != nil {
		return c, fmt.Errorf("parsing config %s: %v", path, err)
	}
	return c, nil
}

// apply copies the values set in the config file into s, except for those
// named in explicit, which were set on the command line.
func (c fileConfig) apply(s *settings, explicit map[string]bool) {
	if c.Recorder != "" && !explicit["recorder"] {
		s.Recorder = c.Recorder
	}
	if c.Device != "" && !explicit["device"] {
		s.Device = c.Device
	}
	if c.Interval != 0 && !explicit["interval"] {
		s.Interval = time.Duration(c.Interval)
	}
	if c.Preview != "" && !explicit["preview"] {
		s.Preview = c.Preview
	}
	if c.Retry && !explicit["retry"] {
		s.Retry = true
	}
	if c.RetryDelay != 0 && !explicit["retrydelay"] {
		s.RetryDelay = time.Duration(c.RetryDelay)
	}
	if c.Timeout != 0 && !explicit["timeout"] {
		s.Timeout = time.Duration(c.Timeout)
	}
	if c.TryHarder && !explicit["tryharder"] {
		s.TryHarder = true
	}
	if c.Verbose && !explicit["verbose"] {
		s.Verbose = true
	}
}
