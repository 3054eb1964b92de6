// Package config loads hutchd/hutch-tracker's ambient settings (ports,
// directories, tracker defaults) from an optional file with environment
// overrides. It is deliberately thin and external to the core packages,
// which always take explicit parameters rather than reading config
// themselves.
package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Peer holds hutchd's settings.
type Peer struct {
	ListenPort    int    `mapstructure:"listen_port"`
	ControlAddr   string `mapstructure:"control_addr"`
	DownloadDir   string `mapstructure:"download_dir"`
	TorrentDir    string `mapstructure:"torrent_dir"`
	TrackerURL    string `mapstructure:"tracker_url"`
	AnnounceEvery int    `mapstructure:"announce_interval_seconds"`
	LogLevel      string `mapstructure:"log_level"`
}

// Tracker holds hutch-tracker's settings.
type Tracker struct {
	ListenAddr    string `mapstructure:"listen_addr"`
	StateDir      string `mapstructure:"state_dir"`
	TorrentDir    string `mapstructure:"torrent_dir"`
	SnapshotEvery int    `mapstructure:"snapshot_interval_seconds"`
	LogLevel      string `mapstructure:"log_level"`
}

func peerDefaults(v *viper.Viper) {
	v.SetDefault("listen_port", 0)
	v.SetDefault("control_addr", "127.0.0.1:7070")
	v.SetDefault("download_dir", "./downloads")
	v.SetDefault("torrent_dir", "./torrents")
	v.SetDefault("tracker_url", "http://127.0.0.1:8000")
	v.SetDefault("announce_interval_seconds", 30)
	v.SetDefault("log_level", "info")
}

func trackerDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", "127.0.0.1:8000")
	v.SetDefault("state_dir", "./tracker-state")
	v.SetDefault("torrent_dir", "./tracker-state/torrents")
	v.SetDefault("snapshot_interval_seconds", 10)
	v.SetDefault("log_level", "info")
}

func newViper(envPrefix, configPath string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("hutch")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.hutch")
	}

	return v
}

// LoadPeer reads hutchd's configuration. configPath may be empty to use the
// default search path (./hutch.toml, $HOME/.hutch/hutch.toml).
func LoadPeer(configPath string) (*Peer, error) {
	v := newViper("HUTCHD", configPath)
	peerDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	var cfg Peer
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// LoadTracker reads hutch-tracker's configuration.
func LoadTracker(configPath string) (*Tracker, error) {
	v := newViper("HUTCH_TRACKER", configPath)
	trackerDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	var cfg Tracker
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// WatchFile watches configPath via fsnotify and invokes onChange every time
// the file is written or created. onChange receives no value; reloading the
// file (with LoadPeer or LoadTracker) is up to the callback.
func WatchFile(configPath string, onChange func()) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := w.Add(configPath); err != nil {
		w.Close()
		return nil, fmt.Errorf("config: watch %s: %w", configPath, err)
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					onChange()
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return w, nil
}
