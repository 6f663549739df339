package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

// defaultConfig mirrors config.setDefaults: every field here becomes a
// commented-out line in the generated file so an operator can see what
// exists without having it silently take effect.
type defaultConfig struct {
	CompactMode      string  `toml:"compact-mode"`
	CompactInterval  string  `toml:"compact-interval"`
	CompactSizeBytes int64   `toml:"compact-size-bytes"`
	CompactFactor    float64 `toml:"compact-factor"`

	SyncTolerance string `toml:"sync-tolerance"`
	NTPPool       string `toml:"ntp-pool"`
	NTPPort       int    `toml:"ntp-port"`

	WireEncryption   int `toml:"wire-encryption"`
	BufferSizeClient int `toml:"buffer-size-client"`
	BufferSizeServer int `toml:"buffer-size-server"`

	LoadCacheSize int    `toml:"load-cache-size"`
	LoadCacheTTL  string `toml:"load-cache-ttl"`

	DefaultPort  int    `toml:"default-port"`
	RecoveryMode string `toml:"recovery-mode"`
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and scaffold trustchain configuration",
	}
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a commented default config.toml",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(".trustchain", "config.toml")
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			return writeDefaultConfig(path)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func writeDefaultConfig(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintln(f, "# trustchain node configuration.")
	fmt.Fprintln(f, "# Every key below is commented out at its built-in default; uncomment")
	fmt.Fprintln(f, "# and edit a line to override it. Environment variables of the form")
	fmt.Fprintln(f, "# TRUSTCHAIN_<KEY> take precedence over this file.")
	fmt.Fprintln(f)

	cfg := defaultConfig{
		CompactMode:      "never",
		CompactInterval:  "1h",
		CompactSizeBytes: 64 * 1024 * 1024,
		CompactFactor:    2.0,
		SyncTolerance:    "30s",
		NTPPool:          "pool.ntp.org",
		NTPPort:          123,
		WireEncryption:   0,
		BufferSizeClient: 1000,
		BufferSizeServer: 1000,
		LoadCacheSize:    4096,
		LoadCacheTTL:     "5m",
		DefaultPort:      5000,
		RecoveryMode:     "sync",
	}

	var buf []byte
	w := &commentingWriter{prefix: "# "}
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return err
	}
	buf = w.Bytes()
	_, err = f.Write(buf)
	return err
}

// commentingWriter prefixes every line toml.Encoder writes with "# "
// so the generated file documents every default without enabling any
// of them.
type commentingWriter struct {
	prefix string
	buf    []byte
	atBOL  bool
}

func (w *commentingWriter) Write(p []byte) (int, error) {
	for _, b := range p {
		if len(w.buf) == 0 || w.atBOL {
			w.buf = append(w.buf, w.prefix...)
			w.atBOL = false
		}
		w.buf = append(w.buf, b)
		if b == '\n' {
			w.atBOL = true
		}
	}
	return len(p), nil
}

func (w *commentingWriter) Bytes() []byte { return w.buf }
