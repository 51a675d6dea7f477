package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const defaultConfig = `# address to listen on
listen: "127.0.0.1:47860"
# shared secret expected in the X-Auth header
# (prefer the CAPTIOND_AUTH_TOKEN environment variable)
auth_token: "zbimage"
# debug logging
debug: false
# also write logs to this file, as JSON
# log_file: "~/.local/state/captiond/captiond.log"
# time budget for captioning plus translation of one image
upstream_timeout: "60s"
# largest accepted image, in bytes
max_body_bytes: 20971520

cache:
  # cache directory, cleared at every start
  # dir: "~/.cache/captiond"
  # wipe the whole cache once it holds more entries than this
  ceiling: 10
  # when to check the ceiling (cron spec or @every)
  sweep_schedule: "@every 60s"
  # zstd level for stored audio
  compression_level: 3

caption:
  # captioning backend: blip or openai
  backend: "blip"
  blip:
    url: "http://127.0.0.1:5000"
    path: "/caption"
  openai:
    # api_key: "" (prefer OPENAI_API_KEY)
    # base_url: "https://api.openai.com/v1"
    model: "gpt-4o-mini"

translate:
  source: "en"
  target: "vi"
  requests_per_minute: 60

speech:
  # language passed to gtts-cli
  language: "vi"
  gtts_binary: "gtts-cli"
  ffmpeg_binary: "ffmpeg"
  slow: false
  requests_per_minute: 50
  timeout: "30s"

audio:
  # play translations on the local audio device
  enabled: true
  # 44100 or 48000
  sample_rate: 44100
  # 0.0 to 1.0
  volume: 1.0

playback:
  # jobs waiting behind the one playing; extra jobs are dropped
  queue_size: 8
  job_timeout: "2m"
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the captiond config file",
	Long:    paragraph(fmt.Sprintf("\n%s the captiond config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("captiond config\ncaptiond config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		// Editing must work even when the current file does not validate
		return nil
	},
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("captiond", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  paragraph(fmt.Sprintf("\n%s the configuration after merging the config file, environment and flags. Secrets are masked.", keyword("Print"))),
	Args:  cobra.NoArgs,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return loadConfig()
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		shown := cfg
		shown.AuthToken = mask(shown.AuthToken)
		shown.Caption.OpenAI.APIKey = mask(shown.Caption.OpenAI.APIKey)

		out, err := yaml.Marshal(shown)
		if err != nil {
			return fmt.Errorf("unable to encode config: %w", err)
		}
		if used := viper.ConfigFileUsed(); used != "" {
			fmt.Fprintln(cmd.OutOrStdout(), faint("# "+used))
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:2] + "****" + secret[len(secret)-2:]
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
