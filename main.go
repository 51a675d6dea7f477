// Package main provides the entry point for the captiond service.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zbimage/captiond/internal/config"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	cfg        config.Config
	logCloser  = func() error { return nil }

	rootCmd = &cobra.Command{
		Use:   "captiond",
		Short: "Caption images, translate the caption and speak it aloud",
		Long: paragraph(
			fmt.Sprintf("\nCaption images, translate the caption and %s through the local speakers.", keyword("speak it")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return loadConfig()
		},
		RunE: runServe,
	}

	serveCmd = &cobra.Command{
		Use:     "serve",
		Short:   "Run the caption HTTP service (default)",
		Long:    paragraph(fmt.Sprintf("\n%s the caption service. The cache directory is cleared before the listener opens.", keyword("Start"))),
		Example: paragraph("captiond serve\ncaptiond serve --listen 0.0.0.0:47860 --backend openai"),
		Args:    cobra.NoArgs,
		RunE:    runServe,
	}
)

func loadConfig() error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
	}

	c, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	cfg = c

	closer, err := setupLog(cfg)
	if err != nil {
		return err
	}
	logCloser = closer

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_ = logCloser()
		os.Exit(1)
	}
	_ = logCloser()
}

func init() {
	// .env in the working directory, if present
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("Could not parse .env file", "err", err)
	}

	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	flags.StringP("listen", "l", "", "address to listen on (default 127.0.0.1:47860)")
	flags.String("cache-dir", "", "cache directory")
	flags.String("backend", "", "captioning backend (blip/openai)")
	flags.Bool("debug", false, "enable debug logging")
	flags.Bool("audio", true, "play translations on the local audio device")

	// Config bindings
	_ = viper.BindPFlag("listen", flags.Lookup("listen"))
	_ = viper.BindPFlag("cache.dir", flags.Lookup("cache-dir"))
	_ = viper.BindPFlag("caption.backend", flags.Lookup("backend"))
	_ = viper.BindPFlag("debug", flags.Lookup("debug"))
	_ = viper.BindPFlag("audio.enabled", flags.Lookup("audio"))

	rootCmd.AddCommand(serveCmd, configCmd, cacheCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "captiond")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "captiond")}, dirs...)
	}

	if c := os.Getenv("CAPTIOND_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("captiond")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("captiond")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "captiond.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
