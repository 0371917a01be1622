package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/earthfetch/pkg/cmr"
	"github.com/psantana5/earthfetch/pkg/harmony"
	"github.com/psantana5/earthfetch/pkg/nsidc"
)

var (
	cfgFile      string
	outputFormat string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "earthfetch",
	Short: "Order, track and download subsetted Earthdata granules",
	Long: `earthfetch submits asynchronous subsetting orders to NSIDC and Harmony,
polls them until they finish and downloads the results with integrity checks.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return app.setup(cmd)
	},
}

// Execute adds all child commands to the root command and runs it. Cleanup
// runs whether or not the command succeeded.
func Execute() error {
	err := rootCmd.Execute()
	if cerr := app.close(); err == nil {
		err = cerr
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.earthfetch/config.yaml)")
	flags.StringVar(&outputFormat, "output", "table", "output format: table, json or yaml")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.Bool("log-json", false, "emit JSON logs")
	flags.String("cmr-url", cmr.DefaultBaseURL, "CMR search root")
	flags.String("nsidc-url", nsidc.DefaultBaseURL, "NSIDC EGI root")
	flags.String("harmony-url", harmony.DefaultRootURL, "Harmony root")
	flags.String("urs-host", "urs.earthdata.nasa.gov", "Earthdata Login host, optionally with scheme")
	flags.String("username", "", "Earthdata Login username")
	flags.String("netrc", "", "netrc file (default ~/.netrc)")
	flags.Bool("prompt", true, "prompt for credentials when none are configured")
	flags.String("ledger", defaultLedger(), "job ledger: memory, a SQLite path or a postgres:// DSN")
	flags.Float64("rate-limit", 5, "requests per second per host (0 disables)")
	flags.String("ca-file", "", "extra CA certificate to trust")
	flags.String("otlp-endpoint", "", "OTLP/HTTP collector host:port; enables tracing")
	flags.String("metrics-file", "", "write Prometheus metrics to this file at exit")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address while running (e.g. :9102)")

	for _, name := range []string{
		"log-level", "log-json", "cmr-url", "nsidc-url", "harmony-url", "urs-host",
		"username", "netrc", "prompt", "ledger", "rate-limit", "ca-file", "otlp-endpoint", "metrics-file", "metrics-addr",
	} {
		viper.BindPFlag(strings.ReplaceAll(name, "-", "_"), flags.Lookup(name))
	}

	viper.SetDefault("poll_interval", 10*time.Second)
	viper.SetDefault("poll_timeout", 2*time.Hour)
	viper.SetDefault("backoff", "fixed")
	viper.SetDefault("backoff_max", 2*time.Minute)
	viper.SetDefault("concurrency", 4)
	viper.SetDefault("fetch_token", true)
}

func defaultLedger() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "memory"
	}
	return filepath.Join(home, ".earthfetch", "jobs.db")
}

// initConfig reads in .env, the config file and ENV variables if set
func initConfig() {
	// A missing .env is the normal case
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".earthfetch"))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("EARTHFETCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.BindEnv("username", "EARTHDATA_USERNAME", "EARTHFETCH_USERNAME")
	viper.BindEnv("password", "EARTHDATA_PASSWORD", "EARTHFETCH_PASSWORD")
	viper.BindEnv("token", "EARTHDATA_TOKEN", "EARTHFETCH_TOKEN")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Error reading config %s: %v\n", cfgFile, err)
			os.Exit(1)
		}
	}
}
