package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"billingstack/cli/internal/client"
)

// settings resolves flags, COLLECTOR_* environment variables and the optional
// config file, in that order of precedence.
type settings struct {
	v       *viper.Viper
	cfgFile string
}

func (s *settings) url() string    { return s.v.GetString("url") }
func (s *settings) token() string  { return s.v.GetString("token") }
func (s *settings) output() string { return strings.ToLower(s.v.GetString("output")) }

func (s *settings) client() (*client.Client, error) {
	if s.url() == "" {
		return nil, fmt.Errorf("collector URL is not set (use --url or COLLECTOR_URL)")
	}
	return client.New(client.Config{BaseURL: s.url(), Token: s.token(), Timeout: s.v.GetDuration("timeout")}), nil
}

// render prints v as JSON when --output json is set, otherwise calls text.
func (s *settings) render(w io.Writer, v any, text func(io.Writer)) error {
	if s.output() == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

// NewRootCmd returns the root command for collectorctl.
func NewRootCmd() *cobra.Command {
	s := &settings{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "collectorctl",
		Short:         "Operator tool for the payment gateway collector",
		Long:          "collectorctl inspects gateway configs and payment methods and drives their reconciliation.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return s.load(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&s.cfgFile, "config", "", "config file (default is $HOME/.collectorctl.yaml)")
	flags.String("url", "http://localhost:18040", "collector base URL")
	flags.String("token", "", "service token or JWT")
	flags.String("output", "text", "output format: json|text")
	flags.Duration("timeout", 30*time.Second, "request timeout")

	rootCmd.AddCommand(newProvidersCmd(s))
	rootCmd.AddCommand(newConfigsCmd(s))
	rootCmd.AddCommand(newMethodsCmd(s))
	rootCmd.AddCommand(newStuckCmd(s))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func (s *settings) load(cmd *cobra.Command) error {
	if err := s.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	s.v.SetEnvPrefix("COLLECTOR")
	s.v.AutomaticEnv()

	if s.cfgFile != "" {
		s.v.SetConfigFile(s.cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		s.v.AddConfigPath(home)
		s.v.SetConfigName(".collectorctl")
		s.v.SetConfigType("yaml")
	}
	// Ignore missing config
	if err := s.v.ReadInConfig(); err != nil && s.cfgFile != "" {
		return fmt.Errorf("read config %s: %w", s.cfgFile, err)
	}

	switch s.output() {
	case "json", "text":
		return nil
	default:
		return fmt.Errorf("invalid --output %q: must be json or text", s.output())
	}
}
