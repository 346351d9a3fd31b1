// agriconnect is the terminal client of the AgriConnect API: phone/OTP login, the signed-in user and server health.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/akshithakatte/AgriConnect/internal/authclient"
	"github.com/akshithakatte/AgriConnect/internal/logging"
)

// cli carries the resolved settings shared by every subcommand.
type cli struct {
	v *viper.Viper
}

func (c *cli) apiURL() string { return c.v.GetString("api_url") }

func (c *cli) timeout() time.Duration { return c.v.GetDuration("timeout") }

func (c *cli) sessionFile() (string, error) {
	if p := c.v.GetString("session_file"); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "agriconnect", "session.json"), nil
}

func (c *cli) client() *authclient.Client {
	cl := authclient.New(c.apiURL())
	cl.HTTPClient.Timeout = c.timeout()
	return cl
}

// logger writes to the log file when one is set; stderr belongs to the terminal UI.
func (c *cli) logger() (*zap.Logger, error) {
	path := c.v.GetString("log_file")
	if path == "" {
		return zap.NewNop(), nil
	}
	lvl, err := logging.ParseLevel(c.v.GetString("log_level"))
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	return cfg.Build()
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}
	root := &cobra.Command{
		Use:           "agriconnect",
		Short:         "AgriConnect terminal client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.String("api", authclient.DefaultBaseURL, "AgriConnect API base URL (or set AGRICONNECT_API_URL)")
	flags.Duration("timeout", 15*time.Second, "HTTP request timeout")
	flags.String("session-file", "", "Where the login session is stored (default: user config dir)")
	flags.String("log-file", "", "Write debug logs to this file")
	flags.String("log-level", "info", "Log level for --log-file")

	c.v.SetEnvPrefix("AGRICONNECT")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()
	for key, flag := range map[string]string{
		"api_url":      "api",
		"timeout":      "timeout",
		"session_file": "session-file",
		"log_file":     "log-file",
		"log_level":    "log-level",
	} {
		_ = c.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(newLoginCmd(c), newWhoamiCmd(c), newHealthCmd(c), newLogoutCmd(c))
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
