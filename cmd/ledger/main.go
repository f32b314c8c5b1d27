package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

// errInvalidChain makes the process exit non-zero after a failed verify
// without printing a second error line.
var errInvalidChain = errors.New("chain failed verification")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errInvalidChain) {
			pterm.Error.WithWriter(os.Stderr).Println(err)
		}
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and manage hash-chained ledgers",
		Long: `ledger works with minimal append-only hash-chained ledgers.

Local commands operate on chain files (JSON). The remote commands talk
to a ledgerd server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				viper.SetConfigFile(cfgFile)
			} else {
				home, _ := os.UserHomeDir()
				viper.AddConfigPath(home + "/.ledger")
				viper.SetConfigName("config")
				viper.SetConfigType("yaml")
			}
			viper.SetEnvPrefix("ledger")
			viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
			viper.AutomaticEnv()

			if err := viper.ReadInConfig(); err != nil {
				var notFound viper.ConfigFileNotFoundError
				if cfgFile != "" || !errors.As(err, &notFound) {
					return fmt.Errorf("read config: %w", err)
				}
			}
			if viper.GetBool("no-color") {
				pterm.DisableStyling()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.ledger/config.yaml)")
	root.PersistentFlags().Bool("no-color", false, "disable colored output")
	_ = viper.BindPFlag("no-color", root.PersistentFlags().Lookup("no-color"))

	root.AddCommand(
		newDemoCmd(),
		newShowCmd(),
		newAppendCmd(),
		newVerifyCmd(),
		newForkCmd(),
		newAncestorCmd(),
		newHashSecretCmd(),
		newRemoteCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the ledger CLI version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "ledger "+version)
			},
		},
	)
	return root
}
