package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/jmerrifield20/minichain/internal/auth"
	"github.com/jmerrifield20/minichain/internal/chain"
)

// demoTransactions are appended by "ledger demo" when --count is not set.
var demoTransactions = []string{
	"the first transaction",
	"the second transaction",
	"the third transaction",
	"the fourth transaction",
}

// ── demo ─────────────────────────────────────────────────────────────────────

func newDemoCmd() *cobra.Command {
	var (
		count  int
		out    string
		format string
		full   bool
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Build a sample chain, print it, and verify it",
		Long: `Build a sample chain in memory, append a few transactions, print
every block, and verify the result.

With --count, N numbered transactions are appended instead, with a
progress bar. With --out, the chain is also written to a file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			if count < 0 {
				return fmt.Errorf("--count must not be negative")
			}

			c := chain.New()
			if count == 0 {
				for _, tx := range demoTransactions {
					c.Append(tx)
				}
			} else {
				bar := progressbar.NewOptions(count,
					progressbar.OptionSetWriter(cmd.ErrOrStderr()),
					progressbar.OptionClearOnFinish(),
					progressbar.OptionSetDescription("Appending blocks..."),
					progressbar.OptionShowCount(),
					progressbar.OptionShowIts(),
					progressbar.OptionSetTheme(progressbar.Theme{
						Saucer:        "=",
						SaucerHead:    ">",
						SaucerPadding: " ",
						BarStart:      "[",
						BarEnd:        "]",
					}),
				)
				for i := 1; i <= count; i++ {
					c.Append(fmt.Sprintf("transaction %d", i))
					_ = bar.Add(1)
				}
				_ = bar.Finish()
			}

			w := cmd.OutOrStdout()
			if count <= 50 {
				if err := renderRecords(w, c.Records(), format, full); err != nil {
					return err
				}
			}
			if format == formatTable {
				valid, vs := c.Verify()
				if err := renderVerify(w, "demo", valid, vs, format); err != nil {
					return err
				}
				pterm.Info.WithWriter(w).Printfln("%d block(s) after genesis, head %s", c.Len(), shortHash(c.Head().Hash(), full))
			}

			if out != "" {
				if err := writeChain(out, c); err != nil {
					return err
				}
				pterm.Success.WithWriter(cmd.ErrOrStderr()).Printfln("wrote %s", out)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "append N numbered transactions instead of the sample set")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the chain to this file")
	cmd.Flags().StringVar(&format, "format", formatTable, "output format (table|json)")
	cmd.Flags().BoolVar(&full, "full", false, "print full hashes")
	return cmd
}

// ── show ─────────────────────────────────────────────────────────────────────

func newShowCmd() *cobra.Command {
	var (
		format string
		full   bool
	)
	cmd := &cobra.Command{
		Use:   "show <file>",
		Short: "Print every block of a chain file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			c, err := readChain(args[0])
			if err != nil {
				return err
			}
			return renderRecords(cmd.OutOrStdout(), c.Records(), format, full)
		},
	}
	cmd.Flags().StringVar(&format, "format", formatTable, "output format (table|json)")
	cmd.Flags().BoolVar(&full, "full", false, "print full hashes")
	return cmd
}

// ── append ───────────────────────────────────────────────────────────────────

func newAppendCmd() *cobra.Command {
	var create bool
	cmd := &cobra.Command{
		Use:   "append <file> <transaction>...",
		Short: "Append transactions to a chain file",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			c, err := readChain(path)
			if err != nil {
				if !create || !errors.Is(err, os.ErrNotExist) {
					return err
				}
				c = chain.New()
			}
			for _, tx := range args[1:] {
				b := c.Append(tx)
				pterm.Success.WithWriter(cmd.OutOrStdout()).Printfln("block %d %s", b.Index(), shortHash(b.Hash(), false))
			}
			return writeChain(path, c)
		},
	}
	cmd.Flags().BoolVar(&create, "create", false, "start a new chain if the file does not exist")
	return cmd
}

// ── verify ───────────────────────────────────────────────────────────────────

func newVerifyCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "verify <file>",
		Short: "Check every integrity rule of a chain file",
		Long: `Check every integrity rule of a chain file and report all violations.
Exits non-zero if the chain is invalid.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			c, err := readChain(args[0])
			if err != nil {
				return err
			}
			valid, vs := c.Verify()
			if err := renderVerify(cmd.OutOrStdout(), args[0], valid, vs, format); err != nil {
				return err
			}
			if !valid {
				return errInvalidChain
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", formatTable, "output format (table|json)")
	return cmd
}

// ── fork ─────────────────────────────────────────────────────────────────────

func newForkCmd() *cobra.Command {
	var (
		at  int
		out string
	)
	cmd := &cobra.Command{
		Use:   "fork <file>",
		Short: "Copy a chain file up to and including block --at",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := readChain(args[0])
			if err != nil {
				return err
			}
			f, err := c.Fork(at)
			if err != nil {
				return err
			}
			if err := writeChain(out, f); err != nil {
				return err
			}
			pterm.Success.WithWriter(cmd.OutOrStdout()).Printfln("forked %s into %s (length %d)", args[0], out, f.Len())
			return nil
		},
	}
	cmd.Flags().IntVar(&at, "at", chain.WholeChain, "last block index to keep (default: whole chain)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "file to write the fork to")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

// ── ancestor ─────────────────────────────────────────────────────────────────

func newAncestorCmd() *cobra.Command {
	var (
		out    string
		format string
		full   bool
	)
	cmd := &cobra.Command{
		Use:   "ancestor <file-a> <file-b>",
		Short: "Find the prefix two chain files share",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			a, err := readChain(args[0])
			if err != nil {
				return err
			}
			b, err := readChain(args[1])
			if err != nil {
				return err
			}
			root := a.CommonAncestor(b)

			if out != "" {
				if err := writeChain(out, root); err != nil {
					return err
				}
			}
			w := cmd.OutOrStdout()
			if format == formatTable {
				pterm.Info.WithWriter(w).Printfln("common ancestor has length %d, head %s", root.Len(), shortHash(root.Head().Hash(), full))
			}
			return renderRecords(w, root.Records(), format, full)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the common ancestor to this file")
	cmd.Flags().StringVar(&format, "format", formatTable, "output format (table|json)")
	cmd.Flags().BoolVar(&full, "full", false, "print full hashes")
	return cmd
}

// ── hash-secret ──────────────────────────────────────────────────────────────

func newHashSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-secret [secret]",
		Short: "Print the bcrypt hash of an admin secret for auth.admin_secret_hash",
		Long: `Print the bcrypt hash of an admin secret, suitable for ledgerd's
auth.admin_secret_hash setting. Reads the secret from stdin when no
argument is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var secret string
			if len(args) == 1 {
				secret = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read secret: %w", err)
				}
				secret = strings.TrimRight(line, "\r\n")
			}
			if secret == "" {
				return fmt.Errorf("secret must not be empty")
			}
			hash, err := auth.HashSecret(secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
