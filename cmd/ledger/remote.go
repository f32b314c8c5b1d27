package main

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/minichain/internal/chain"
	"github.com/jmerrifield20/minichain/pkg/client"
)

const defaultServer = "http://localhost:8080"

func newRemoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Work with chains stored on a ledgerd server",
	}
	cmd.PersistentFlags().String("server", "", "ledgerd base URL (default "+defaultServer+")")
	cmd.PersistentFlags().String("token", "", "writer token for protected routes")
	cmd.PersistentFlags().String("admin-secret", "", "admin secret to exchange for writer tokens")
	cmd.PersistentFlags().Duration("timeout", 10*time.Second, "per-request timeout")
	_ = viper.BindPFlag("server", cmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("token", cmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("admin-secret", cmd.PersistentFlags().Lookup("admin-secret"))
	_ = viper.BindPFlag("timeout", cmd.PersistentFlags().Lookup("timeout"))

	cmd.AddCommand(
		newRemoteListCmd(),
		newRemoteCreateCmd(),
		newRemoteAppendCmd(),
		newRemoteShowCmd(),
		newRemoteVerifyCmd(),
		newRemoteForkCmd(),
		newRemoteAncestorCmd(),
		newRemoteDeleteCmd(),
		newRemoteTokenCmd(),
	)
	return cmd
}

// remoteClient builds a client from flags, LEDGER_* env vars, and the config
// file, in that order of precedence.
func remoteClient() (*client.Client, error) {
	server := viper.GetString("server")
	if server == "" {
		server = defaultServer
	}
	opts := []client.Option{client.WithTimeout(viper.GetDuration("timeout"))}
	if tok := viper.GetString("token"); tok != "" {
		opts = append(opts, client.WithBearerToken(tok))
	}
	if secret := viper.GetString("admin-secret"); secret != "" {
		opts = append(opts, client.WithAdminSecret(secret, "ledger-cli"))
	}
	return client.New(server, opts...)
}

func newRemoteListCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List chains on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			c, err := remoteClient()
			if err != nil {
				return err
			}
			infos, err := c.List(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if format == formatJSON {
				return writeJSON(w, infos)
			}
			if len(infos) == 0 {
				pterm.Info.WithWriter(w).Println("no chains")
				return nil
			}
			data := pterm.TableData{{"Name", "Length", "Head"}}
			for _, in := range infos {
				data = append(data, []string{in.Name, fmt.Sprint(in.Length), shortHash(in.Head, false)})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(w).Render()
		},
	}
	cmd.Flags().StringVar(&format, "format", formatTable, "output format (table|json)")
	return cmd
}

func newRemoteCreateCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a chain; the server picks a name if none is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remoteClient()
			if err != nil {
				return err
			}
			var name string
			if len(args) == 1 {
				name = args[0]
			}
			info, err := c.Create(cmd.Context(), name)
			if err != nil {
				return err
			}
			return renderInfo(cmd.OutOrStdout(), "created", info, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", formatTable, "output format (table|json)")
	return cmd
}

func newRemoteAppendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "append <name> <transaction>...",
		Short: "Append transactions to a chain",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remoteClient()
			if err != nil {
				return err
			}
			for _, tx := range args[1:] {
				b, err := c.Append(cmd.Context(), args[0], tx)
				if err != nil {
					return err
				}
				pterm.Success.WithWriter(cmd.OutOrStdout()).Printfln("block %d %s", b.Index, shortHash(b.Hash, false))
			}
			return nil
		},
	}
}

func newRemoteShowCmd() *cobra.Command {
	var (
		from, limit int
		format      string
		full        bool
	)
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Print the blocks of a chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			c, err := remoteClient()
			if err != nil {
				return err
			}
			page, err := c.Blocks(cmd.Context(), args[0], from, limit)
			if err != nil {
				return err
			}
			return renderRecords(cmd.OutOrStdout(), fromClientBlocks(page.Blocks), format, full)
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "first block index")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of blocks (0 = all)")
	cmd.Flags().StringVar(&format, "format", formatTable, "output format (table|json)")
	cmd.Flags().BoolVar(&full, "full", false, "print full hashes")
	return cmd
}

func newRemoteVerifyCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "verify <name>",
		Short: "Verify a chain on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			c, err := remoteClient()
			if err != nil {
				return err
			}
			res, err := c.Verify(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := renderVerify(cmd.OutOrStdout(), res.Name, res.Valid, fromClientViolations(res.Violations), format); err != nil {
				return err
			}
			if !res.Valid {
				return errInvalidChain
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", formatTable, "output format (table|json)")
	return cmd
}

func newRemoteForkCmd() *cobra.Command {
	var (
		at     int
		name   string
		format string
	)
	cmd := &cobra.Command{
		Use:   "fork <name>",
		Short: "Store a copy of a chain up to block --at under a new name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remoteClient()
			if err != nil {
				return err
			}
			info, err := c.Fork(cmd.Context(), args[0], at, name)
			if err != nil {
				return err
			}
			return renderInfo(cmd.OutOrStdout(), "forked", info, format)
		},
	}
	cmd.Flags().IntVar(&at, "at", chain.WholeChain, "last block index to keep (default: whole chain)")
	cmd.Flags().StringVar(&name, "name", "", "name of the new chain (default: generated)")
	cmd.Flags().StringVar(&format, "format", formatTable, "output format (table|json)")
	return cmd
}

func newRemoteAncestorCmd() *cobra.Command {
	var (
		save   string
		format string
		full   bool
	)
	cmd := &cobra.Command{
		Use:   "ancestor <name-a> <name-b>",
		Short: "Find the prefix two chains share",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			c, err := remoteClient()
			if err != nil {
				return err
			}
			if save != "" {
				info, err := c.SaveCommonAncestor(cmd.Context(), args[0], args[1], save)
				if err != nil {
					return err
				}
				return renderInfo(cmd.OutOrStdout(), "saved", info, format)
			}
			anc, err := c.CommonAncestor(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if format == formatTable {
				pterm.Info.WithWriter(w).Printfln("common ancestor has length %d, head %s", anc.Length, shortHash(anc.Head, full))
			}
			return renderRecords(w, fromClientBlocks(anc.Blocks), format, full)
		},
	}
	cmd.Flags().StringVar(&save, "save", "", "store the common ancestor under this name")
	cmd.Flags().StringVar(&format, "format", formatTable, "output format (table|json)")
	cmd.Flags().BoolVar(&full, "full", false, "print full hashes")
	return cmd
}

func newRemoteDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remoteClient()
			if err != nil {
				return err
			}
			if err := c.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			pterm.Success.WithWriter(cmd.OutOrStdout()).Printfln("deleted %s", args[0])
			return nil
		},
	}
}

func newRemoteTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Exchange the admin secret for a writer token and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remoteClient()
			if err != nil {
				return err
			}
			tok, err := c.FetchToken(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)
			pterm.Info.WithWriter(cmd.ErrOrStderr()).Printfln("expires %s", tok.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
}
