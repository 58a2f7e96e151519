package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/European-XFEL/zulip-write-only-proxy/common/id"
	"github.com/European-XFEL/zulip-write-only-proxy/common/logger"
	"github.com/European-XFEL/zulip-write-only-proxy/core/config"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/http/dto"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/queue"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/service"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	app *service.Runtime
	out io.Writer
}

func newRootCmd() *cobra.Command {
	c := &cli{out: os.Stdout}

	root := &cobra.Command{
		Use:           "zwopctl",
		Short:         "Manage clients of the Zulip write-only proxy",
		Long:          `zwopctl creates and lists scoped and admin clients directly in the proxy's config directory.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd.Context())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.Close()
		},
	}

	root.AddCommand(
		c.createCmd(),
		c.createAdminCmd(),
		c.listCmd(),
		c.botsCmd(),
		c.eventsCmd(),
	)
	return root
}

func (c *cli) setup(ctx context.Context) error {
	cfg, err := config.Load(config.ServiceTypeCLI)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger.Setup(cfg, os.Stderr)

	if err := id.Init(id.NodeCLI); err != nil {
		return fmt.Errorf("initializing id generator: %w", err)
	}

	app, err := service.Configure(ctx, cfg)
	if err != nil {
		return err
	}
	c.app = app
	return nil
}

func (c *cli) createCmd() *cobra.Command {
	var (
		stream    string
		botID     int64
		botSite   string
		createdBy string
	)

	cmd := &cobra.Command{
		Use:   "create <proposal_no>",
		Short: "Create a client scoped to a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var proposalNo int
			if _, err := fmt.Sscan(args[0], &proposalNo); err != nil {
				return fmt.Errorf("invalid proposal number %q", args[0])
			}

			params := service.CreateClientParams{ProposalNo: proposalNo}
			if cmd.Flags().Changed("stream") {
				params.Stream = &stream
			}
			if cmd.Flags().Changed("bot-id") {
				params.BotID = &botID
			}
			if cmd.Flags().Changed("bot-site") {
				params.BotSite = &botSite
			}

			client, err := c.app.Services.Clients().Create(cmd.Context(), params, createdBy)
			if err != nil {
				return err
			}
			return c.print(dto.ToCreateClientResponse(client))
		},
	}

	cmd.Flags().StringVar(&stream, "stream", "", "Zulip stream, looked up in MyMdC when omitted")
	cmd.Flags().Int64Var(&botID, "bot-id", 0, "Zulip user id of an already registered bot")
	cmd.Flags().StringVar(&botSite, "bot-site", "", "Zulip site of the bot")
	cmd.Flags().StringVar(&createdBy, "created-by", "zwopctl", "Creator recorded on the client")
	return cmd
}

func (c *cli) createAdminCmd() *cobra.Command {
	var createdBy string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin client that may manage other clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.app.Services.Clients().CreateAdmin(cmd.Context(), createdBy)
			if err != nil {
				return err
			}
			return c.print(dto.ToCreateClientResponse(client))
		},
	}

	cmd.Flags().StringVar(&createdBy, "created-by", "zwopctl", "Creator recorded on the client")
	return cmd
}

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List clients, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			clients, err := c.app.Services.Clients().List(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(dto.ToClientResponses(clients))
		},
	}
}

func (c *cli) botsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bots",
		Short: "List registered bots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bots, err := c.app.Services.Bots().List(cmd.Context())
			if err != nil {
				return err
			}
			out := make([]*dto.BotResponse, 0, len(bots))
			for _, b := range bots {
				out = append(out, dto.ToBotResponse(b))
			}
			return c.print(out)
		},
	}
}

func (c *cli) eventsCmd() *cobra.Command {
	var (
		count  int64
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the audit trail of client and bot changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.app.Audit == nil {
				return errors.New("audit events are disabled, set REDIS_URL")
			}

			if !follow {
				events, err := c.app.Audit.Recent(cmd.Context(), count)
				if err != nil {
					return err
				}
				return c.print(events)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.app.Audit.Follow(ctx, func(ev queue.Event) error {
				return json.NewEncoder(c.out).Encode(ev)
			})
		},
	}

	cmd.Flags().Int64VarP(&count, "count", "n", 20, "Number of recent events to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Print new events as they are published")
	return cmd
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
