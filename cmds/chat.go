package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/ipfs-force-community/nebula-gateway/api"
	"github.com/ipfs-force-community/nebula-gateway/nebula"
)

var ChatCmds = &cli.Command{
	Name:      "chat",
	Usage:     "send a message to nebula",
	ArgsUsage: "<message>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "session", Usage: "session to continue, a new one is created when empty"},
		&cli.BoolFlag{Name: "stream", Usage: "print the answer while it is streamed, needs a session"},
		&cli.BoolFlag{Name: "json", Usage: "print every message of the conversation as JSON"},
	},
	Action: func(cctx *cli.Context) error {
		message := strings.Join(cctx.Args().Slice(), " ")
		if message == "" {
			return fmt.Errorf("empty message")
		}
		sessionID := cctx.String("session")

		return withClient(cctx, func(ctx context.Context, api *api.GatewayFullNodeStruct) error {
			if cctx.Bool("stream") {
				if sessionID == "" {
					created, err := api.NebulaCreateSession(ctx, nil)
					if err != nil {
						return err
					}
					sessionID = created.ID
					fmt.Printf("session %s\n", sessionID)
				}
				return streamChat(ctx, api, sessionID, message)
			}

			reply, err := api.NebulaSendMessage(ctx, sessionID, message)
			if err != nil {
				return err
			}
			if cctx.Bool("json") {
				return printJSON(reply)
			}
			fmt.Printf("session %s\n", reply.SessionID)
			if n := len(reply.Messages); n > 0 {
				fmt.Println(reply.Messages[n-1].Text)
			}
			return nil
		})
	},
}

func streamChat(ctx context.Context, api *api.GatewayFullNodeStruct, sessionID, message string) error {
	events, err := api.NebulaChat(ctx, sessionID, message)
	if err != nil {
		return err
	}
	for event := range events {
		switch event.Event {
		case nebula.EventPresence:
			fmt.Printf("[%s] %s\n", event.Presence.Source, event.Presence.Data)
		case nebula.EventDelta:
			fmt.Print(event.Delta.V)
		case nebula.EventAction:
			fmt.Printf("\n[action %s] %s\n", event.Action.Type, string(event.Action.Data))
		}
	}
	fmt.Println()
	return nil
}

var SessionCmds = &cli.Command{
	Name:  "session",
	Usage: "manage nebula sessions",
	Subcommands: []*cli.Command{
		listSessionsCmd,
		getSessionCmd,
		createSessionCmd,
		deleteSessionCmd,
		abortCmd,
		feedbackCmd,
	},
}

var listSessionsCmd = &cli.Command{
	Name:  "list",
	Usage: "list sessions",
	Action: func(cctx *cli.Context) error {
		return withClient(cctx, func(ctx context.Context, api *api.GatewayFullNodeStruct) error {
			sessions, err := api.NebulaListSessions(ctx)
			if err != nil {
				return err
			}
			return printJSON(sessions)
		})
	},
}

var getSessionCmd = &cli.Command{
	Name:      "get",
	Usage:     "show a session with its history",
	ArgsUsage: "<session id>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return fmt.Errorf("expect one session id")
		}
		return withClient(cctx, func(ctx context.Context, api *api.GatewayFullNodeStruct) error {
			session, err := api.NebulaGetSession(ctx, cctx.Args().First())
			if err != nil {
				return err
			}
			return printJSON(session)
		})
	},
}

var createSessionCmd = &cli.Command{
	Name:  "create",
	Usage: "create a session with the saved execute config",
	Action: func(cctx *cli.Context) error {
		return withClient(cctx, func(ctx context.Context, api *api.GatewayFullNodeStruct) error {
			created, err := api.NebulaCreateSession(ctx, nil)
			if err != nil {
				return err
			}
			fmt.Println(created.ID)
			return nil
		})
	},
}

var deleteSessionCmd = &cli.Command{
	Name:      "delete",
	Usage:     "delete a session",
	ArgsUsage: "<session id>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return fmt.Errorf("expect one session id")
		}
		return withClient(cctx, func(ctx context.Context, api *api.GatewayFullNodeStruct) error {
			return api.NebulaDeleteSession(ctx, cctx.Args().First())
		})
	},
}

var abortCmd = &cli.Command{
	Name:      "abort",
	Usage:     "stop the answer being streamed in a session",
	ArgsUsage: "<session id>",
	Action: func(cctx *cli.Context) error {
		return withClient(cctx, func(ctx context.Context, api *api.GatewayFullNodeStruct) error {
			return api.NebulaAbort(ctx, cctx.Args().First())
		})
	},
}

var feedbackCmd = &cli.Command{
	Name:      "feedback",
	Usage:     "rate an answer",
	ArgsUsage: "<session id> <request id> <good|bad>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 3 {
			return fmt.Errorf("expect session id, request id and rating")
		}
		args := cctx.Args()
		return withClient(cctx, func(ctx context.Context, api *api.GatewayFullNodeStruct) error {
			return api.NebulaFeedback(ctx, args.Get(0), args.Get(1), nebula.Rating(args.Get(2)))
		})
	},
}

var ExecuteConfigCmd = &cli.Command{
	Name:      "execute-config",
	Usage:     "set how nebula executes transactions, from a JSON file",
	ArgsUsage: "<file>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "session", Usage: "also apply the config to this session"},
	},
	Action: func(cctx *cli.Context) error {
		cfg, err := readExecuteConfig(cctx.Args().First())
		if err != nil {
			return err
		}
		return withClient(cctx, func(ctx context.Context, api *api.GatewayFullNodeStruct) error {
			return api.NebulaSetExecuteConfig(ctx, cctx.String("session"), cfg)
		})
	},
}

// readExecuteConfig reads an execute config, a file holding null clears it.
func readExecuteConfig(path string) (*nebula.ExecuteConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg *nebula.ExecuteConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode execute config: %w", err)
	}
	return cfg, nil
}
