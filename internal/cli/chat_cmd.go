package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soyeahso/koko/internal/chat"
	"github.com/soyeahso/koko/internal/domain"
	"github.com/soyeahso/koko/internal/routing"
)

// errNoProvider is returned by commands that need a model.
var errNoProvider = errors.New("no LLM provider configured (set llm.apiKey, ANTHROPIC_API_KEY or GEMINI_API_KEY, or use llm.provider ollama)")

func newChatCmd() *cobra.Command {
	var (
		home     string
		listJSON string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to Koko from the terminal",
		Long: "With a message, runs one turn and prints the reply and the updated list.\n" +
			"Without one, starts an interactive session reading lines from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			var list []domain.ShoppingListItem
			if listJSON != "" {
				if err := json.Unmarshal([]byte(listJSON), &list); err != nil {
					return fmt.Errorf("parsing --list: %w", err)
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.chat == nil {
				return errNoProvider
			}

			c := &chatLoop{turns: a.chat, out: cmd.OutOrStdout(), home: home, list: list, json: asJSON}
			if len(args) > 0 {
				return c.send(ctx, strings.Join(args, " "))
			}
			return c.repl(ctx, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVar(&home, "home", "", "home address passed to location tools")
	cmd.Flags().StringVar(&listJSON, "list", "", "starting shopping list as JSON")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print each turn result as JSON")

	return cmd
}

// chatLoop keeps the session id and list between terminal turns, the way
// the mobile client does.
type chatLoop struct {
	turns     routing.Chatter
	out       io.Writer
	home      string
	sessionID string
	list      []domain.ShoppingListItem
	json      bool
}

func (c *chatLoop) send(ctx context.Context, message string) error {
	res, err := c.turns.Turn(ctx, chat.TurnRequest{
		Message:      message,
		ShoppingList: c.list,
		SessionID:    c.sessionID,
		HomeAddress:  c.home,
	})
	if err != nil {
		return err
	}
	c.sessionID = res.SessionID
	c.list = res.UpdatedList

	if c.json {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintln(c.out, res.Reply)
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, routing.RenderList(c.list))
	return nil
}

func (c *chatLoop) repl(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(c.out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit" || line == "/exit":
			return nil
		case line == routing.CommandList:
			fmt.Fprintln(c.out, routing.RenderList(c.list))
		case line == routing.CommandClear:
			c.list = nil
			fmt.Fprintln(c.out, "Your shopping list is now empty.")
		default:
			if err := c.send(ctx, line); err != nil {
				// Turn errors are caller-safe; keep the session going.
				fmt.Fprintln(c.out, err)
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(c.out, "> ")
	}
	return scanner.Err()
}
