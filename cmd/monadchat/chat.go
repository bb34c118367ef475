package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/antoniostano/monadchat/internal/app"
	"github.com/antoniostano/monadchat/internal/chat"
	"github.com/antoniostano/monadchat/internal/session"
	"github.com/antoniostano/monadchat/internal/usage"
)

var (
	chatAddress  string
	chatEndpoint string
	chatState    string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with Monad AI in the terminal",
	Long: `Opens an interactive chat for one wallet address. Conversations and the
daily quota are kept in a local sqlite file.

Answers come from --endpoint (a running "monadchat serve" /api/chat URL) when
given, otherwise straight from the configured model provider.

Commands:
  /new        start a new conversation
  /list       list conversations
  /open N     switch to conversation N from /list
  /usage      show today's quota
  /quit       exit`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatAddress, "address", "", "wallet address to chat as (required)")
	chatCmd.Flags().StringVar(&chatEndpoint, "endpoint", "", "chat endpoint URL, e.g. http://localhost:8080/api/chat")
	chatCmd.Flags().StringVar(&chatState, "state", defaultStatePath(), "local state file")
	_ = chatCmd.MarkFlagRequired("address")
}

func runChat(cmd *cobra.Command, _ []string) error {
	if !common.IsHexAddress(chatAddress) {
		return fmt.Errorf("--address %q is not a wallet address", chatAddress)
	}
	cfg, err := loadLocalConfig(chatState)
	if err != nil {
		return err
	}
	if chatEndpoint != "" {
		cfg.CompletionMode = "http"
		cfg.ChatEndpointURL = chatEndpoint
	}

	core, err := app.BuildCore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer core.Close()

	r := &repl{
		identity:   usage.NormalizeIdentity(chatAddress),
		controller: core.Controller,
		ledger:     core.Ledger,
		out:        cmd.OutOrStdout(),
	}
	r.store = core.Chats.For(r.identity)
	return r.run(cmd.Context(), cmd.InOrStdin())
}

// repl is the line-oriented chat loop.
type repl struct {
	identity   string
	controller *session.Controller
	ledger     *usage.Ledger
	store      chat.Store
	out        io.Writer

	current string
	listed  []chat.Conversation
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	r.current = r.openLatest(ctx)
	fmt.Fprintf(r.out, "Monad AI, chatting as %s. Type /quit to exit.\n", r.identity)
	r.printUsage(ctx)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, line)
			if err != nil {
				fmt.Fprintf(r.out, "%v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}
		r.send(ctx, line)
	}
}

func (r *repl) command(ctx context.Context, line string) (quit bool, err error) {
	name, arg, _ := strings.Cut(line, " ")
	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/new":
		conv := r.store.Create()
		r.store.Save(ctx, conv)
		r.current = conv.ID
		fmt.Fprintln(r.out, "Started a new chat.")
	case "/list":
		r.listed = r.store.List(ctx)
		for i, c := range r.listed {
			marker := " "
			if c.ID == r.current {
				marker = "*"
			}
			fmt.Fprintf(r.out, "%s %d. %s (%d messages)\n", marker, i+1, c.Title, len(c.Messages))
		}
	case "/open":
		n, convErr := strconv.Atoi(strings.TrimSpace(arg))
		if convErr != nil || n < 1 || n > len(r.listed) {
			return false, errors.New("usage: /open N, with N from /list")
		}
		conv := r.listed[n-1]
		r.current = conv.ID
		for _, m := range conv.Messages {
			fmt.Fprintf(r.out, "[%s] %s\n", m.Role, m.Content)
		}
	case "/usage":
		r.printUsage(ctx)
	default:
		return false, fmt.Errorf("unknown command %s", name)
	}
	return false, nil
}

func (r *repl) send(ctx context.Context, text string) {
	res, err := r.controller.Send(ctx, session.SendRequest{
		Identity:       r.identity,
		ConversationID: r.current,
		Content:        text,
	}, func(fragment, _ string) {
		fmt.Fprint(r.out, fragment)
	})
	switch {
	case errors.Is(err, session.ErrQuotaExceeded):
		fmt.Fprintf(r.out, "Daily limit reached. Resets in %s.\n", usage.FormatResetIn(r.ledger.TimeUntilReset()))
		return
	case errors.Is(err, session.ErrConversationNotFound):
		// The conversation was deleted elsewhere; start over.
		r.current = r.openLatest(ctx)
		fmt.Fprintln(r.out, "That chat no longer exists; switched chats. Please resend.")
		return
	case err != nil:
		fmt.Fprintf(r.out, "%v\n", err)
		return
	}
	if res.Failed {
		fmt.Fprintf(r.out, "\n%s\n", res.Reply.Content)
		return
	}
	fmt.Fprintln(r.out)
}

func (r *repl) printUsage(ctx context.Context) {
	st := r.ledger.Snapshot(ctx, r.identity)
	fmt.Fprintln(r.out, formatStatus(st))
}

// openLatest returns the most recent conversation, creating one when none exist.
func (r *repl) openLatest(ctx context.Context) string {
	if list := r.store.List(ctx); len(list) > 0 {
		return list[0].ID
	}
	conv := r.store.Create()
	r.store.Save(ctx, conv)
	return conv.ID
}

func formatStatus(st usage.Status) string {
	if st.Unlimited {
		return "Premium: unlimited messages."
	}
	return fmt.Sprintf("%d/%d messages left today, resets in %s.", st.Remaining, st.DailyLimit, st.ResetIn)
}
