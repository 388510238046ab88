package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/crewchat/internal/client"
	"github.com/zjrosen/crewchat/internal/log"
)

var (
	chatServer       string
	chatConversation string
	chatUser         string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the crew from the terminal",
	Long: `Start an interactive conversation. Each line you type is one message.

Without --server the crew runs in this process against the local database.
With --server the turns go to a running "crewchat serve".

Commands:
  /new    start a new conversation
  /quit   exit`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatServer, "server", "s", "", "base URL of a crewchat server, e.g. http://127.0.0.1:8787")
	chatCmd.Flags().StringVar(&chatConversation, "conversation", "", "resume an existing conversation")
	chatCmd.Flags().StringVarP(&chatUser, "user", "u", defaultUser(), "user id that owns the conversation")
	rootCmd.AddCommand(chatCmd)
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local-user"
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var transport client.Transport
	if chatServer != "" {
		transport = client.NewHTTPTransport(chatServer, client.WithUserID(chatUser))
	} else {
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
			defer cancel()
			if err := a.Close(closeCtx); err != nil {
				log.ErrorErr(log.CatClient, "Shutdown incomplete", err)
			}
		}()
		transport = client.NewLocalTransport(a.coordinator, a.db.Store(), a.db.Broker())
	}

	return chatLoop(ctx, transport, cmd.InOrStdin(), cmd.OutOrStdout(), chatUser, chatConversation)
}

// chatLoop reads one utterance per line until EOF, /quit, or ctx ends.
func chatLoop(ctx context.Context, transport client.Transport, in io.Reader, out io.Writer, userID, conversationID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	renderer := newTranscriptRenderer(out)
	newSession := func() *client.Session {
		s := client.NewSession(transport, userID)
		s.OnChange(renderer.Render)
		return s
	}

	session := newSession()
	defer func() { session.Close() }()

	if conversationID != "" {
		if err := session.SetConversation(ctx, conversationID); err != nil {
			return fmt.Errorf("resuming conversation: %w", err)
		}
	}

	lines := make(chan string)
	log.SafeGo("chat.stdin", func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	})

	for {
		renderer.Prompt()
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/new":
			session.Close()
			session = newSession()
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		err := session.Send(sendCtx, line)
		cancel()
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			renderer.Error(err)
		}
	}
}
