package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/warometer/internal/telegram"
)

var errNoBotToken = errors.New("telegram bot token not configured")

type chatLister interface {
	RecentChats(ctx context.Context) ([]telegram.Chat, error)
}

func newChatIDCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chatid",
		Short: "List chats that recently messaged the bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if cfg.Telegram.BotToken == "" {
				fmt.Fprintln(cmd.ErrOrStderr(), "ERROR: TELEGRAM_BOT_TOKEN not set")
				return errNoBotToken
			}
			return printChats(cmd.Context(), cmd.OutOrStdout(), newTelegramClient(cfg))
		},
	}
}

func printChats(ctx context.Context, w io.Writer, lister chatLister) error {
	chats, err := lister.RecentChats(ctx)
	if err != nil {
		fmt.Fprintf(w, "ERROR: %v\n", err)
		return err
	}

	if len(chats) == 0 {
		fmt.Fprintln(w, "No messages found.")
		fmt.Fprintln(w, "\nTo get your chat ID:")
		fmt.Fprintln(w, "1. Open Telegram and find your bot")
		fmt.Fprintln(w, "2. Send /start or any message to your bot")
		fmt.Fprintln(w, "3. Run this command again")
		return nil
	}

	fmt.Fprint(w, "Recent chats with your bot:\n\n")
	for _, chat := range chats {
		fmt.Fprintf(w, "  Chat ID: %d\n", chat.ID)
		fmt.Fprintf(w, "  Type: %s\n", chat.Type)
		fmt.Fprintf(w, "  Name: %s\n", chat.Name)
		if chat.Username != "" {
			fmt.Fprintf(w, "  Username: @%s\n", chat.Username)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, strings.Repeat("-", 40))
	fmt.Fprintln(w, "Copy the Chat ID above into your .env file as TELEGRAM_CHAT_ID")
	return nil
}
