package telegram

import (
	"fmt"
	"log/slog"

	"github.com/memohai/coinbot/internal/channel"
)

// Type is the registered channel type for Telegram.
const Type channel.ChannelType = "telegram"

// Config holds the credentials of one Telegram bot.
type Config struct {
	BotToken string
}

func parseConfig(raw map[string]any) (Config, error) {
	token := channel.ReadString(raw, "botToken", "bot_token")
	if token == "" {
		return Config{}, fmt.Errorf("telegram botToken is required")
	}
	return Config{BotToken: token}, nil
}

// slogBotLogger routes the library's internal logging through slog.
type slogBotLogger struct {
	log *slog.Logger
}

func (l *slogBotLogger) Println(v ...any) {
	l.log.Debug(fmt.Sprint(v...))
}

func (l *slogBotLogger) Printf(format string, v ...any) {
	l.log.Debug(fmt.Sprintf(format, v...))
}
