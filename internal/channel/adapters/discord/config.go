package discord

import (
	"fmt"

	"github.com/memohai/coinbot/internal/channel"
)

// Type is the registered channel type for Discord.
const Type channel.ChannelType = "discord"

// Config holds the credentials of one Discord bot.
type Config struct {
	BotToken string
}

func parseConfig(raw map[string]any) (Config, error) {
	token := channel.ReadString(raw, "botToken", "bot_token")
	if token == "" {
		return Config{}, fmt.Errorf("discord botToken is required")
	}
	return Config{BotToken: token}, nil
}
