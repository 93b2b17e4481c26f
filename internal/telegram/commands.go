package telegram

import (
	"fmt"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Commands maps bot commands to the text they stand for, so /start behaves
// like typing a greeting.
type Commands struct {
	bot         *Bot
	logger      zerolog.Logger
	aliases     map[string]string
	description map[string]string
}

// NewCommands creates the default command set
func NewCommands(bot *Bot) *Commands {
	c := &Commands{
		bot:         bot,
		logger:      bot.logger.With().Str("module", "commands").Logger(),
		aliases:     make(map[string]string),
		description: make(map[string]string),
	}
	c.Register("start", "iniciar", "Começar uma nova impressão")
	c.Register("iniciar", "iniciar", "Começar uma nova impressão")
	return c
}

// Register maps /command to text
func (c *Commands) Register(command, text, description string) {
	command = strings.ToLower(strings.TrimPrefix(command, "/"))
	c.aliases[command] = text
	c.description[command] = description
	c.logger.Debug().Str("command", command).Msg("Command registered")
}

// Unregister removes a command
func (c *Commands) Unregister(command string) {
	command = strings.ToLower(strings.TrimPrefix(command, "/"))
	delete(c.aliases, command)
	delete(c.description, command)
}

// Alias returns the text a command stands for
func (c *Commands) Alias(command string) (string, bool) {
	text, ok := c.aliases[strings.ToLower(command)]
	return text, ok
}

// GetRegisteredCommands returns the registered commands in name order
func (c *Commands) GetRegisteredCommands() []string {
	commands := make([]string, 0, len(c.aliases))
	for cmd := range c.aliases {
		commands = append(commands, cmd)
	}
	sort.Strings(commands)
	return commands
}

// Publish sets the bot's command list in Telegram
func (c *Commands) Publish() error {
	names := c.GetRegisteredCommands()
	commands := make([]tgbotapi.BotCommand, 0, len(names))
	for _, name := range names {
		commands = append(commands, tgbotapi.BotCommand{Command: name, Description: c.description[name]})
	}

	if _, err := c.bot.api.Request(tgbotapi.NewSetMyCommands(commands...)); err != nil {
		return fmt.Errorf("failed to set commands: %w", err)
	}

	c.logger.Info().Int("count", len(commands)).Msg("Bot commands updated")
	return nil
}
