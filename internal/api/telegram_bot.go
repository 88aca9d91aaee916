// Package api provides handlers for external APIs and interfaces
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/abelzeko/station-reducer/internal/entities"
	"github.com/abelzeko/station-reducer/internal/usecases"
)

const helpText = "Available commands:\n" +
	"/start - Start the bot\n" +
	"/fields - List the fields of your last document\n" +
	"/field [id] - Show the reduced stations of a field\n" +
	"/patterns [id] - Show the sensor activity patterns of a field\n" +
	"/runs - Show the latest stored reductions\n" +
	"/help - Show this help message\n\n" +
	"Send a field document (.xml) to reduce it."

// TelegramBot handles interactions with the Telegram API
type TelegramBot struct {
	bot     *tgbotapi.BotAPI
	useCase *usecases.ReductionUseCase
	logger  *zap.Logger

	// fetchFile downloads an uploaded document by file id
	fetchFile func(ctx context.Context, fileID string) ([]byte, error)

	mu      sync.Mutex
	batches map[int64]*entities.Batch // last reduced document per chat
}

// NewTelegramBot creates a new Telegram bot handler
func NewTelegramBot(botToken string, useCase *usecases.ReductionUseCase, logger *zap.Logger) (*TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return newTelegramBot(bot, useCase, logger), nil
}

func newTelegramBot(bot *tgbotapi.BotAPI, useCase *usecases.ReductionUseCase, logger *zap.Logger) *TelegramBot {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &TelegramBot{
		bot:     bot,
		useCase: useCase,
		logger:  logger,
		batches: make(map[int64]*entities.Batch),
	}
	t.fetchFile = t.downloadFile
	return t
}

// Start listens for and handles Telegram messages until ctx is cancelled
func (t *TelegramBot) Start(ctx context.Context) {
	t.logger.Info("Authorized on Telegram account", zap.String("account", t.bot.Self.UserName))

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := t.bot.GetUpdatesChan(u)
	t.logger.Info("Bot is now listening for messages")

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			t.handleMessage(ctx, update.Message)
		}
	}
}

// handleMessage answers one message
func (t *TelegramBot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	t.logger.Info("Received message",
		zap.String("user", userName(message)),
		zap.Int64("chat", message.Chat.ID),
		zap.String("text", message.Text))

	reply := t.respond(ctx, message)
	if _, err := t.bot.Send(reply); err != nil {
		t.logger.Error("Error sending message", zap.Error(err))
	}
}

// respond builds the reply to a message
func (t *TelegramBot) respond(ctx context.Context, message *tgbotapi.Message) tgbotapi.Chattable {
	chatID := message.Chat.ID
	switch {
	case message.Document != nil:
		return t.handleDocument(ctx, message)
	case message.IsCommand():
		return tgbotapi.NewMessage(chatID, t.handleCommand(message))
	default:
		return tgbotapi.NewMessage(chatID, t.handleNonCommand(ctx, message))
	}
}

// handleCommand processes commands like /start, /help, etc.
func (t *TelegramBot) handleCommand(message *tgbotapi.Message) string {
	log := t.logger.With(zap.String("user", userName(message)), zap.String("command", message.Command()))
	args := strings.TrimSpace(message.CommandArguments())
	batch := t.batch(message.Chat.ID)

	switch message.Command() {
	case "start":
		return "Welcome to the Station Reducer bot! Send a field document to merge redundant stations, or use /help for more information."

	case "help":
		return helpText

	case "fields":
		return t.useCase.FormatFieldList(batch)

	case "field", "patterns":
		if args == "" {
			return fmt.Sprintf("Please specify a field id. Example: /%s 01", message.Command())
		}
		if batch.Empty() {
			return "No fields loaded. Send a field document first."
		}
		f := batch.Field(args)
		if f == nil {
			return fmt.Sprintf("No field '%s' in your last document. Use /fields to see the loaded ones.", args)
		}
		if message.Command() == "patterns" {
			return t.useCase.FormatFieldPatterns(f)
		}
		return t.useCase.FormatFieldSummary(f)

	case "runs":
		runs, err := t.useCase.ListRuns(5)
		if err != nil {
			log.Warn("Error fetching runs", zap.Error(err))
			return "Run history is not available right now."
		}
		return t.useCase.FormatRuns(runs)

	default:
		log.Info("Received unknown command")
		return "Unknown command. Use /help to see available commands."
	}
}

// handleNonCommand routes free text through the natural language interpreter
func (t *TelegramBot) handleNonCommand(ctx context.Context, message *tgbotapi.Message) string {
	if strings.TrimSpace(message.Text) == "" {
		return "I don't understand. Use /help to see available commands."
	}
	reply, err := t.useCase.HandleNaturalLanguageQuery(ctx, message.Text, t.batch(message.Chat.ID))
	if err != nil || reply == "" {
		return "I don't understand. Use /help to see available commands."
	}
	return reply
}

// handleDocument reduces an uploaded field document and replies with the reduced one
func (t *TelegramBot) handleDocument(ctx context.Context, message *tgbotapi.Message) tgbotapi.Chattable {
	chatID := message.Chat.ID
	doc := message.Document
	log := t.logger.With(zap.Int64("chat", chatID), zap.String("document", doc.FileName))

	data, err := t.fetchFile(ctx, doc.FileID)
	if err != nil {
		log.Error("Failed to download document", zap.Error(err))
		return tgbotapi.NewMessage(chatID, "Sorry, I couldn't download that document.")
	}

	batch, err := t.useCase.DecodeBatch(bytes.NewReader(data), "telegram:"+doc.FileName)
	if err != nil {
		log.Warn("Invalid field document", zap.Error(err))
		return tgbotapi.NewMessage(chatID, fmt.Sprintf("That is not a valid field document: %v", err))
	}
	report, err := t.useCase.ProcessBatch(ctx, batch)
	if err != nil {
		log.Error("Failed to reduce document", zap.Error(err))
		return tgbotapi.NewMessage(chatID, fmt.Sprintf("The document could not be reduced: %v", err))
	}
	t.setBatch(chatID, batch)

	var out bytes.Buffer
	if err := t.useCase.EncodeBatch(&out, batch); err != nil {
		log.Error("Failed to encode reduced document", zap.Error(err))
		return tgbotapi.NewMessage(chatID, "Sorry, I couldn't write the reduced document.")
	}

	name := strings.TrimSuffix(doc.FileName, ".xml")
	if name == "" {
		name = "campos"
	}
	reply := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name + "_reduced.xml", Bytes: out.Bytes()})
	reply.Caption = t.useCase.FormatReport(report)
	return reply
}

// downloadFile fetches an uploaded file through the Bot API file endpoint
func (t *TelegramBot) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	url, err := t.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	res, err := t.bot.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d %s", res.StatusCode, res.Status)
	}
	return io.ReadAll(io.LimitReader(res.Body, maxDocumentBytes))
}

func (t *TelegramBot) batch(chatID int64) *entities.Batch {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.batches[chatID]
}

func (t *TelegramBot) setBatch(chatID int64, batch *entities.Batch) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.batches[chatID] = batch
}

func userName(message *tgbotapi.Message) string {
	if message.From == nil {
		return ""
	}
	return message.From.UserName
}
