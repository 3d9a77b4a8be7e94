// Package notify отправляет операторам уведомления о новых заявках и покупках.
package notify

import (
	"context"
	"fmt"
	"strings"

	"tarot-system/internal/config"
	"tarot-system/internal/logger"
	"tarot-system/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier реагирует на доменные события
type Notifier interface {
	HandleEvent(ctx context.Context, event *models.Event) error
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier пишет в чат операторов
type TelegramNotifier struct {
	bot    sender
	chatID int64
	log    *logger.Logger
}

// NoopNotifier используется, когда уведомления выключены
type NoopNotifier struct{}

// HandleEvent ничего не делает
func (NoopNotifier) HandleEvent(context.Context, *models.Event) error { return nil }

// New создает Telegram-уведомитель или NoopNotifier, если канал не настроен.
func New(cfg *config.TelegramConfig, log *logger.Logger) (Notifier, error) {
	if !cfg.Enabled || cfg.BotToken == "" || cfg.ChatID == 0 {
		log.Info("Telegram notifications disabled")
		return NoopNotifier{}, nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	log.WithField("bot", bot.Self.UserName).Info("Telegram notifier ready")
	return newTelegramNotifier(bot, cfg.ChatID, log), nil
}

func newTelegramNotifier(bot sender, chatID int64, log *logger.Logger) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chatID: chatID, log: log}
}

// HandleEvent отправляет сообщение для событий, требующих внимания оператора.
// Остальные события игнорируются.
func (n *TelegramNotifier) HandleEvent(ctx context.Context, event *models.Event) error {
	text := formatEvent(event)
	if text == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true

	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}

	n.log.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
	}).Debug("Operator notified")

	return nil
}

func formatEvent(event *models.Event) string {
	var b strings.Builder

	switch event.Type {
	case models.EventTypeSessionRequested:
		b.WriteString("🔮 *Nova consulta solicitada*\n")
		fmt.Fprintf(&b, "Sessão: `%s`\n", event.EntityID)
		writeField(&b, "Tarólogo", event.Data["consultant_id"])
		writeField(&b, "Minutos", event.Data["minutes_purchased"])
	case models.EventTypePurchaseCreated:
		b.WriteString("💳 *Nova compra aguardando aprovação*\n")
		fmt.Fprintf(&b, "Compra: `%s`\n", event.EntityID)
		writeField(&b, "Minutos", event.Data["minutes"])
		writeField(&b, "Bônus", event.Data["bonus_minutes"])
		writeField(&b, "Valor", event.Data["value"])
	default:
		return ""
	}

	if event.UserID != nil {
		fmt.Fprintf(&b, "Cliente: `%s`", *event.UserID)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeField(b *strings.Builder, name string, value interface{}) {
	if value == nil {
		return
	}
	fmt.Fprintf(b, "%s: %v\n", name, value)
}
