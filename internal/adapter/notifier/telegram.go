package notifier

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/semmidev/dbguardian/internal/config"
	"github.com/semmidev/dbguardian/internal/domain"
)

// Telegram bots may only upload documents up to 50 MB.
const maxDocumentBytes = 50 * 1024 * 1024

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Telegram struct {
	bot      sender
	chatID   int64
	sendFile bool
}

func NewTelegram(cfg config.TelegramConfig) (*Telegram, error) {
	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", cfg.ChatID, err)
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &Telegram{bot: bot, chatID: chatID, sendFile: cfg.SendFile}, nil
}

// BackupCompleted reports a stored artifact. The file itself is attached when
// enabled and small enough for the Bot API.
func (t *Telegram) BackupCompleted(ctx context.Context, record domain.BackupRecord, localPath string) error {
	var size int64
	if record.SizeBytes != nil {
		size = *record.SizeBytes
	}

	if t.sendFile && localPath != "" && size > 0 && size <= maxDocumentBytes {
		if _, err := os.Stat(localPath); err == nil {
			doc := tgbotapi.NewDocument(t.chatID, tgbotapi.FilePath(localPath))
			doc.Caption = fmt.Sprintf("📦 Backup: %s (%.2f MB)", record.BackupName, megabytes(size))
			if _, err := t.bot.Send(doc); err != nil {
				return fmt.Errorf("failed to send telegram file: %w", err)
			}
			return nil
		}
	}

	return t.send(completedMessage(record, size))
}

func (t *Telegram) BackupFailed(ctx context.Context, database string, cause error) error {
	return t.send(failedMessage(database, cause, time.Now()))
}

func (t *Telegram) send(text string) error {
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
		return fmt.Errorf("failed to send telegram notification: %w", err)
	}
	return nil
}

func completedMessage(record domain.BackupRecord, size int64) string {
	when := "unknown"
	if record.CreatedAt != nil {
		when = record.CreatedAt.Format("2006-01-02 15:04:05")
	}

	return fmt.Sprintf(
		"✅ Backup Created\n\n"+
			"🗄 Database: %s\n"+
			"📁 File: %s\n"+
			"💾 Storage: %s\n"+
			"📊 Size: %.2f MB\n"+
			"🕐 Time: %s",
		record.DatabaseName,
		record.BackupName,
		record.StorageKind,
		megabytes(size),
		when,
	)
}

func failedMessage(database string, cause error, at time.Time) string {
	return fmt.Sprintf(
		"❌ Backup Failed\n\n"+
			"🗄 Database: %s\n"+
			"⚠️ Error: %v\n"+
			"🕐 Time: %s",
		database,
		cause,
		at.Format("2006-01-02 15:04:05"),
	)
}

func megabytes(n int64) float64 {
	return float64(n) / (1024 * 1024)
}
