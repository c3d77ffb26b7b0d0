// Package bot is the Telegram transport around the extraction pipeline. It
// owns download, command routing and user-facing text; the pipeline only ever
// sees already-downloaded bytes.
package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/facturabot/facturabot/internal/extraction"
	"github.com/facturabot/facturabot/internal/invoice"
)

const (
	maxDocumentBytes = 20 * 1024 * 1024

	// Telegram caps messages at 4096 chars; keep the JSON reply under that
	// with room for the truncation marker.
	maxReplyBytes = 3800

	submissionTimeout = 2 * time.Minute
)

// Extractor is the pipeline capability the bot depends on.
type Extractor interface {
	Extract(ctx context.Context, doc extraction.Document, hint string) (*invoice.InvoiceRecord, error)
}

// Bot polls Telegram for invoice submissions.
type Bot struct {
	api        *tgbotapi.BotAPI
	extractor  Extractor
	hints      HintStore
	log        *slog.Logger
	httpClient *http.Client
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a Telegram bot.
func New(token string, extractor Extractor, hints HintStore, logger *slog.Logger) (*Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		api:        api,
		extractor:  extractor,
		hints:      hints,
		log:        logger,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Username returns the bot account name.
func (b *Bot) Username() string { return b.api.Self.UserName }

// Start begins long polling. It returns immediately; updates are handled in
// a background goroutine until Stop.
func (b *Bot) Start() {
	b.wg.Add(1)
	go b.run()
}

// Stop halts polling and waits for the in-flight update to finish.
func (b *Bot) Stop() {
	b.cancel()
	b.api.StopReceivingUpdates()
	b.wg.Wait()
}

func (b *Bot) run() {
	defer b.wg.Done()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := b.handleUpdate(update); err != nil {
				b.log.Error("handling update failed", "error", err)
			}
		}
	}
}

func (b *Bot) handleUpdate(update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil {
		return nil
	}

	switch {
	case msg.IsCommand():
		return b.handleCommand(msg)
	case len(msg.Photo) > 0:
		// Submissions run off the poll loop: one chat's extraction must not
		// stall updates from other chats.
		b.dispatch(func() error { return b.handlePhoto(msg) })
	case msg.Document != nil:
		b.dispatch(func() error { return b.handleDocument(msg) })
	case msg.Text != "":
		return b.handleText(msg)
	}
	return nil
}

// dispatch runs fn in a background goroutine tracked by the bot's wait group,
// so Stop still waits for in-flight submissions.
func (b *Bot) dispatch(fn func() error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := fn(); err != nil {
			b.log.Error("handling submission failed", "error", err)
		}
	}()
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.send(msg.Chat.ID,
			"Hola! Envía una foto de una factura (o un documento de imagen o PDF).\n"+
				"Opcionalmente añade texto con pistas. Te devolveré un JSON con los datos extraídos.")
	case "help":
		return b.send(msg.Chat.ID,
			"Instrucciones:\n"+
				"- Envía una foto nítida de la factura, o un PDF.\n"+
				"- Puedes añadir un mensaje con pistas (p. ej., moneda por defecto).\n"+
				"- Recibirás un JSON con propiedades en inglés.")
	default:
		return b.send(msg.Chat.ID, "Comando desconocido. Usa /help para ver las instrucciones.")
	}
}

// handleText stores the message as the hint for the next submitted document.
func (b *Bot) handleText(msg *tgbotapi.Message) error {
	if err := b.hints.Save(msg.Chat.ID, msg.Text); err != nil {
		b.log.Error("saving hint failed", "chat_id", msg.Chat.ID, "error", err)
	}
	return b.send(msg.Chat.ID, "Gracias. Ahora envía la imagen de la factura para extraer los datos.")
}

func (b *Bot) handlePhoto(msg *tgbotapi.Message) error {
	// Take the highest resolution variant.
	photo := msg.Photo[len(msg.Photo)-1]

	data, err := b.downloadFile(photo.FileID)
	if err != nil {
		b.log.Error("downloading photo failed", "chat_id", msg.Chat.ID, "error", err)
		return b.send(msg.Chat.ID, "Error descargando la imagen.")
	}

	return b.process(msg, data, "image/jpeg")
}

func (b *Bot) handleDocument(msg *tgbotapi.Message) error {
	doc := msg.Document

	mimeType := strings.ToLower(strings.TrimSpace(doc.MimeType))
	if !strings.HasPrefix(mimeType, "image/") && mimeType != "application/pdf" {
		return b.send(msg.Chat.ID, "El documento no es una imagen o PDF compatible.")
	}
	if doc.FileSize > maxDocumentBytes {
		return b.send(msg.Chat.ID, "El archivo es demasiado grande (máximo 20 MB).")
	}

	data, err := b.downloadFile(doc.FileID)
	if err != nil {
		b.log.Error("downloading document failed", "chat_id", msg.Chat.ID, "error", err)
		return b.send(msg.Chat.ID, "Error descargando el documento.")
	}

	return b.process(msg, data, mimeType)
}

func (b *Bot) process(msg *tgbotapi.Message, data []byte, mimeType string) error {
	chatID := msg.Chat.ID

	b.api.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))

	// A caption on the submission wins over a previously stored hint.
	hint := strings.TrimSpace(msg.Caption)
	if hint == "" {
		stored, err := b.hints.Get(chatID)
		if err != nil {
			b.log.Warn("reading hint failed", "chat_id", chatID, "error", err)
		}
		hint = stored
	}

	ctx, cancel := context.WithTimeout(b.ctx, submissionTimeout)
	defer cancel()

	rec, err := b.extractor.Extract(ctx, extraction.Document{Data: data, MIMEType: mimeType}, hint)
	if err != nil {
		b.log.Error("extraction failed", "chat_id", chatID, "kind", extraction.KindOf(err), "error", err)
		return b.send(chatID, userMessage(err))
	}

	if err := b.hints.Clear(chatID); err != nil {
		b.log.Warn("clearing hint failed", "chat_id", chatID, "error", err)
	}

	text, err := rec.CompactJSON()
	if err != nil {
		b.log.Error("rendering record failed", "chat_id", chatID, "error", err)
		return b.send(chatID, "Error procesando la factura.")
	}
	if len(text) > maxReplyBytes {
		text = truncateUTF8(text, maxReplyBytes-100) + "..."
	}

	return b.send(chatID, text)
}

// userMessage maps a pipeline failure kind to the user-facing text. This is
// the only place extraction errors become human copy.
func userMessage(err error) string {
	switch extraction.KindOf(err) {
	case extraction.KindUnsupportedFormat:
		return "El documento no es una imagen o PDF compatible."
	case extraction.KindRenderFailure:
		return "No se pudo leer el documento. Prueba con otro archivo."
	case extraction.KindPageLimitExceeded:
		return "El documento tiene demasiadas páginas."
	case extraction.KindModelUnavailable, extraction.KindMalformedOutput:
		return "El servicio de extracción no está disponible ahora mismo. Inténtalo de nuevo en unos minutos."
	case extraction.KindSchemaViolation:
		return "No se pudo entender el documento."
	default:
		return "Error procesando la factura."
	}
}

// truncateUTF8 cuts text at limit bytes, backing up so a multibyte rune is
// never severed. Telegram rejects messages with invalid UTF-8 outright.
func truncateUTF8(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}

func (b *Bot) downloadFile(fileID string) ([]byte, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("getting file info: %w", err)
	}

	resp, err := b.httpClient.Get(file.Link(b.api.Token))
	if err != nil {
		return nil, fmt.Errorf("downloading file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading file: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	if len(data) > maxDocumentBytes {
		return nil, fmt.Errorf("file exceeds %d bytes", maxDocumentBytes)
	}
	return data, nil
}

func (b *Bot) send(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := b.api.Send(msg)
	return err
}
