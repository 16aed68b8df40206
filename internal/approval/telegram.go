package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/okvist/waypost/internal/tasks"
)

const defaultTelegramAPIRoot = "https://api.telegram.org"

type TelegramConfig struct {
	BotToken       string
	ChatID         string
	PollInterval   time.Duration
	TimeoutSeconds int
	APIRoot        string
}

// Telegram delivers task cards through the Telegram Bot API: cards go out
// as messages with an inline keyboard, decisions come back as callback
// queries encoded "action:task_id", and plain text messages feed edit mode.
type Telegram struct {
	cfg    TelegramConfig
	offset int64
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 20
	}
	if strings.TrimSpace(cfg.APIRoot) == "" {
		cfg.APIRoot = defaultTelegramAPIRoot
	}
	return &Telegram{cfg: cfg}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) SendCard(ctx context.Context, card Card) (tasks.Binding, error) {
	var buttons []tgInlineButton
	for _, action := range card.Actions {
		buttons = append(buttons, tgInlineButton{
			Text:         buttonLabel(action),
			CallbackData: string(action) + ":" + card.TaskID,
		})
	}
	payload := map[string]interface{}{
		"chat_id": t.cfg.ChatID,
		"text":    card.Text,
		"reply_markup": map[string]interface{}{
			"inline_keyboard": [][]tgInlineButton{buttons},
		},
	}

	var out sendMessageResponse
	if err := t.call(ctx, "sendMessage", payload, &out); err != nil {
		return tasks.Binding{}, err
	}
	return tasks.Binding{
		Channel:    t.Name(),
		ChatRef:    strconv.FormatInt(out.Result.Chat.ID, 10),
		MessageRef: strconv.FormatInt(out.Result.MessageID, 10),
	}, nil
}

func (t *Telegram) EditMessage(ctx context.Context, binding tasks.Binding, text string) error {
	messageID, err := strconv.ParseInt(binding.MessageRef, 10, 64)
	if err != nil {
		return fmt.Errorf("bad message ref %q: %w", binding.MessageRef, err)
	}
	chatRef := binding.ChatRef
	if chatRef == "" {
		chatRef = t.cfg.ChatID
	}
	return t.call(ctx, "editMessageText", map[string]interface{}{
		"chat_id":    chatRef,
		"message_id": messageID,
		"text":       text,
	}, nil)
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	return t.call(ctx, "sendMessage", map[string]interface{}{
		"chat_id": t.cfg.ChatID,
		"text":    text,
	}, nil)
}

func (t *Telegram) Run(ctx context.Context, events chan<- Event) error {
	if strings.TrimSpace(t.cfg.BotToken) == "" {
		return fmt.Errorf("telegram bot token is required")
	}

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := t.pollOnce(ctx, events); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("telegram: poll error: %v", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (t *Telegram) pollOnce(ctx context.Context, events chan<- Event) error {
	result := getUpdatesResponse{}
	payload := map[string]interface{}{
		"timeout": t.cfg.TimeoutSeconds,
	}
	if offset := atomic.LoadInt64(&t.offset); offset > 0 {
		payload["offset"] = offset
	}
	if err := t.call(ctx, "getUpdates", payload, &result); err != nil {
		return err
	}

	for _, upd := range result.Result {
		if upd.UpdateID >= atomic.LoadInt64(&t.offset) {
			atomic.StoreInt64(&t.offset, upd.UpdateID+1)
		}

		if upd.CallbackQuery != nil {
			t.handleCallback(ctx, *upd.CallbackQuery, events)
			continue
		}
		text := strings.TrimSpace(upd.Message.Text)
		if upd.Message.MessageID == 0 || text == "" {
			continue
		}
		events <- Event{
			Kind:     KindFreeText,
			ReplyRef: strconv.FormatInt(upd.Message.Chat.ID, 10),
			Text:     text,
		}
	}
	return nil
}

func (t *Telegram) handleCallback(ctx context.Context, cb callbackQuery, events chan<- Event) {
	// Acknowledge first so the client stops its spinner even for bad data.
	if err := t.call(ctx, "answerCallbackQuery", map[string]interface{}{
		"callback_query_id": cb.ID,
	}, nil); err != nil {
		log.Printf("telegram: answer callback: %v", err)
	}

	action, taskID, ok := strings.Cut(cb.Data, ":")
	if !ok || taskID == "" {
		log.Printf("telegram: malformed callback data %q", cb.Data)
		return
	}
	switch DecisionAction(action) {
	case ActionApprove, ActionEdit, ActionCancel:
	default:
		log.Printf("telegram: unknown callback action %q", action)
		return
	}
	events <- Event{
		Kind:     KindDecision,
		Action:   DecisionAction(action),
		TaskID:   taskID,
		ReplyRef: strconv.FormatInt(cb.Message.Chat.ID, 10),
	}
}

func (t *Telegram) call(ctx context.Context, method string, payload interface{}, out interface{}) error {
	url := strings.TrimRight(t.cfg.APIRoot, "/") + "/bot" + t.cfg.BotToken + "/" + method
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("telegram api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var base apiResponse
	if err := json.Unmarshal(respBody, &base); err != nil {
		return err
	}
	if !base.OK {
		return fmt.Errorf("telegram api error: %s", base.Description)
	}

	if out != nil {
		return json.Unmarshal(respBody, out)
	}
	return nil
}

func buttonLabel(action DecisionAction) string {
	switch action {
	case ActionApprove:
		return "✅ Approve"
	case ActionEdit:
		return "✏️ Edit"
	case ActionCancel:
		return "❌ Cancel"
	default:
		return string(action)
	}
}

type tgInlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

type sendMessageResponse struct {
	apiResponse
	Result struct {
		MessageID int64 `json:"message_id"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"result"`
}

type getUpdatesResponse struct {
	apiResponse
	Result []update `json:"result"`
}

type update struct {
	UpdateID      int64           `json:"update_id"`
	Message       telegramMessage `json:"message"`
	CallbackQuery *callbackQuery  `json:"callback_query,omitempty"`
}

type telegramMessage struct {
	MessageID int64 `json:"message_id"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Text string `json:"text"`
}

type callbackQuery struct {
	ID      string          `json:"id"`
	Data    string          `json:"data"`
	Message telegramMessage `json:"message"`
}
