package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier posts alerts to a chat through the Bot API sendMessage
// method. Alerts that carry a Trade are rendered as a fixed-width ticket.
// Info alerts are delivered without a notification sound.
type TelegramNotifier struct {
	endpoint string
	chatID   string
	client   *http.Client
}

// NewTelegramNotifier creates a Telegram notifier for the bot token issued
// by @BotFather and the target chat, group or channel ID.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return newTelegramNotifier(telegramAPI, botToken, chatID)
}

func newTelegramNotifier(base, botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		endpoint: strings.TrimRight(base, "/") + "/bot" + botToken + "/sendMessage",
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type telegramMessage struct {
	ChatID              string `json:"chat_id"`
	Text                string `json:"text"`
	ParseMode           string `json:"parse_mode"`
	DisableNotification bool   `json:"disable_notification,omitempty"`
}

// telegramReply is the Bot API error envelope.
type telegramReply struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(telegramMessage{
		ChatID:              t.chatID,
		Text:                telegramText(alert),
		ParseMode:           "MarkdownV2",
		DisableNotification: alert.Level == AlertInfo,
	})
	if err != nil {
		return fmt.Errorf("telegram: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		slog.Debug("telegram alert sent", "title", alert.Title)
		return nil
	}

	var reply telegramReply
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&reply)
	switch {
	case reply.Parameters.RetryAfter > 0:
		return fmt.Errorf("telegram: rate limited, retry after %ds", reply.Parameters.RetryAfter)
	case reply.Description != "":
		return fmt.Errorf("telegram: status %d: %s", resp.StatusCode, reply.Description)
	}
	return fmt.Errorf("telegram: unexpected status %d", resp.StatusCode)
}

var levelMarks = map[AlertLevel]string{
	AlertInfo:     "ℹ️",
	AlertWarning:  "⚠️",
	AlertCritical: "🚨",
}

// telegramText renders the MarkdownV2 body: a bold title followed by either
// the escaped message or a preformatted trade ticket.
func telegramText(a Alert) string {
	mark, ok := levelMarks[a.Level]
	if !ok {
		mark = levelMarks[AlertInfo]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n", mark, escapeMarkdown(a.Title))
	if a.Trade == nil {
		b.WriteString("\n")
		b.WriteString(escapeMarkdown(a.Message))
		return b.String()
	}
	b.WriteString("```\n")
	b.WriteString(escapePre(tradeTicket(a.Trade)))
	b.WriteString("```")
	return b.String()
}

// tradeTicket lays out a position as label/value rows, e.g.
//
//	LONG   BTC/USDT
//	size   0.5
//	entry  60000
//	stop   59400
//	target 61200
func tradeTicket(tr *Trade) string {
	rows := [][2]string{
		{tr.Side, tr.Symbol},
		{"size", fmt.Sprintf("%.8g", tr.Size)},
	}
	if tr.Closed {
		rows = append(rows, [2]string{"exit", fmt.Sprintf("%.8g", tr.Price)})
		if tr.ExitReason != "" {
			rows = append(rows, [2]string{"reason", tr.ExitReason})
		}
		rows = append(rows, [2]string{"net", fmt.Sprintf("%+.2f", tr.NetPnL)})
	} else {
		rows = append(rows, [2]string{"entry", fmt.Sprintf("%.8g", tr.Price)})
		if tr.StopLoss > 0 {
			rows = append(rows, [2]string{"stop", fmt.Sprintf("%.8g", tr.StopLoss)})
		}
		if tr.TakeProfit > 0 {
			rows = append(rows, [2]string{"target", fmt.Sprintf("%.8g", tr.TakeProfit)})
		}
	}
	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&b, "%-7s%s\n", r[0], r[1])
	}
	return b.String()
}

const markdownSpecials = "_*[]()~`>#+-=|{}.!\\"

// escapeMarkdown escapes text outside entities for MarkdownV2.
func escapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(markdownSpecials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// escapePre escapes text inside a pre block, where only ` and \ are special.
func escapePre(s string) string {
	return strings.NewReplacer(`\`, `\\`, "`", "\\`").Replace(s)
}
