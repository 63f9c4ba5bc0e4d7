package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"PlumFinder/internal/domain"
	"PlumFinder/internal/ports"
)

const (
	channel = "telegram"
	// maxMessageLen is the Bot API limit for one sendMessage text.
	maxMessageLen = 4096
)

// Notifier sends digests to a Telegram chat via bot API.
type Notifier struct {
	apiURL   string
	botToken string
	chatID   string
	client   *http.Client
	logger   *zap.Logger
}

var _ ports.Deliverer = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier.
func NewNotifier(apiURL, botToken, chatID string, logger *zap.Logger) *Notifier {
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		apiURL:   strings.TrimRight(apiURL, "/"),
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger.Named("telegram"),
	}
}

// Channel implements ports.Deliverer.
func (n *Notifier) Channel() string { return channel }

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// Deliver posts the digest, split into as many messages as the API limit
// requires. The receipt is accepted only if every message was.
func (n *Notifier) Deliver(ctx context.Context, items []domain.DeliveryItem) (domain.DeliveryReceipt, error) {
	receipt := domain.DeliveryReceipt{Channel: channel}
	if n.botToken == "" || n.chatID == "" || n.client == nil {
		return receipt, fmt.Errorf("telegram notifier misconfigured")
	}

	messages := FormatDigest(items)
	for i, text := range messages {
		id, err := n.send(ctx, text)
		if err != nil {
			return receipt, fmt.Errorf("send part %d/%d: %w", i+1, len(messages), err)
		}
		if i == 0 {
			receipt.MessageID = strconv.FormatInt(id, 10)
		}
	}

	receipt.Accepted = true
	n.logger.Info("digest sent",
		zap.String("message_id", receipt.MessageID),
		zap.Int("items", len(items)),
		zap.Int("messages", len(messages)))
	return receipt, nil
}

func (n *Notifier) send(ctx context.Context, text string) (int64, error) {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiURL, n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", text)
	form.Set("parse_mode", "HTML")
	form.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("telegram error: %s", resp.Status)
	}

	var parsed sendMessageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	if !parsed.OK {
		return 0, fmt.Errorf("telegram rejected message: %s", parsed.Description)
	}
	return parsed.Result.MessageID, nil
}

// FormatDigest renders items as HTML-formatted chat messages, each within the
// API length limit. Items are never split across messages; an entry too long
// for a message on its own has its title shortened.
func FormatDigest(items []domain.DeliveryItem) []string {
	header := fmt.Sprintf("<b>Plum Finds - %d new</b>\n\n", len(items))
	entryLimit := maxMessageLen - len(header)

	var (
		messages []string
		current  strings.Builder
		entries  int
	)
	current.WriteString(header)
	for i, it := range items {
		entry := formatItem(i+1, it, entryLimit)
		if entries > 0 && current.Len()+len(entry) > maxMessageLen {
			messages = append(messages, strings.TrimRight(current.String(), "\n"))
			current.Reset()
			entries = 0
		}
		current.WriteString(entry)
		entries++
	}
	if current.Len() > 0 {
		messages = append(messages, strings.TrimRight(current.String(), "\n"))
	}
	return messages
}

// formatItem renders one entry of at most limit bytes.
func formatItem(rank int, it domain.DeliveryItem, limit int) string {
	details := fmt.Sprintf("%s · %s · %s · score %.2f\n\n",
		html.EscapeString(it.PriceText()), html.EscapeString(it.DistanceText()),
		html.EscapeString(it.Source), it.CompositeScore)

	title := []rune(it.Title)
	link := func(title []rune) string {
		return fmt.Sprintf("%d. <a href=\"%s\">%s</a>\n", rank, html.EscapeString(it.ListingURL), html.EscapeString(string(title)))
	}
	entry := link(title) + details
	for len(entry) > limit && len(title) > 0 {
		title = shorten(title, len(entry)-limit)
		entry = link(title) + details
	}
	if len(entry) <= limit {
		return entry
	}

	// The URL alone is too long to link.
	title = []rune(it.Title)
	plain := func(title []rune) string {
		return fmt.Sprintf("%d. %s\n", rank, html.EscapeString(string(title)))
	}
	entry = plain(title) + details
	for len(entry) > limit && len(title) > 0 {
		title = shorten(title, len(entry)-limit)
		entry = plain(title) + details
	}
	return entry
}

// shorten drops runes from the end of title until its escaped form is at
// least over bytes shorter, and marks the cut.
func shorten(title []rune, over int) []rune {
	if len(title) > 0 && title[len(title)-1] == '…' {
		title = title[:len(title)-1]
		over -= len("…")
	}
	saved := 0
	for len(title) > 0 && saved < over+len("…") {
		saved += len(html.EscapeString(string(title[len(title)-1])))
		title = title[:len(title)-1]
	}
	if len(title) == 0 {
		return nil
	}
	return append(title, '…')
}
