package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"

	"ids-guard/internal/model"
	"ids-guard/internal/utils"

	"github.com/sirupsen/logrus"
)

const telegramAPIBase = "https://api.telegram.org"

type TelegramNotifier struct {
	botToken        string
	chatID          string
	parseMode       string
	enabled         bool
	messageTemplate *template.Template
	client          *http.Client
	apiBase         string
	maxRetries      int
	retryDelay      time.Duration
	logger          *logrus.Logger
}

type TelegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type TelegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

func NewTelegramNotifier(cfg utils.TelegramYAMLConfig, logger *logrus.Logger) *TelegramNotifier {
	tn := &TelegramNotifier{
		botToken:  cfg.BotToken,
		chatID:    cfg.ChatID,
		parseMode: cfg.ParseMode,
		enabled:   cfg.Enabled,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		apiBase:    telegramAPIBase,
		maxRetries: 3,
		retryDelay: time.Second,
		logger:     logger,
	}

	if strings.TrimSpace(cfg.MessageTemplate) != "" {
		funcMap := template.FuncMap{
			"formatTime": func(t time.Time, layout string) string {
				return t.Format(layout)
			},
		}
		tmpl, err := template.New("telegram_message").Funcs(funcMap).Parse(cfg.MessageTemplate)
		if err != nil {
			logger.Warnf("[Telegram] failed to parse message template: %v, using default format", err)
		} else {
			tn.messageTemplate = tmpl
		}
	}

	return tn
}

func (tn *TelegramNotifier) SendEvent(event model.BlockEvent) error {
	if !tn.enabled {
		tn.logger.Debug("[Telegram] notifier is disabled, skipping event")
		return nil
	}
	// proposals repeat every cycle until enforced; only state changes are sent
	if event.Type == model.EventProposed {
		return nil
	}

	message := tn.formatEventMessage(event)

	var lastErr error
	for i := 0; i < tn.maxRetries; i++ {
		lastErr = tn.sendMessage(message)
		if lastErr == nil {
			return nil
		}

		tn.logger.Warnf("[Telegram] failed to send event (attempt %d/%d): %v", i+1, tn.maxRetries, lastErr)

		if i < tn.maxRetries-1 {
			time.Sleep(time.Duration(i+1) * tn.retryDelay)
		}
	}

	return fmt.Errorf("failed to send event after %d attempts: %w", tn.maxRetries, lastErr)
}

func (tn *TelegramNotifier) formatEventMessage(event model.BlockEvent) string {
	if tn.messageTemplate != nil {
		var buf bytes.Buffer
		err := tn.messageTemplate.Execute(&buf, event)
		if err != nil {
			tn.logger.Warnf("[Telegram] failed to execute message template: %v, using default format", err)
		} else {
			return buf.String()
		}
	}

	title := "IP BLOCKED"
	switch event.Type {
	case model.EventUnblocked:
		title = "IP UNBLOCKED"
	case model.EventFailed:
		title = "FIREWALL ACTION FAILED"
	}

	message := fmt.Sprintf("%s\n\n"+
		"ip: %s\n"+
		"time: %s\n"+
		"source: %s",
		title,
		event.IP,
		event.Timestamp.Format("2006-01-02 15:04:05"),
		event.Source)
	if event.CycleID != "" {
		message += "\ncycle: " + event.CycleID
	}
	if event.Message != "" {
		message += "\ndetail: " + event.Message
	}
	return message
}

func (tn *TelegramNotifier) sendMessage(text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", tn.apiBase, tn.botToken)

	// Markdown modes reject unescaped IPs and command output
	parseMode := ""
	if tn.parseMode != "" && tn.parseMode != "Markdown" && tn.parseMode != "MarkdownV2" {
		parseMode = tn.parseMode
	}

	message := TelegramMessage{
		ChatID:    tn.chatID,
		Text:      text,
		ParseMode: parseMode,
	}

	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %v", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := tn.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %v", err)
	}
	defer resp.Body.Close()

	var telegramResp TelegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&telegramResp); err != nil {
		return fmt.Errorf("failed to decode response: %v", err)
	}

	if !telegramResp.OK {
		return fmt.Errorf("telegram API error: %s", telegramResp.Description)
	}

	tn.logger.Debugf("[Telegram] event sent")
	return nil
}

func (tn *TelegramNotifier) SendTestMessage() error {
	if !tn.enabled {
		return fmt.Errorf("telegram notifier is disabled")
	}
	return tn.sendMessage("Test Message\n\nids-guard is working correctly!")
}

func (tn *TelegramNotifier) IsEnabled() bool {
	return tn.enabled
}
