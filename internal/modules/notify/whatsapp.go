// README: WhatsApp channel over the Cloud API messages endpoint.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type WhatsAppConfig struct {
	BaseURL       string
	PhoneNumberID string
	Token         string
}

type WhatsApp struct {
	cfg  WhatsAppConfig
	http *http.Client
}

func NewWhatsApp(cfg WhatsAppConfig, client *http.Client) *WhatsApp {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &WhatsApp{cfg: cfg, http: client}
}

type waText struct {
	Body string `json:"body"`
}

type waMessage struct {
	Product string `json:"messaging_product"`
	To      string `json:"to"`
	Type    string `json:"type"`
	Text    waText `json:"text"`
}

func (w *WhatsApp) Send(ctx context.Context, recipient string, msg Message) error {
	payload, err := json.Marshal(waMessage{
		Product: "whatsapp",
		To:      strings.TrimPrefix(recipient, "+"),
		Type:    "text",
		Text:    waText{Body: msg.Body},
	})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/%s/messages", w.cfg.BaseURL, w.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+w.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("whatsapp status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
