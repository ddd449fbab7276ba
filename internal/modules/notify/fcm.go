// README: Push channel over Firebase Cloud Messaging topics.
package notify

import (
	"context"

	"firebase.google.com/go/v4/messaging"
)

type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCM sends to topics: partner_<id> for delivery partners, the admin topic for ops.
type FCM struct {
	client messagingClient
}

func NewFCM(client *messaging.Client) *FCM {
	return &FCM{client: client}
}

func PartnerTopic(partnerID string) string {
	return "partner_" + partnerID
}

func (f *FCM) Send(ctx context.Context, topic string, msg Message) error {
	data := make(map[string]string, len(msg.Data)+1)
	for k, v := range msg.Data {
		data[k] = v
	}
	data["type"] = msg.Template
	_, err := f.client.Send(ctx, &messaging.Message{
		Topic: topic,
		Data:  data,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	})
	return err
}
