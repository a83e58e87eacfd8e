package dispatch

import (
	"github.com/kaanrky/courier/internal/queue"
	"github.com/kaanrky/courier/internal/sender"
)

// messageFromEnvelope flattens the persisted content into the provider
// message shape. Fields that do not apply to a channel stay empty and the
// concrete sender ignores them.
func messageFromEnvelope(env queue.Envelope) sender.Message {
	return sender.Message{
		To:          env.Destination,
		Subject:     env.Content.Subject,
		Body:        env.Content.Body,
		From:        env.Content.FromEmail,
		CC:          env.Content.CC,
		BCC:         env.Content.BCC,
		Attachments: env.Content.Attachments,
		TemplateID:  env.TemplateID,
	}
}
