// Package push delivers notifications to mobile and web devices through Firebase Cloud Messaging.
package push

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/config"
)

// FCM limits a multicast to 500 tokens.
const maxTokensPerBatch = 500

type multicastClient interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Result summarises a multicast delivery. Stale lists tokens FCM no longer recognises.
type Result struct {
	Sent   int
	Failed int
	Stale  []string
}

// Sender fans a message out to device tokens.
type Sender struct {
	client multicastClient
}

// NewSender initialises the Firebase app and messaging client.
func NewSender(ctx context.Context, cfg config.FirebaseConfig) (*Sender, error) {
	var opts []option.ClientOption
	if path := strings.TrimSpace(cfg.CredentialsFile); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: strings.TrimSpace(cfg.ProjectID)}, opts...)
	if err != nil {
		return nil, fmt.Errorf("push: init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("push: init messaging: %w", err)
	}
	return &Sender{client: client}, nil
}

func newSenderWithClient(client multicastClient) *Sender {
	return &Sender{client: client}
}

// Send delivers title/body plus data to every token, batching at the FCM limit.
func (s *Sender) Send(ctx context.Context, tokens []string, title, body string, data map[string]string) (Result, error) {
	if s == nil || s.client == nil {
		return Result{}, errors.New("push: sender not initialised")
	}
	tokens = compact(tokens)
	var result Result
	for start := 0; start < len(tokens); start += maxTokensPerBatch {
		end := min(start+maxTokensPerBatch, len(tokens))
		batch := tokens[start:end]
		resp, err := s.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens:       batch,
			Notification: &messaging.Notification{Title: title, Body: body},
			Data:         data,
		})
		if err != nil {
			return result, fmt.Errorf("push: send multicast: %w", err)
		}
		result.Sent += resp.SuccessCount
		result.Failed += resp.FailureCount
		for i, r := range resp.Responses {
			if r != nil && !r.Success && messaging.IsRegistrationTokenNotRegistered(r.Error) {
				result.Stale = append(result.Stale, batch[i])
			}
		}
	}
	return result, nil
}

func compact(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}
