package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// Notifier delivers one alert event to a channel.
type Notifier interface {
	Send(ctx context.Context, ev Event) error
}

// Slack posts events to an incoming-webhook URL.
type Slack struct {
	Webhook string
	Client  *http.Client
}

func NewSlack(webhook string) *Slack {
	if webhook == "" {
		return nil
	}
	return &Slack{
		Webhook: webhook,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type slackPayload struct {
	Text string `json:"text"`
}

func (s *Slack) Send(ctx context.Context, ev Event) error {
	if s == nil || s.Webhook == "" {
		return errors.New("slack disabled")
	}
	title := "🔴 " + ev.Endpoint + " DOWN"
	if ev.Type == EventRecovered {
		title = "🟢 " + ev.Endpoint + " RECOVERED"
	}
	text := fmt.Sprintf("*%s*\nError: %s\nType: %s\nChecked: %s",
		title, ev.Outcome.Error, ev.Outcome.ErrorType, ev.Outcome.CheckedAt.Format(time.RFC3339))

	body, _ := json.Marshal(slackPayload{Text: text})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.Webhook, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("slack webhook returned %s", resp.Status)
	}
	return nil
}

// Webhook POSTs the raw event as JSON to an arbitrary URL.
type Webhook struct {
	URL    string
	Client *http.Client
}

func NewWebhook(url string) *Webhook {
	if url == "" {
		return nil
	}
	return &Webhook{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Send(ctx context.Context, ev Event) error {
	if w == nil || w.URL == "" {
		return errors.New("webhook disabled")
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// Redis pushes events onto a list for downstream consumers.
type Redis struct {
	client *redis.Client
	queue  string
}

func NewRedis(addr, queue string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Redis{client: client, queue: queue}, nil
}

func (r *Redis) Send(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return r.client.LPush(ctx, r.queue, data).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
