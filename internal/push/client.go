// Package push delivers notifications to device tokens over the external
// push endpoint. Delivery is best-effort: one POST per token, no retry
// here, a circuit breaker so a dead provider does not get hammered.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fathima-sithara/sync-service/internal/metrics"
	"github.com/fathima-sithara/sync-service/internal/model"
)

type Config struct {
	Endpoint string
	Timeout  time.Duration
}

type Client struct {
	http     *http.Client
	endpoint string
	breaker  *gobreaker.CircuitBreaker
	log      *zap.SugaredLogger
}

func NewClient(cfg Config, log *zap.SugaredLogger) *Client {
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    16,
		IdleConnTimeout: 90 * time.Second,
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "push-endpoint",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})
	return &Client{
		http:     &http.Client{Transport: tr, Timeout: cfg.Timeout},
		endpoint: cfg.Endpoint,
		breaker:  cb,
		log:      log,
	}
}

type payload struct {
	UserID       string       `json:"user_id"`
	Token        string       `json:"token"`
	Notification notification `json:"notification"`
}

type notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Deliver posts one notification to one token. The response body is
// logged, not returned; callers only care whether the attempt failed.
func (c *Client) Deliver(ctx context.Context, token string, n model.Notification) error {
	body, err := json.Marshal(payload{
		UserID: n.UserID,
		Token:  token,
		Notification: notification{
			Title: n.Title,
			Body:  n.Message,
			Data: map[string]string{
				"id":   n.ID,
				"type": n.Type,
				"link": n.Link,
			},
		},
	})
	if err != nil {
		return err
	}

	_, err = c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("push endpoint: status %d", resp.StatusCode)
		}
		return nil, nil
	})
	if err != nil {
		metrics.PushDeliveries.WithLabelValues("failed").Inc()
		return err
	}
	metrics.PushDeliveries.WithLabelValues("delivered").Inc()
	c.log.Debugw("push delivered", "user", n.UserID, "notification", n.ID)
	return nil
}
