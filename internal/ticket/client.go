// Package ticket talks to the ticket system this service schedules
// work for. The ticket system owns the ticket lifecycle; this client
// only reads the fields scheduling needs and pushes state-change
// notifications back.
package ticket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fieldops/dispatchd/internal/domain"
)

const defaultTimeout = 10 * time.Second

// notifyBackoff spaces the retries for state-change notifications.
var notifyBackoff = []time.Duration{0, 2 * time.Second, 10 * time.Second}

// Client is an HTTP client for the ticket system.
//
// Endpoints:
//
//	GET  {base}/tickets/{id}
//	POST {base}/tickets/{id}/unscheduled
//	POST {base}/tickets/{id}/schedule-confirmed
type Client struct {
	baseURL string
	client  *http.Client
	backoff []time.Duration
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		backoff: notifyBackoff,
	}
}

type ticketResponse struct {
	ID                       string `json:"id"`
	EstimatedDurationMinutes int    `json:"estimated_duration_minutes,omitempty"`
	CustomerName             string `json:"customer_name"`
	CustomerEmail            string `json:"customer_email"`
	ServiceAddress           string `json:"service_address"`
}

type confirmedPayload struct {
	ScheduleID string `json:"schedule_id"`
}

// GetTicket fetches the scheduling-relevant slice of a ticket.
func (c *Client) GetTicket(ctx context.Context, ticketID uuid.UUID) (domain.Ticket, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tickets/"+ticketID.String(), nil)
	if err != nil {
		return domain.Ticket{}, &domain.GatewayError{Op: "get ticket", Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.Ticket{}, &domain.GatewayError{Op: "get ticket", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.Ticket{}, &domain.GatewayError{Op: "get ticket", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var body ticketResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.Ticket{}, &domain.GatewayError{Op: "get ticket", Err: fmt.Errorf("decode: %w", err)}
	}

	return domain.Ticket{
		ID:                ticketID,
		EstimatedDuration: time.Duration(body.EstimatedDurationMinutes) * time.Minute,
		CustomerContact: domain.Attendee{
			Name:  body.CustomerName,
			Email: body.CustomerEmail,
			Role:  domain.RoleCustomer,
		},
		ServiceAddress: body.ServiceAddress,
	}, nil
}

// NotifyUnscheduled returns the ticket to the unscheduled pool.
func (c *Client) NotifyUnscheduled(ctx context.Context, ticketID uuid.UUID) error {
	return c.notify(ctx, "/tickets/"+ticketID.String()+"/unscheduled", nil)
}

// NotifyScheduleConfirmed records the confirmed schedule on the ticket.
func (c *Client) NotifyScheduleConfirmed(ctx context.Context, ticketID, scheduleID uuid.UUID) error {
	return c.notify(ctx, "/tickets/"+ticketID.String()+"/schedule-confirmed", &confirmedPayload{
		ScheduleID: scheduleID.String(),
	})
}

// notify posts a state-change notification with a short retry loop.
// 4xx responses are not retried; the ticket system rejected the call.
func (c *Client) notify(ctx context.Context, path string, payload *confirmedPayload) error {
	var lastErr error

	for attempt := 1; attempt <= len(c.backoff); attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(c.backoff[attempt-1])
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			log.Debug().Str("path", path).Int("attempt", attempt).Msg("ticket: retrying notification")
		}

		retryable, err := c.post(ctx, path, payload)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}

	return &domain.GatewayError{Op: "notify ticket", Err: lastErr}
}

func (c *Client) post(ctx context.Context, path string, payload *confirmedPayload) (retryable bool, err error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return false, fmt.Errorf("marshal: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, fmt.Errorf("status %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("status %d", resp.StatusCode)
	}
}
