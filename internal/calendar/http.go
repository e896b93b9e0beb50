package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fieldops/dispatchd/internal/domain"
)

const defaultTimeout = 10 * time.Second

// HTTPGateway implements Gateway against a JSON calendar API.
//
// Endpoints:
//
//	POST   {base}/events                     -> {"id": "..."}
//	POST   {base}/events/{ref}/attendees
//	GET    {base}/events/{ref}               -> event with attendee responses
//	DELETE {base}/events/{ref}               (404 treated as success)
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGateway creates a gateway against baseURL. All calls are
// bounded by timeout; zero means the 10s default.
func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type eventPayload struct {
	Subject   string            `json:"subject"`
	Body      string            `json:"body,omitempty"`
	Location  string            `json:"location,omitempty"`
	Start     time.Time         `json:"start"`
	End       time.Time         `json:"end"`
	Tentative bool              `json:"tentative"`
	Attendees []attendeePayload `json:"attendees,omitempty"`
}

type attendeePayload struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Response string `json:"response,omitempty"`
}

type createEventResponse struct {
	ID string `json:"id"`
}

type getEventResponse struct {
	ID        string            `json:"id"`
	Attendees []attendeePayload `json:"attendees"`
}

func (g *HTTPGateway) CreateEvent(ctx context.Context, req domain.EventRequest) (string, error) {
	payload := eventPayload{
		Subject:   req.Subject,
		Body:      req.Body,
		Location:  req.Location,
		Start:     req.Window.Start.UTC(),
		End:       req.Window.End.UTC(),
		Tentative: req.Tentative,
	}
	for _, a := range req.Attendees {
		payload.Attendees = append(payload.Attendees, attendeePayload{
			Name:  a.Name,
			Email: a.Email,
			Role:  string(a.Role),
		})
	}

	var created createEventResponse
	if err := g.do(ctx, http.MethodPost, "/events", payload, &created, nil); err != nil {
		return "", &domain.GatewayError{Op: "create event", Err: err}
	}
	if created.ID == "" {
		return "", &domain.GatewayError{Op: "create event", Err: fmt.Errorf("calendar returned empty event id")}
	}
	return created.ID, nil
}

func (g *HTTPGateway) AddAttendee(ctx context.Context, eventRef string, attendee domain.Attendee) error {
	payload := attendeePayload{
		Name:  attendee.Name,
		Email: attendee.Email,
		Role:  string(attendee.Role),
	}
	path := "/events/" + url.PathEscape(eventRef) + "/attendees"
	if err := g.do(ctx, http.MethodPost, path, payload, nil, nil); err != nil {
		return &domain.GatewayError{Op: "add attendee", Err: err}
	}
	return nil
}

func (g *HTTPGateway) GetEvent(ctx context.Context, eventRef string) (domain.EventStatus, error) {
	var event getEventResponse
	notFound := false
	path := "/events/" + url.PathEscape(eventRef)
	err := g.do(ctx, http.MethodGet, path, nil, &event, &notFound)
	if err != nil {
		return domain.EventStatus{}, &domain.GatewayError{Op: "get event", Err: err}
	}
	if notFound {
		// Deleted out-of-band. A fact, not a failure.
		return domain.EventStatus{Exists: false}, nil
	}

	status := domain.EventStatus{
		Exists:    true,
		Responses: make(map[domain.AttendeeRole]domain.AttendeeResponse),
	}
	for _, a := range event.Attendees {
		role := domain.AttendeeRole(a.Role)
		if role != domain.RoleTechnician && role != domain.RoleCustomer {
			continue
		}
		resp := domain.AttendeeResponse(a.Response)
		switch resp {
		case domain.ResponseAccepted, domain.ResponseDeclined, domain.ResponseTentative:
		default:
			resp = domain.ResponseNone
		}
		status.Responses[role] = resp
	}
	return status, nil
}

func (g *HTTPGateway) CancelEvent(ctx context.Context, eventRef string) error {
	notFound := false
	path := "/events/" + url.PathEscape(eventRef)
	if err := g.do(ctx, http.MethodDelete, path, nil, nil, &notFound); err != nil {
		return &domain.GatewayError{Op: "cancel event", Err: err}
	}
	// 404 means the event is already gone, which is the desired state.
	return nil
}

// do issues one request. When notFound is non-nil a 404 sets it and
// returns nil instead of an error.
func (g *HTTPGateway) do(ctx context.Context, method, path string, in, out any, notFound *bool) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && notFound != nil {
		*notFound = true
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
