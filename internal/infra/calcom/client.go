package calcom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.cal.com"

// APIError is a non-2xx answer from Cal.com.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("cal.com %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("cal.com %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether retrying the same request can succeed.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// IsPermanent reports whether err is a Cal.com rejection that no retry will fix
// (validation, unavailable slot, unknown event type).
func IsPermanent(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && !apiErr.Transient()
}

type BookingRequest struct {
	EventTypeID   int64
	Start         string
	AttendeeName  string
	AttendeeEmail string
	AttendeePhone string
	TimeZone      string
	Metadata      map[string]string
}

type Booking struct {
	ID  int64  `json:"id"`
	UID string `json:"uid"`
}

type Client struct {
	baseURL    string
	apiKey     string
	apiVersion string
	http       *http.Client
}

func NewClient(baseURL, apiKey, apiVersion string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiVersion: apiVersion,
		http:       &http.Client{Timeout: 15 * time.Second},
	}
}

type attendee struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	TimeZone    string `json:"timeZone"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

type createBookingBody struct {
	Start       string            `json:"start"`
	EventTypeID int64             `json:"eventTypeId"`
	Attendee    attendee          `json:"attendee"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateBooking books req.Start on the mentor's event type.
func (c *Client) CreateBooking(ctx context.Context, req BookingRequest) (Booking, error) {
	tz := req.TimeZone
	if tz == "" {
		tz = "UTC"
	}
	body, err := json.Marshal(createBookingBody{
		Start:       req.Start,
		EventTypeID: req.EventTypeID,
		Attendee: attendee{
			Name:        req.AttendeeName,
			Email:       req.AttendeeEmail,
			TimeZone:    tz,
			PhoneNumber: req.AttendeePhone,
		},
		Metadata: req.Metadata,
	})
	if err != nil {
		return Booking{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/bookings", bytes.NewReader(body))
	if err != nil {
		return Booking{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.apiVersion != "" {
		httpReq.Header.Set("cal-api-version", c.apiVersion)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Booking{}, fmt.Errorf("cal.com create booking: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Booking{}, fmt.Errorf("cal.com read response: %w", err)
	}

	var env envelope
	_ = json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || env.Status == "error" {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return Booking{}, apiErr
	}

	var booking Booking
	if err := json.Unmarshal(env.Data, &booking); err != nil {
		return Booking{}, fmt.Errorf("cal.com decode booking: %w", err)
	}
	if booking.UID == "" {
		return Booking{}, errors.New("cal.com returned a booking without uid")
	}
	return booking, nil
}
