package booking

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	id "badal/pkg/domain"
	"badal/pkg/platform/sentinel"
)

// Client reads bookings from the booking service over HTTP.
type Client struct {
	http *resty.Client
}

type ClientConfig struct {
	BaseURL string
	// Token is sent as a bearer token carrying the system role.
	Token   string
	Timeout time.Duration
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		c.SetAuthToken(cfg.Token)
	}
	return &Client{http: c}
}

func (c *Client) GetBooking(ctx context.Context, bookingID id.BookingID) (*Booking, error) {
	var b Booking
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("bookingID", bookingID.String()).
		SetResult(&b).
		Get("/bookings/{bookingID}")
	if err != nil {
		return nil, fmt.Errorf("%w: get booking: %v", sentinel.ErrUnavailable, err)
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusNotFound:
		return nil, fmt.Errorf("booking %s: %w", bookingID, sentinel.ErrNotFound)
	case code >= http.StatusInternalServerError, code == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: booking service returned %d", sentinel.ErrUnavailable, code)
	case code != http.StatusOK:
		return nil, fmt.Errorf("booking service returned %d", code)
	}
	if b.ID != bookingID {
		return nil, fmt.Errorf("booking service returned booking %s for %s", b.ID, bookingID)
	}
	return &b, nil
}
