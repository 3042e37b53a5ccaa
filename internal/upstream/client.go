// Package upstream is the REST client for the clinic platform API.
// The gateway owns no data: catalog, cart, bookings and notifications
// all live behind these endpoints.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"clinicfront/internal/model"
)

type Client struct {
	base string
	http *http.Client
	log  *slog.Logger
}

type Opts struct {
	BaseURL string
	Timeout time.Duration
	Log     *slog.Logger
}

func NewClient(opts Opts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("upstream base url is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("parse upstream base url: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Client{
		base: strings.TrimRight(opts.BaseURL, "/"),
		http: &http.Client{Timeout: opts.Timeout},
		log:  opts.Log,
	}, nil
}

// APIError is a non-2xx upstream response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream: %d %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		msg := payload.Error
		if msg == "" {
			msg = payload.Message
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// ListMedicines fetches one catalog page. Unset query values are left
// out of the request entirely, mirroring the cache-key rule.
func (c *Client) ListMedicines(ctx context.Context, q model.MedicineQuery) (model.MedicinePage, error) {
	v := url.Values{}
	page := q.Page
	if page < 1 {
		page = 1
	}
	v.Set("page", strconv.Itoa(page))
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if cat := strings.TrimSpace(q.Category); cat != "" && cat != "all" {
		v.Set("category", cat)
	}
	if q.MinPrice != nil && !math.IsNaN(*q.MinPrice) {
		v.Set("minPrice", strconv.FormatFloat(*q.MinPrice, 'f', -1, 64))
	}
	if q.MaxPrice != nil && !math.IsNaN(*q.MaxPrice) {
		v.Set("maxPrice", strconv.FormatFloat(*q.MaxPrice, 'f', -1, 64))
	}
	if q.SortBy != "" {
		v.Set("sortBy", q.SortBy)
	}
	if q.SortOrder != "" {
		v.Set("sortOrder", q.SortOrder)
	}
	if s := strings.TrimSpace(q.Search); s != "" {
		v.Set("search", s)
	}

	var out model.MedicinePage
	if err := c.do(ctx, http.MethodGet, "/medicines?"+v.Encode(), "", nil, &out); err != nil {
		return model.MedicinePage{}, err
	}
	return out, nil
}

func (c *Client) Categories(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.do(ctx, http.MethodGet, "/medicines/categories", "", nil, &names); err != nil {
		return nil, err
	}
	return names, nil
}

type cartEnvelope struct {
	Cart model.Cart `json:"cart"`
}

func (c *Client) GetCart(ctx context.Context, token string) (model.Cart, error) {
	var cart model.Cart
	if err := c.do(ctx, http.MethodGet, "/cart", token, nil, &cart); err != nil {
		return model.Cart{}, err
	}
	return cart, nil
}

type cartItemReq struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (c *Client) AddToCart(ctx context.Context, token, productID string, quantity int) (model.Cart, error) {
	var env cartEnvelope
	err := c.do(ctx, http.MethodPost, "/cart/add", token, cartItemReq{productID, quantity}, &env)
	if err != nil {
		return model.Cart{}, err
	}
	return env.Cart, nil
}

func (c *Client) UpdateCart(ctx context.Context, token, productID string, quantity int) (model.Cart, error) {
	var env cartEnvelope
	err := c.do(ctx, http.MethodPut, "/cart/update", token, cartItemReq{productID, quantity}, &env)
	if err != nil {
		return model.Cart{}, err
	}
	return env.Cart, nil
}

func (c *Client) RemoveFromCart(ctx context.Context, token, productID string) (model.Cart, error) {
	var env cartEnvelope
	err := c.do(ctx, http.MethodDelete, "/cart/remove/"+url.PathEscape(productID), token, nil, &env)
	if err != nil {
		return model.Cart{}, err
	}
	return env.Cart, nil
}

func (c *Client) ClearCart(ctx context.Context, token string) (model.Cart, error) {
	var env cartEnvelope
	if err := c.do(ctx, http.MethodDelete, "/cart/clear", token, nil, &env); err != nil {
		return model.Cart{}, err
	}
	return env.Cart, nil
}

// TimeSlots returns the bookable slot labels for a date (YYYY-MM-DD).
func (c *Client) TimeSlots(ctx context.Context, date string) ([]string, error) {
	var payload struct {
		AvailableSlots []string `json:"availableSlots"`
	}
	v := url.Values{"date": {date}}
	if err := c.do(ctx, http.MethodGet, "/lab-bookings/time-slots?"+v.Encode(), "", nil, &payload); err != nil {
		return nil, err
	}
	return payload.AvailableSlots, nil
}

func (c *Client) LabBookings(ctx context.Context, token string) ([]model.LabBooking, error) {
	var payload struct {
		Bookings []model.LabBooking `json:"bookings"`
	}
	if err := c.do(ctx, http.MethodGet, "/lab-bookings", token, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Bookings, nil
}

// UnreadCount polls the admin notification counter.
func (c *Client) UnreadCount(ctx context.Context, token string) (int, error) {
	var payload struct {
		UnreadCount int `json:"unreadCount"`
	}
	if err := c.do(ctx, http.MethodGet, "/notifications/admin/unread-count", token, nil, &payload); err != nil {
		return 0, err
	}
	return payload.UnreadCount, nil
}
