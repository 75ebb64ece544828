package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/nairobi-verified/marketplace-client/pkg/query"
)

// Backend list endpoints.
const (
	PathProducts  = "/products"
	PathMerchants = "/merchants"
)

// maxErrorBody bounds how much of an error response is read for its message.
const maxErrorBody = 4 << 10

// listEnvelope is the backend's list response: { data, pagination: { total } }.
type listEnvelope[R any] struct {
	Data       []R `json:"data"`
	Pagination *struct {
		Total int `json:"total"`
	} `json:"pagination"`
}

// GetJSON performs a GET and decodes a successful JSON body into v. Responses
// with status 400 or above become an *APIError.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values, v any) error {
	resp, err := c.Get(ctx, path, params)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{
			StatusCode: resp.StatusCode,
			Class:      classifyStatus(resp.StatusCode),
			Message:    errorMessage(body, resp.Status),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return &APIError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassDecode,
			Message:    "invalid response body",
			Err:        err,
		}
	}
	return nil
}

// ListProducts loads one page of products matching f.
func (c *Client) ListProducts(ctx context.Context, f query.FilterState, pageSize int) (query.ResultPage[query.Product], error) {
	return list(ctx, c, PathProducts, f, pageSize, query.NormalizeProduct)
}

// ListMerchants loads one page of merchants matching f.
func (c *Client) ListMerchants(ctx context.Context, f query.FilterState, pageSize int) (query.ResultPage[query.Merchant], error) {
	return list(ctx, c, PathMerchants, f, pageSize, query.NormalizeMerchant)
}

func list[R, T any](ctx context.Context, c *Client, path string, f query.FilterState, pageSize int, normalize func(R) T) (query.ResultPage[T], error) {
	f = f.Normalize()

	var env listEnvelope[R]
	if err := c.GetJSON(ctx, path, query.Params(f, pageSize), &env); err != nil {
		return query.ResultPage[T]{}, err
	}

	items := make([]T, 0, len(env.Data))
	for _, raw := range env.Data {
		items = append(items, normalize(raw))
	}

	// Without pagination metadata the list is assumed to end on this page.
	total := (f.Page-1)*pageSize + len(items)
	if env.Pagination != nil {
		total = env.Pagination.Total
	}

	return query.ResultPage[T]{
		Items:    items,
		Total:    total,
		PageSize: pageSize,
	}, nil
}

// errorMessage extracts {"message": ...} or {"error": ...} from an error body.
func errorMessage(body []byte, fallback string) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return fallback
}
