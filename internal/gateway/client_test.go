package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_cellar/internal/domain"
	"github.com/fjod/go_cellar/pkg/circuitbreaker"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, StaticToken("tok-123"), 5*time.Second, opts...)
}

func TestGetCart_SendsBearerAndDecodes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/cart", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		w.Write([]byte(`{"items":[{"ProductID":7,"Product":{"ProductID":7,"Name":"Barolo","SalePrice":100000},"Quantity":2}]}`))
	})

	items, err := c.GetCart(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(7), items[0].ProductID)
	assert.Equal(t, "Barolo", items[0].Product.Name)
	assert.Equal(t, 2, items[0].Quantity)
}

func TestGetCart_EmptyBodyIsEmptyCart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	items, err := c.GetCart(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestAddItem_BodyAndOptionalPayload(t *testing.T) {
	var got addItemRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/cart/items", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	})

	items, err := c.AddItem(context.Background(), 9, 3)
	require.NoError(t, err)
	assert.Nil(t, items, "no payload means no reconciliation")
	assert.Equal(t, addItemRequest{ProductID: 9, Quantity: 3}, got)
}

func TestUpdateAndRemoveItem_Paths(t *testing.T) {
	var calls []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodPut {
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"Quantity":4}`, string(body))
		}
		w.Write([]byte(`{"items":[]}`))
	})

	items, err := c.UpdateItem(context.Background(), 5, 4)
	require.NoError(t, err)
	assert.NotNil(t, items)

	_, err = c.RemoveItem(context.Background(), 5)
	require.NoError(t, err)
	require.NoError(t, c.ClearCart(context.Background()))

	assert.Equal(t, []string{"PUT /cart/items/5", "DELETE /cart/items/5", "DELETE /cart"}, calls)
}

func TestDo_MissingTokenIsAuthRequired(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticToken(""), time.Second)
	_, err := c.GetCart(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
	assert.Zero(t, atomic.LoadInt32(&hits), "no request without a token")
}

func TestDo_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, domain.ErrAuthRequired},
		{"forbidden", http.StatusForbidden, domain.ErrAuthRequired},
		{"bad request", http.StatusBadRequest, domain.ErrValidation},
		{"server error", http.StatusInternalServerError, domain.ErrNetwork},
		{"unavailable", http.StatusServiceUnavailable, domain.ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":"nope","code":"some_code"}`))
			})

			_, err := c.GetCart(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, "some_code", apiErr.Code)
			assert.Equal(t, "nope", apiErr.Message)
		})
	}
}

func TestDo_ConnectivityIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(url, StaticToken("t"), time.Second)
	_, err := c.GetCart(context.Background())
	assert.ErrorIs(t, err, domain.ErrNetwork)
}

func TestDo_BreakerOpensOnNetworkFailuresOnly(t *testing.T) {
	var hits int32
	status := int32(http.StatusBadRequest)
	settings := circuitbreaker.Settings{Name: "test", MaxFailures: 2, OpenTimeout: time.Minute}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(int(atomic.LoadInt32(&status)))
	}, WithBreaker(settings))

	for i := 0; i < 3; i++ {
		_, err := c.GetCart(context.Background())
		assert.ErrorIs(t, err, domain.ErrValidation)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))

	atomic.StoreInt32(&status, http.StatusBadGateway)
	for i := 0; i < 2; i++ {
		_, err := c.GetCart(context.Background())
		assert.ErrorIs(t, err, domain.ErrNetwork)
	}

	_, err := c.GetCart(context.Background())
	assert.ErrorIs(t, err, domain.ErrNetwork)
	assert.Equal(t, int32(5), atomic.LoadInt32(&hits), "open breaker short-circuits")
}

func TestListNotifications_NormalizesCasing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/notifications", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "20", r.URL.Query().Get("offset"))
		w.Write([]byte(`{
			"notifications": [
				{"NotificationID": 1, "Title": "A", "Message": "m1", "IsRead": true, "CreatedAt": "2026-01-02T03:04:05Z", "Type": "order"},
				{"id": 2, "title": "B", "content": "m2", "isRead": false, "linkUrl": "/orders/2"}
			],
			"total": 22,
			"hasMore": false
		}`))
	})

	page, err := c.ListNotifications(context.Background(), 10, 20)
	require.NoError(t, err)
	require.Len(t, page.Notifications, 2)
	assert.Equal(t, 22, page.Total)
	assert.False(t, page.HasMore)

	first := page.Notifications[0]
	assert.Equal(t, int64(1), first.ID)
	assert.True(t, first.IsRead)
	assert.Equal(t, "m1", first.Message)
	assert.Equal(t, domain.NotificationTypeOrder, first.Type)
	assert.Equal(t, 2026, first.CreatedAt.Year())

	second := page.Notifications[1]
	assert.Equal(t, int64(2), second.ID)
	assert.Equal(t, "B", second.Title)
	assert.Equal(t, "m2", second.Message)
	assert.False(t, second.IsRead)
	assert.Equal(t, "/orders/2", second.LinkURL)
}

func TestMarkReadAndAck(t *testing.T) {
	var paths []string
	var ack ackRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		if r.URL.Path == "/sse/stream/ack" {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&ack))
		}
		w.WriteHeader(http.StatusNoContent)
	})

	ctx := context.Background()
	require.NoError(t, c.MarkRead(ctx, 3))
	require.NoError(t, c.MarkAllRead(ctx))
	require.NoError(t, c.Ack(ctx, 42))
	assert.ErrorIs(t, c.Ack(ctx, 0), domain.ErrValidation)

	assert.Equal(t, []string{
		"POST /notifications/3/read",
		"POST /notifications/read-all",
		"POST /sse/stream/ack",
	}, paths)
	assert.Equal(t, int64(42), ack.NotificationID)
}

func TestStreamURL(t *testing.T) {
	c := NewClient("http://gw.local/", StaticToken("a b"), time.Second)
	u, err := c.StreamURL()
	require.NoError(t, err)
	assert.Equal(t, "http://gw.local/sse/stream?token=a+b", u)

	c = NewClient("http://gw.local", StaticToken(""), time.Second)
	_, err = c.StreamURL()
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
}
