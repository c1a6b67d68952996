package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alphagov/pay-connector-sub018/internal/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostEvents(t *testing.T) {
	events := []event.Event{{
		ResourceType:       "payment",
		ResourceExternalID: "CH123",
		EventType:          "PAYMENT_CREATED",
		Timestamp:          time.Now(),
	}}

	t.Run("2xx is accepted", func(t *testing.T) {
		var received []event.Event
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/event", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
			w.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		client := NewClient(srv.URL, time.Second)
		err := client.PostEvents(context.Background(), events)
		require.NoError(t, err)
		require.Len(t, received, 1)
		assert.Equal(t, "CH123", received[0].ResourceExternalID)
	})

	t.Run("4xx is rejected and terminal", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad event", http.StatusUnprocessableEntity)
		}))
		defer srv.Close()

		client := NewClient(srv.URL, time.Second)
		err := client.PostEvents(context.Background(), events)
		require.Error(t, err)
		assert.True(t, IsRejected(err))
		assert.False(t, IsTransport(err))
	})

	t.Run("5xx is a transport failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		client := NewClient(srv.URL, time.Second)
		err := client.PostEvents(context.Background(), events)
		require.Error(t, err)
		assert.True(t, IsTransport(err))
		assert.False(t, IsRejected(err))
	})

	t.Run("connection failure is a transport failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		client := NewClient(srv.URL, time.Second)
		err := client.PostEvents(context.Background(), events)
		require.Error(t, err)
		assert.True(t, IsTransport(err))
	})
}

func TestGetTransaction(t *testing.T) {
	t.Run("decodes a snapshot", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/transaction/payment/CH123", r.URL.Path)
			json.NewEncoder(w).Encode(TransactionSnapshot{
				TransactionID: "CH123",
				Amount:        1000,
				Status:        "success",
			})
		}))
		defer srv.Close()

		client := NewClient(srv.URL, time.Second)
		snap, err := client.GetTransaction(context.Background(), "payment", "CH123")
		require.NoError(t, err)
		assert.Equal(t, "CH123", snap.TransactionID)
		assert.Equal(t, int64(1000), snap.Amount)
		assert.Equal(t, "success", snap.Status)
	})

	t.Run("404 is ErrNotFound", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		client := NewClient(srv.URL, time.Second)
		_, err := client.GetTransaction(context.Background(), "payment", "CH404")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("5xx is a transport failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		client := NewClient(srv.URL, time.Second)
		_, err := client.GetTransaction(context.Background(), "payment", "CH500")
		require.Error(t, err)
		assert.True(t, IsTransport(err))
	})
}
