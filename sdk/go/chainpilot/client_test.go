package chainpilot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(server.URL, server.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return server, client
}

func TestChatRoundTrip(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/chat" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Message != "ETH 现在多少钱" {
			t.Fatalf("unexpected message: %q", req.Message)
		}
		json.NewEncoder(w).Encode(ChatResponse{SessionID: "s1", Reply: "约 2500 美元"})
	})

	resp, err := client.Chat(context.Background(), ChatRequest{Message: "ETH 现在多少钱"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.SessionID != "s1" || resp.Reply != "约 2500 美元" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAnswerSendsReply(t *testing.T) {
	var got Reply
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/reply" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	})

	err := client.Answer(context.Background(), Reply{SessionID: "s1", Text: "threshold=5000"})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if got.SessionID != "s1" || got.Text != "threshold=5000" {
		t.Fatalf("unexpected reply payload: %+v", got)
	}
}

func TestHistoryEncodesQuery(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("session_id") != "s1" || query.Get("capability") != "wallet_balance" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		if query.Get("limit") != "5" {
			t.Fatalf("unexpected limit: %s", query.Get("limit"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"records": []Record{{ID: "r1", SessionID: "s1", Capability: "wallet_balance", Status: "succeeded"}},
		})
	})

	records, err := client.History(context.Background(), HistoryQuery{
		SessionID:  "s1",
		Capability: "wallet_balance",
		Limit:      5,
	})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(records) != 1 || records[0].ID != "r1" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestAPIErrorSurfacesStatusAndBody(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no pending prompt for session", http.StatusConflict)
	})

	err := client.Answer(context.Background(), Reply{SessionID: "s1", Token: "tok"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Message != "no pending prompt for session" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}
