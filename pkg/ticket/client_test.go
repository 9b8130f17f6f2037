package ticket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateTicket(t *testing.T) {
	var gotAuth string
	var gotReq CreateTicketRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/tickets" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Ticket{ID: "T-1", Title: gotReq.Title, Status: "open"})
	}))
	defer server.Close()

	c, err := NewClient(ClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatal(err)
	}

	ticket, err := c.CreateTicket(context.Background(), "user-token", CreateTicketRequest{
		Title:     "vpn is down",
		Requester: "U1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if ticket.ID != "T-1" || ticket.Status != "open" {
		t.Errorf("ticket: %+v", ticket)
	}
	if gotAuth != "Bearer user-token" {
		t.Errorf("authorization: got %q", gotAuth)
	}
	if gotReq.Requester != "U1" {
		t.Errorf("requester: got %q", gotReq.Requester)
	}
}

func TestGetTicket(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tickets/T-42" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(Ticket{ID: "T-42", Title: "printer jam", Status: "pending"})
	}))
	defer server.Close()

	c, _ := NewClient(ClientConfig{BaseURL: server.URL})
	ticket, err := c.GetTicket(context.Background(), "svc-token", "T-42")
	if err != nil {
		t.Fatal(err)
	}
	if ticket.Status != "pending" {
		t.Errorf("status: got %q", ticket.Status)
	}
}

func TestListTickets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("requester"); got != "U1" {
			t.Errorf("requester query: got %q", got)
		}
		json.NewEncoder(w).Encode(map[string][]Ticket{
			"tickets": {{ID: "T-1"}, {ID: "T-2"}},
		})
	}))
	defer server.Close()

	c, _ := NewClient(ClientConfig{BaseURL: server.URL})
	tickets, err := c.ListTickets(context.Background(), "user-token", "U1")
	if err != nil {
		t.Fatal(err)
	}
	if len(tickets) != 2 {
		t.Errorf("got %d tickets", len(tickets))
	}
}

func TestAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	c, _ := NewClient(ClientConfig{BaseURL: server.URL})
	_, err := c.GetTicket(context.Background(), "svc-token", "nope")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("status: got %d", apiErr.StatusCode)
	}
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Error("expected error for empty base URL")
	}
}
