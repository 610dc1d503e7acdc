package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/flow"
	"github.com/BTreeMap/OrderPipe/internal/messaging"
	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/BTreeMap/OrderPipe/internal/store"
	"github.com/BTreeMap/OrderPipe/internal/testutil"
	"github.com/BTreeMap/OrderPipe/internal/twiliowhatsapp"
)

const testUser = "+15551234567"

func newTestServer(t *testing.T) (*Server, *store.InMemoryStore) {
	t.Helper()
	engine, st := testutil.NewTestEngine()
	t.Cleanup(func() { st.Close() })
	return NewServer(engine, nil, TransportNone), st
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	return rr
}

func postMessage(t *testing.T, s *Server, text string) string {
	t.Helper()
	rr := serve(s, testutil.CreateHTTPRequest(t, http.MethodPost, "/messages", models.InboundMessage{UserID: testUser, Text: text}))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "POST /messages "+text)
	var result map[string]string
	testutil.DecodeResult(t, rr, &result)
	return result["reply"]
}

func TestMessagesHandler_Conversation(t *testing.T) {
	s, _ := newTestServer(t)

	if reply := postMessage(t, s, "hi"); !strings.Contains(reply, flow.PromptWelcome) {
		t.Errorf("expected greeting, got %q", reply)
	}
	if reply := postMessage(t, s, "7"); !strings.Contains(reply, flow.MsgInvalidMenuChoice) {
		t.Errorf("expected menu reprompt, got %q", reply)
	}
}

func TestMessagesHandler_BadRequests(t *testing.T) {
	s, _ := newTestServer(t)
	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"invalid json", http.MethodPost, `{"user_id":`, http.StatusBadRequest},
		{"missing user", http.MethodPost, `{"text":"hi"}`, http.StatusBadRequest},
		{"empty message", http.MethodPost, `{"user_id":"+1555","text":"  "}`, http.StatusBadRequest},
		{"wrong method", http.MethodGet, ``, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(s, testutil.CreateJSONRequest(t, tt.method, "/messages", tt.body))
			testutil.AssertHTTPStatus(t, tt.want, rr.Code, tt.name)
			testutil.AssertJSONResponse(t, rr, "error")
		})
	}
}

type stubEngine struct {
	reply string
	err   error
}

func (s stubEngine) Advance(context.Context, models.InboundMessage) (string, error) {
	return s.reply, s.err
}

func (s stubEngine) Conversation(context.Context, string) (*models.Conversation, error) {
	return nil, s.err
}

func (s stubEngine) Reset(context.Context, string) error { return s.err }

func (s stubEngine) UpcomingOrders(context.Context, string) ([]models.Order, error) {
	return nil, s.err
}

func TestMessagesHandler_EngineErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantStatus string
	}{
		{"order not persisted", fmt.Errorf("%w for x: boom", flow.ErrOrderNotPersisted), http.StatusOK, "ok"},
		{"session store down", errors.New("db down"), http.StatusServiceUnavailable, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(stubEngine{reply: "sorry", err: tt.err}, nil, TransportNone)
			rr := serve(s, testutil.CreateHTTPRequest(t, http.MethodPost, "/messages", models.InboundMessage{UserID: testUser, Text: "yes"}))
			testutil.AssertHTTPStatus(t, tt.wantCode, rr.Code, tt.name)
			body := testutil.AssertJSONResponse(t, rr, tt.wantStatus)
			if result, _ := body["result"].(map[string]interface{}); result["reply"] != "sorry" {
				t.Errorf("reply missing from %v", body)
			}
		})
	}
}

type recordingEngine struct {
	stubEngine
	got []models.InboundMessage
}

func (r *recordingEngine) Advance(_ context.Context, msg models.InboundMessage) (string, error) {
	r.got = append(r.got, msg)
	return r.reply, r.err
}

func TestMessagesHandler_MediaMustBeInline(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantData string
	}{
		{"url rejected", `{"user_id":"+1555","media":{"url":"http://169.254.169.254/latest/meta-data"}}`, http.StatusBadRequest, ""},
		{"url with data rejected", `{"user_id":"+1555","media":{"url":"https://example.com/a.png","data":"anBlZw=="}}`, http.StatusBadRequest, ""},
		{"inline data accepted", `{"user_id":"+1555","media":{"mime_type":"image/jpeg","data":"anBlZy1ieXRlcw=="}}`, http.StatusOK, "jpeg-bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &recordingEngine{stubEngine: stubEngine{reply: "got it"}}
			s := NewServer(engine, nil, TransportNone)
			rr := serve(s, testutil.CreateJSONRequest(t, http.MethodPost, "/messages", tt.body))
			testutil.AssertHTTPStatus(t, tt.wantCode, rr.Code, tt.name)
			if tt.wantCode != http.StatusOK {
				testutil.AssertJSONResponse(t, rr, "error")
				if len(engine.got) != 0 {
					t.Errorf("engine should not be called, got %+v", engine.got)
				}
				return
			}
			if len(engine.got) != 1 || engine.got[0].Media == nil {
				t.Fatalf("expected one message with media, got %+v", engine.got)
			}
			if media := engine.got[0].Media; string(media.Data) != tt.wantData || media.MimeType != "image/jpeg" {
				t.Errorf("media = %+v", media)
			}
		})
	}
}

func TestOrdersHandler(t *testing.T) {
	s, st := newTestServer(t)
	future := time.Now().AddDate(0, 1, 0).Format(models.EventDateLayout)
	past := time.Now().AddDate(0, -1, 0).Format(models.EventDateLayout)
	for _, date := range []string{future, past} {
		if err := st.AddOrder(models.Order{UserID: testUser, EventDate: date, Flavor: "Vanilla"}); err != nil {
			t.Fatal(err)
		}
	}

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/orders?user_id="+url.QueryEscape(testUser), nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET /orders")
	var orders []models.Order
	testutil.DecodeResult(t, rr, &orders)
	if len(orders) != 1 || orders[0].EventDate != future {
		t.Errorf("expected only the upcoming order, got %+v", orders)
	}

	rr = serve(s, httptest.NewRequest(http.MethodGet, "/orders", nil))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "GET /orders without user")

	rr = serve(s, httptest.NewRequest(http.MethodGet, "/orders?user_id=nobody", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET /orders unknown user")
	if !strings.Contains(rr.Body.String(), `"result":[]`) {
		t.Errorf("expected empty list, got %s", rr.Body.String())
	}
}

func TestOrdersHandler_LookupFailure(t *testing.T) {
	s := NewServer(stubEngine{err: errors.New("sheet down")}, nil, TransportNone)
	rr := serve(s, httptest.NewRequest(http.MethodGet, "/orders?user_id=x", nil))
	testutil.AssertHTTPStatus(t, http.StatusBadGateway, rr.Code, "lookup failure")
}

func TestConversationHandler(t *testing.T) {
	s, _ := newTestServer(t)
	path := "/conversations/" + url.PathEscape(testUser)

	rr := serve(s, httptest.NewRequest(http.MethodGet, path, nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "before any message")

	postMessage(t, s, "hi")
	postMessage(t, s, "1")

	rr = serve(s, httptest.NewRequest(http.MethodGet, path, nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "after messages")
	var conv models.Conversation
	testutil.DecodeResult(t, rr, &conv)
	if conv.UserID != testUser || conv.Step != models.StepAskDate {
		t.Errorf("unexpected conversation %+v", conv)
	}

	rr = serve(s, httptest.NewRequest(http.MethodDelete, path, nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "reset")
	rr = serve(s, httptest.NewRequest(http.MethodGet, path, nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "after reset")

	rr = serve(s, httptest.NewRequest(http.MethodPut, path, nil))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "PUT")
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t)

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")
	if body := testutil.AssertJSONResponse(t, rr, "healthy"); body["transport"] != TransportNone {
		t.Errorf("unexpected health body %v", body)
	}
	if rr.Header().Get(RequestIDHeader) == "" {
		t.Error("expected a request id header")
	}

	postMessage(t, s, "hi")
	rr = serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "metrics")
	if !strings.Contains(rr.Body.String(), "orderpipe_messages_total") {
		t.Error("expected message counter in metrics output")
	}
}

func TestRequestIDPropagates(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req_fixed")
	if got := serve(s, req).Header().Get(RequestIDHeader); got != "req_fixed" {
		t.Errorf("request id = %q", got)
	}
}

func TestTwilioWebhookRoute(t *testing.T) {
	engine, st := testutil.NewTestEngine()
	defer st.Close()

	mock := twiliowhatsapp.NewMockClient()
	svc := messaging.NewTwilioService(mock)
	s := NewServer(engine, svc, TransportTwilio)

	form := url.Values{"From": {"whatsapp:" + testUser}, "Body": {"hi"}}
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := serve(s, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "webhook")

	got := <-svc.Responses()
	if got.From != testUser || got.Body != "hi" {
		t.Errorf("unexpected response %+v", got)
	}

	// Without the Twilio transport the route is not mounted.
	plain, _ := newTestServer(t)
	rr = serve(plain, httptest.NewRequest(http.MethodPost, "/webhook/twilio", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "webhook without twilio")
}

func TestCreateMessagingService(t *testing.T) {
	if svc, tw, err := createMessagingService(context.Background(), TransportNone, Modules{}); err != nil || svc != nil || tw != nil {
		t.Errorf("none transport: %v %v %v", svc, tw, err)
	}
	if _, _, err := createMessagingService(context.Background(), "carrier-pigeon", Modules{}); err == nil {
		t.Error("expected unknown transport error")
	}
	svc, tw, err := createMessagingService(context.Background(), TransportTwilio, Modules{Twilio: []twiliowhatsapp.Option{
		twiliowhatsapp.WithAccountSID("AC1"),
		twiliowhatsapp.WithAuthToken("tok"),
		twiliowhatsapp.WithFromWhats("+15550000000"),
	}})
	if err != nil || svc == nil || tw == nil {
		t.Errorf("twilio transport: %v %v %v", svc, tw, err)
	}
}

func TestCreateStore(t *testing.T) {
	st, err := createStore(nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := st.(*store.InMemoryStore); !ok {
		t.Errorf("expected in-memory store, got %T", st)
	}
	st.Close()

	st, err = createStore([]store.Option{store.WithSQLiteDSN(t.TempDir() + "/orderpipe.db")})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := st.(*store.SQLiteStore); !ok {
		t.Errorf("expected SQLite store, got %T", st)
	}
	st.Close()
}

func TestCreateEngine_LocalFallbacks(t *testing.T) {
	st := store.NewInMemoryStore()
	defer st.Close()
	engine, err := createEngine(context.Background(), st, Modules{})
	if err != nil || engine == nil {
		t.Fatalf("createEngine: %v", err)
	}
}

func TestWriteJSONResponse_EncodeFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSONResponse(rec, http.StatusOK, map[string]any{"bad": make(chan int)})

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != internalErrorBody {
		t.Errorf("body = %q", got)
	}
}
