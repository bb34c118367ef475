package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/monadchat/internal/chat"
	"github.com/antoniostano/monadchat/internal/completion"
	"github.com/antoniostano/monadchat/internal/config"
	"github.com/antoniostano/monadchat/internal/kv"
	"github.com/antoniostano/monadchat/internal/observability"
	"github.com/antoniostano/monadchat/internal/session"
	"github.com/antoniostano/monadchat/internal/usage"
	"github.com/antoniostano/monadchat/internal/wallet"
)

const testAddress = "0x00000000000000000000000000000000000000a1"

type fakeCompletion struct {
	fragments []string
	startErr  error
	recvErr   error
}

func (c fakeCompletion) Stream(context.Context, []chat.Message) (completion.Stream, error) {
	if c.startErr != nil {
		return nil, c.startErr
	}
	return &fakeStream{fragments: append([]string(nil), c.fragments...), err: c.recvErr}, nil
}

type fakeStream struct {
	fragments []string
	err       error
}

func (s *fakeStream) Recv() (string, error) {
	if len(s.fragments) > 0 {
		f := s.fragments[0]
		s.fragments = s.fragments[1:]
		return f, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *fakeStream) Close() error { return nil }

// gatedCompletion yields first, then waits for gate before yielding rest.
// Like a provider connection it fails once its context is done.
type gatedCompletion struct {
	first, rest string
	gate        chan struct{}
}

func (c gatedCompletion) Stream(ctx context.Context, _ []chat.Message) (completion.Stream, error) {
	return &gatedStream{ctx: ctx, parts: []string{c.first, c.rest}, gate: c.gate}, nil
}

type gatedStream struct {
	ctx   context.Context
	parts []string
	gate  chan struct{}
	sent  int
}

func (s *gatedStream) Recv() (string, error) {
	if s.sent == 1 {
		select {
		case <-s.gate:
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		}
	}
	if s.sent >= len(s.parts) {
		return "", io.EOF
	}
	s.sent++
	return s.parts[s.sent-1], nil
}

func (s *gatedStream) Close() error { return nil }

type fakeGate struct{}

func (fakeGate) Check(_ context.Context, address string) wallet.Eligibility {
	return wallet.Eligibility{Address: address, TxCount: 5, MinTransactions: 3, Eligible: true}
}

type fakeVerifier struct {
	err error
}

func (fakeVerifier) Receiver() string { return "0x8814a93b36f6f02ab5579c7da8e543a95436aa25" }

func (fakeVerifier) Price() *big.Int { return big.NewInt(1_000_000_000_000_000_000) }

func (v fakeVerifier) Verify(_ context.Context, address, txHash string) (wallet.Payment, error) {
	if v.err != nil {
		return wallet.Payment{}, v.err
	}
	return wallet.Payment{From: address, TxHash: txHash, ValueWei: "1000000000000000000"}, nil
}

type testEnv struct {
	ts     *httptest.Server
	ledger *usage.Ledger
	chats  *chat.Directory
}

func newTestEnv(t *testing.T, client completion.Client, verifier PaymentVerifier) testEnv {
	t.Helper()
	store := kv.NewInMemoryStore()
	ledger := usage.New(store)
	chats := chat.NewDirectory(store, nil)
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", time.Now().UnixNano()))
	controller := session.NewController(ledger, chats, client, session.WithMetrics(metrics))

	srv := New(config.Config{DailyMessageLimit: usage.DefaultDailyLimit}, Deps{
		Ledger:         ledger,
		Chats:          chats,
		Controller:     controller,
		Completion:     client,
		Gate:           fakeGate{},
		Payments:       verifier,
		Metrics:        metrics,
		StoreMode:      "in-memory",
		CompletionMode: "mock",
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		ledger.Close()
	})
	return testEnv{ts: ts, ledger: ledger, chats: chats}
}

func postJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	body, _ := json.Marshal(v)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(addressHeader, testAddress)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return res
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func chatRequest() completion.ChatRequest {
	return completion.ChatRequest{Messages: []completion.WireMessage{{Role: chat.RoleUser, Content: "What is Monad?"}}}
}

func TestChatStreamsPlainText(t *testing.T) {
	env := newTestEnv(t, fakeCompletion{fragments: []string{"Mon", "ad is fast"}}, nil)

	res := postJSON(t, env.ts.URL+"/api/chat", chatRequest())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("Content-Type = %q, want text/plain", ct)
	}
	if body := readBody(t, res); body != "Monad is fast" {
		t.Fatalf("body = %q, want %q", body, "Monad is fast")
	}
}

func TestChatMissingCredentialReturnsFixedText(t *testing.T) {
	env := newTestEnv(t, completion.NewGenAIClient("", "", nil), nil)

	res := postJSON(t, env.ts.URL+"/api/chat", chatRequest())
	if body := readBody(t, res); body != completion.MissingCredentialText {
		t.Fatalf("body = %q, want %q", body, completion.MissingCredentialText)
	}
}

func TestChatStartFailureReturnsApology(t *testing.T) {
	env := newTestEnv(t, fakeCompletion{startErr: errors.New("provider down")}, nil)

	res := postJSON(t, env.ts.URL+"/api/chat", chatRequest())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if body := readBody(t, res); body != completion.ApologyText {
		t.Fatalf("body = %q, want apology", body)
	}
}

func TestChatMidStreamFailureBreaksBody(t *testing.T) {
	env := newTestEnv(t, fakeCompletion{fragments: []string{"Monad"}, recvErr: errors.New("reset")}, nil)

	res := postJSON(t, env.ts.URL+"/api/chat", chatRequest())
	defer res.Body.Close()
	if _, err := io.ReadAll(res.Body); err == nil {
		t.Fatalf("reading aborted body should fail")
	}
}

func TestChatRejectsInvalidJSON(t *testing.T) {
	env := newTestEnv(t, fakeCompletion{}, nil)

	res, err := http.Post(env.ts.URL+"/api/chat", "application/json", strings.NewReader("{nope"))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestConversationLifecycle(t *testing.T) {
	env := newTestEnv(t, fakeCompletion{fragments: []string{"Mon", "ad is fast"}}, nil)

	res := postJSON(t, env.ts.URL+"/v1/conversations", nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var conv chat.Conversation
	if err := json.NewDecoder(res.Body).Decode(&conv); err != nil {
		t.Fatalf("decode conversation: %v", err)
	}
	res.Body.Close()
	if conv.Title != chat.DefaultTitle {
		t.Fatalf("Title = %q, want %q", conv.Title, chat.DefaultTitle)
	}

	res = postJSON(t, env.ts.URL+"/v1/conversations/"+conv.ID+"/messages", map[string]string{"content": "What is Monad?"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("send status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if body := readBody(t, res); body != "Monad is fast" {
		t.Fatalf("send body = %q", body)
	}
	if got := res.Trailer.Get(replyStateTrailer); got != string(session.StateIdle) {
		t.Fatalf("trailer %s = %q, want %q", replyStateTrailer, got, session.StateIdle)
	}

	stored, ok := env.chats.For(testAddress).Get(context.Background(), conv.ID)
	if !ok {
		t.Fatalf("conversation not stored")
	}
	if len(stored.Messages) != 2 || stored.Title != "What is Monad?" {
		t.Fatalf("stored conversation = %+v", stored)
	}
	if got := env.ledger.Count(context.Background(), testAddress); got != 1 {
		t.Fatalf("ledger count = %d, want 1", got)
	}

	req, _ := http.NewRequest(http.MethodDelete, env.ts.URL+"/v1/conversations/"+conv.ID+"?address="+testAddress, nil)
	delRes, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE error = %v", err)
	}
	delRes.Body.Close()
	if delRes.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want %d", delRes.StatusCode, http.StatusNoContent)
	}

	getRes, err := http.Get(env.ts.URL + "/v1/conversations/" + conv.ID + "?address=" + testAddress)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	getRes.Body.Close()
	if getRes.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want %d", getRes.StatusCode, http.StatusNotFound)
	}
}

func TestSendMessageFailureReportsTrailer(t *testing.T) {
	env := newTestEnv(t, fakeCompletion{fragments: []string{"Mon"}, recvErr: errors.New("reset")}, nil)
	store := env.chats.For(testAddress)
	conv := store.Create()
	store.Save(context.Background(), conv)

	res := postJSON(t, env.ts.URL+"/v1/conversations/"+conv.ID+"/messages", map[string]string{"content": "hi"})
	_ = readBody(t, res)
	if got := res.Trailer.Get(replyStateTrailer); got != string(session.StateFailed) {
		t.Fatalf("trailer %s = %q, want %q", replyStateTrailer, got, session.StateFailed)
	}
	stored, _ := store.Get(context.Background(), conv.ID)
	if last := stored.Messages[len(stored.Messages)-1]; last.Content != completion.ApologyText {
		t.Fatalf("last message = %q, want apology", last.Content)
	}
}

func TestSendMessageQuotaExceeded(t *testing.T) {
	env := newTestEnv(t, fakeCompletion{fragments: []string{"x"}}, nil)
	for i := 0; i < usage.DefaultDailyLimit; i++ {
		env.ledger.Increment(context.Background(), testAddress)
	}
	store := env.chats.For(testAddress)
	conv := store.Create()
	store.Save(context.Background(), conv)

	res := postJSON(t, env.ts.URL+"/v1/conversations/"+conv.ID+"/messages", map[string]string{"content": "one more"})
	defer res.Body.Close()
	if res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusTooManyRequests)
	}
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["code"] != "quota_exceeded" {
		t.Fatalf("code = %v, want quota_exceeded", payload["code"])
	}
	if resetIn, _ := payload["reset_in"].(string); !strings.Contains(resetIn, "h ") {
		t.Fatalf("reset_in = %v, want \"Xh Ym\"", payload["reset_in"])
	}
}

func TestSendMessageErrors(t *testing.T) {
	env := newTestEnv(t, fakeCompletion{fragments: []string{"x"}}, nil)

	res := postJSON(t, env.ts.URL+"/v1/conversations/missing/messages", map[string]string{"content": "hi"})
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing conversation status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}

	store := env.chats.For(testAddress)
	conv := store.Create()
	store.Save(context.Background(), conv)
	res = postJSON(t, env.ts.URL+"/v1/conversations/"+conv.ID+"/messages", map[string]string{"content": "  "})
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty message status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	listRes, err := http.Get(env.ts.URL + "/v1/conversations?address=nope")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	listRes.Body.Close()
	if listRes.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid address status = %d, want %d", listRes.StatusCode, http.StatusBadRequest)
	}
}

func TestUsageAndEligibility(t *testing.T) {
	env := newTestEnv(t, fakeCompletion{}, nil)
	env.ledger.Increment(context.Background(), testAddress)

	res, err := http.Get(env.ts.URL + "/v1/usage/" + strings.ToUpper(testAddress[2:]))
	if err != nil {
		t.Fatalf("GET usage error = %v", err)
	}
	var st usage.Status
	if err := json.NewDecoder(res.Body).Decode(&st); err != nil {
		t.Fatalf("decode usage: %v", err)
	}
	res.Body.Close()
	if st.Count != 1 || st.Remaining != usage.DefaultDailyLimit-1 || st.Unlimited {
		t.Fatalf("usage = %+v", st)
	}

	res, err = http.Get(env.ts.URL + "/v1/wallet/" + testAddress + "/eligibility")
	if err != nil {
		t.Fatalf("GET eligibility error = %v", err)
	}
	var el wallet.Eligibility
	if err := json.NewDecoder(res.Body).Decode(&el); err != nil {
		t.Fatalf("decode eligibility: %v", err)
	}
	res.Body.Close()
	if !el.Eligible {
		t.Fatalf("eligibility = %+v, want eligible", el)
	}
}

func TestPremiumGrantIsIdempotent(t *testing.T) {
	env := newTestEnv(t, fakeCompletion{}, fakeVerifier{})
	body := map[string]string{"address": testAddress, "tx_hash": "0xabc"}

	for i, wantGranted := range []bool{true, false} {
		res := postJSON(t, env.ts.URL+"/v1/premium", body)
		var payload premiumResponse
		if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
			t.Fatalf("decode premium: %v", err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("attempt %d status = %d, want %d", i, res.StatusCode, http.StatusOK)
		}
		if payload.Granted != wantGranted || !payload.Premium {
			t.Fatalf("attempt %d payload = %+v", i, payload)
		}
	}
	if !env.ledger.IsPremium(context.Background(), testAddress) {
		t.Fatalf("IsPremium() = false after grant")
	}
}

func TestPremiumRejectsInvalidPayment(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{wallet.ErrSenderMismatch, http.StatusPaymentRequired},
		{wallet.ErrInsufficientValue, http.StatusPaymentRequired},
		{wallet.ErrPaymentPending, http.StatusConflict},
		{wallet.ErrInvalidTxHash, http.StatusBadRequest},
		{errors.New("rpc timeout"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		env := newTestEnv(t, fakeCompletion{}, fakeVerifier{err: tc.err})
		res := postJSON(t, env.ts.URL+"/v1/premium", map[string]string{"address": testAddress, "tx_hash": "0xabc"})
		res.Body.Close()
		if res.StatusCode != tc.want {
			t.Fatalf("Verify error %v: status = %d, want %d", tc.err, res.StatusCode, tc.want)
		}
		if env.ledger.IsPremium(context.Background(), testAddress) {
			t.Fatalf("Verify error %v: identity upgraded", tc.err)
		}
	}
}

func TestEventsWebSocketPushesUsage(t *testing.T) {
	env := newTestEnv(t, fakeCompletion{}, nil)

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/v1/events/ws?address=" + testAddress
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var initial map[string]any
	if err := conn.ReadJSON(&initial); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if initial["type"] != "usage_changed" || initial["count"] != float64(0) {
		t.Fatalf("initial message = %+v", initial)
	}

	env.ledger.Increment(context.Background(), "0x00000000000000000000000000000000000000b2")
	env.ledger.Increment(context.Background(), testAddress)

	var update map[string]any
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if update["type"] != "usage_changed" || update["count"] != float64(1) || update["address"] != testAddress {
		t.Fatalf("update = %+v", update)
	}

	if err := conn.WriteJSON(map[string]string{"type": "client_control", "action": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong map[string]any
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong["type"] != "system_event" || pong["code"] != "pong" {
		t.Fatalf("pong = %+v", pong)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, fakeCompletion{}, nil)

	res, err := http.Get(env.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer res.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != "ok" || payload["store_mode"] != "in-memory" {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestPerfLatencyWindow(t *testing.T) {
	env := newTestEnv(t, fakeCompletion{fragments: []string{"Mon", "ad is fast"}}, nil)

	res := postJSON(t, env.ts.URL+"/v1/conversations", nil)
	var conv chat.Conversation
	if err := json.NewDecoder(res.Body).Decode(&conv); err != nil {
		t.Fatalf("decode conversation: %v", err)
	}
	res.Body.Close()
	readBody(t, postJSON(t, env.ts.URL+"/v1/conversations/"+conv.ID+"/messages", map[string]string{"content": "hi"}))

	snapshot := func() observability.StageSnapshot {
		t.Helper()
		res, err := http.Get(env.ts.URL + "/v1/perf/latency")
		if err != nil {
			t.Fatalf("GET /v1/perf/latency error = %v", err)
		}
		defer res.Body.Close()
		var snap observability.StageSnapshot
		if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return snap
	}

	stages := map[string]int{}
	for _, st := range snapshot().Stages {
		stages[st.Stage] = st.Samples
	}
	if stages["send_to_first_fragment"] != 1 || stages["send_total"] != 1 {
		t.Fatalf("stages = %+v, want one sample each", stages)
	}

	req, _ := http.NewRequest(http.MethodDelete, env.ts.URL+"/v1/perf/latency", nil)
	delRes, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE error = %v", err)
	}
	delRes.Body.Close()
	if delRes.StatusCode != http.StatusNoContent {
		t.Fatalf("reset status = %d, want %d", delRes.StatusCode, http.StatusNoContent)
	}
	if got := snapshot().Stages; len(got) != 0 {
		t.Fatalf("stages after reset = %+v, want none", got)
	}
}

func TestSendMessageClientDisconnectStillStoresReply(t *testing.T) {
	gate := make(chan struct{})
	env := newTestEnv(t, gatedCompletion{first: "Mon", rest: "ad is fast", gate: gate}, nil)
	store := env.chats.For(testAddress)
	conv := store.Create()
	store.Save(context.Background(), conv)

	ctx, cancel := context.WithCancel(context.Background())
	body, _ := json.Marshal(map[string]string{"content": "What is Monad?"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, env.ts.URL+"/v1/conversations/"+conv.ID+"/messages", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set(addressHeader, testAddress)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	first := make([]byte, 3)
	if _, err := io.ReadFull(res.Body, first); err != nil || string(first) != "Mon" {
		t.Fatalf("first fragment = %q, err = %v", first, err)
	}
	cancel()
	res.Body.Close()
	time.Sleep(50 * time.Millisecond)
	close(gate)

	deadline := time.Now().Add(2 * time.Second)
	for {
		stored, _ := store.Get(context.Background(), conv.ID)
		count := env.ledger.Count(context.Background(), testAddress)
		if len(stored.Messages) == 2 && count == 1 {
			if got := stored.Messages[1].Content; got != "Monad is fast" {
				t.Fatalf("stored reply = %q, want %q", got, "Monad is fast")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("stored messages = %+v, ledger count = %d; want full reply and count 1", stored.Messages, count)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPremiumTerms(t *testing.T) {
	env := newTestEnv(t, fakeCompletion{}, fakeVerifier{})
	res, err := http.Get(env.ts.URL + "/v1/premium")
	if err != nil {
		t.Fatalf("GET /v1/premium error = %v", err)
	}
	defer res.Body.Close()
	var terms premiumTermsResponse
	if err := json.NewDecoder(res.Body).Decode(&terms); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if terms.Receiver != "0x8814a93b36f6f02ab5579c7da8e543a95436aa25" || terms.PriceWei != "1000000000000000000" {
		t.Fatalf("terms = %+v", terms)
	}

	bare := newTestEnv(t, fakeCompletion{}, nil)
	res2, err := http.Get(bare.ts.URL + "/v1/premium")
	if err != nil {
		t.Fatalf("GET /v1/premium error = %v", err)
	}
	res2.Body.Close()
	if res2.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status without verifier = %d, want %d", res2.StatusCode, http.StatusServiceUnavailable)
	}
}
