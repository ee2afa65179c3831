package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/indicator"
	"pulse/internal/market"
)

func chatResponse(content string) string {
	payload := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": content}},
		},
	}
	raw, _ := json.Marshal(payload)
	return string(raw)
}

func TestChatClient_Chat(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])
		fmt.Fprint(w, chatResponse("趨勢偏多"))
	}))
	defer srv.Close()

	c := &ChatClient{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "test-model"}
	out, err := c.Chat(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "趨勢偏多", out)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "/v1/chat/completions", gotPath)
}

func TestChatClient_RetriesOn429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
			return
		}
		fmt.Fprint(w, chatResponse("ok"))
	}))
	defer srv.Close()

	c := &ChatClient{BaseURL: srv.URL, Model: "m", Timeout: 5 * time.Second}
	out, err := c.Chat(context.Background(), "", "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestChatClient_SurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid key"}}`)
	}))
	defer srv.Close()

	c := &ChatClient{BaseURL: srv.URL, Model: "m"}
	_, err := c.Chat(context.Background(), "", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid key")
}

func TestChatClient_EndpointNormalization(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"", "https://api.openai.com/v1/chat/completions"},
		{"https://x/v1", "https://x/v1/chat/completions"},
		{"https://x/v1/", "https://x/v1/chat/completions"},
		{"https://x/v1/chat/completions", "https://x/v1/chat/completions"},
	}
	for _, tc := range cases {
		c := &ChatClient{BaseURL: tc.base}
		assert.Equal(t, tc.want, c.endpoint(), "base=%q", tc.base)
	}
}

type fakeChatter struct {
	lastSystem string
	lastUser   string
	reply      string
	err        error
}

func (f *fakeChatter) Chat(_ context.Context, system, user string) (string, error) {
	f.lastSystem, f.lastUser = system, user
	return f.reply, f.err
}

func TestAnalyst_Analyze(t *testing.T) {
	bars := []market.Bar{
		{Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Close: 100, Volume: 1000},
		{Date: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Close: 102, Volume: 1200},
	}
	ind, err := indicator.Compute(bars)
	require.NoError(t, err)

	fc := &fakeChatter{reply: "分析結果"}
	out, err := NewAnalyst(fc).Analyze(context.Background(), "2330", "", bars, ind)
	require.NoError(t, err)
	assert.Equal(t, "分析結果", out)
	assert.Contains(t, fc.lastUser, "2330")
	assert.Contains(t, fc.lastUser, "102.00")
	assert.Contains(t, fc.lastUser, "暖身中", "短序列指標尚在暖身")
	assert.Contains(t, fc.lastUser, "請分析目前趨勢", "空問題帶入預設")

	_, err = NewAnalyst(fc).Analyze(context.Background(), "2330", "q", nil, nil)
	assert.ErrorIs(t, err, market.ErrDataUnavailable)

	_, err = NewAnalyst(nil).Analyze(context.Background(), "2330", "q", bars, nil)
	assert.Error(t, err)
}
