package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendText_SplitsAndPostsEachChunk(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "ch-1", r.FormValue("channel"))
		_ = json.NewEncoder(w).Encode(apiResponse{OK: true, TS: "123.456"})
	}))
	defer srv.Close()

	a := New("xoxb-test", "")
	a.httpClient = srv.Client()
	a.baseURL = srv.URL + "/"

	ts, err := a.SendText(context.Background(), "ch-1", "hello world")
	require.NoError(t, err)
	assert.Equal(t, "123.456", ts)
	assert.Equal(t, 1, calls)
}

func TestEnsureChannel_ParsesCreatedChannelID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":      true,
			"channel": map[string]string{"id": "C123", "name": "demo-claude"},
		})
	}))
	defer srv.Close()

	a := New("xoxb-test", "")
	a.httpClient = srv.Client()
	a.baseURL = srv.URL + "/"

	id, err := a.EnsureChannel(context.Background(), "Demo Claude")
	require.NoError(t, err)
	assert.Equal(t, "C123", id)
}

func TestEnsureChannel_FallsBackToLookupOnNameTaken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/conversations.create":
			_ = json.NewEncoder(w).Encode(apiResponse{OK: false, Error: "name_taken"})
		case r.URL.Path == "/conversations.list":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"ok": true,
				"channels": []map[string]string{
					{"id": "C999", "name": "demo-claude"},
				},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	a := New("xoxb-test", "")
	a.httpClient = srv.Client()
	a.baseURL = srv.URL + "/"

	id, err := a.EnsureChannel(context.Background(), "demo-claude")
	require.NoError(t, err)
	assert.Equal(t, "C999", id)
}

func TestAddReaction_PostsExpectedParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "ch-1", r.FormValue("channel"))
		assert.Equal(t, "hourglass", r.FormValue("name"))
		_ = json.NewEncoder(w).Encode(apiResponse{OK: true})
	}))
	defer srv.Close()

	a := New("xoxb-test", "")
	a.httpClient = srv.Client()
	a.baseURL = srv.URL + "/"

	require.NoError(t, a.AddReaction(context.Background(), "ch-1", "123.456", ":hourglass:"))
}

func TestDownloadURLWithToken_AppendsQueryParam(t *testing.T) {
	got := downloadURLWithToken("https://files.slack.com/x/y", "xoxb-abc")
	assert.Equal(t, "https://files.slack.com/x/y?token=xoxb-abc", got)

	got2 := downloadURLWithToken("https://files.slack.com/x/y?foo=1", "xoxb-abc")
	assert.Equal(t, "https://files.slack.com/x/y?foo=1&token=xoxb-abc", got2)
}

func TestNormalizeChannelName(t *testing.T) {
	assert.Equal(t, "my-project-claude", normalizeChannelName("My Project Claude"))
}
