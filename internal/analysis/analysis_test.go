package analysis

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxsight/internal/command"
)

func TestStubReturnsCannedResultPerMode(t *testing.T) {
	t.Parallel()

	stub := NewStub(0)
	for _, mode := range []command.Mode{command.ModeObject, command.ModeCurrency, command.ModeText, command.ModeScene} {
		got, err := stub.Analyze(context.Background(), Request{Mode: mode})
		require.NoError(t, err)
		assert.Equal(t, Canned(mode), got)
	}

	got, err := stub.Analyze(context.Background(), Request{Mode: command.ModeHome})
	require.NoError(t, err)
	assert.Equal(t, "Processing complete.", got)
	assert.Contains(t, Canned(command.ModeCurrency), "100 rupee note")
}

func TestStubHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := NewStub(time.Minute).Analyze(ctx, Request{Mode: command.ModeText})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOpenAISendsFrameAsImage(t *testing.T) {
	t.Parallel()

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":" A red mug on a desk. "}}]}`)
	}))
	defer srv.Close()

	client := openai.NewClient(
		option.WithAPIKey("test"),
		option.WithBaseURL(srv.URL),
		option.WithMaxRetries(0),
	)
	analyzer := NewOpenAI(client, "")

	got, err := analyzer.Analyze(context.Background(), Request{Mode: command.ModeObject, Frame: []byte{0xff, 0xd8, 0xff, 0xd9}})
	require.NoError(t, err)
	assert.Equal(t, "A red mug on a desk.", got)

	assert.Equal(t, "gpt-4o-mini", body["model"])
	encoded, _ := json.Marshal(body["messages"])
	assert.True(t, strings.Contains(string(encoded), "data:image/jpeg;base64,/9j/2Q=="), string(encoded))
	assert.Contains(t, string(encoded), "main object")
}

func TestOpenAIRequiresFrame(t *testing.T) {
	t.Parallel()

	analyzer := NewOpenAI(openai.NewClient(option.WithAPIKey("test")), "")
	_, err := analyzer.Analyze(context.Background(), Request{Mode: command.ModeScene})
	require.ErrorIs(t, err, ErrNoFrame)
}
