package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendalia/catalog-ai-platform/internal/messaging"
	"github.com/vendalia/catalog-ai-platform/internal/visual"
)

func TestBusinessHoursTool(t *testing.T) {
	bogota, err := time.LoadLocation("America/Bogota")
	require.NoError(t, err)

	tests := []struct {
		name     string
		now      time.Time
		wantOpen bool
	}{
		{"weekday morning", time.Date(2026, 3, 4, 10, 0, 0, 0, bogota), true},
		{"weekday before opening", time.Date(2026, 3, 4, 7, 59, 0, 0, bogota), false},
		{"weekday after closing", time.Date(2026, 3, 4, 18, 0, 0, 0, bogota), false},
		{"saturday in hours", time.Date(2026, 3, 7, 12, 0, 0, 0, bogota), true},
		{"sunday always closed", time.Date(2026, 3, 8, 12, 0, 0, 0, bogota), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := &businessHoursTool{now: func() time.Time { return tt.now }}
			res, err := tool.Run(context.Background(), json.RawMessage(`{}`), &Context{})
			require.NoError(t, err)
			require.True(t, res.OK)

			var p businessHoursPayload
			require.NoError(t, json.Unmarshal(res.Payload, &p))
			assert.Equal(t, tt.wantOpen, p.Open)
			assert.Equal(t, "08:00", p.OpensAt)
			assert.Equal(t, "18:00", p.ClosesAt)
		})
	}
}

func TestTransferTool(t *testing.T) {
	tool := &transferTool{queues: QueueConfig{Sales: "q-sales", Support: "q-support"}}

	tests := []struct {
		name      string
		args      string
		wantOK    bool
		wantQueue string
	}{
		{"sales", `{"queue":"sales","reason":"pedido"}`, true, "q-sales"},
		{"support", `{"queue":"support"}`, true, "q-support"},
		{"case insensitive", `{"queue":"Sales"}`, true, "q-sales"},
		{"unknown queue", `{"queue":"billing"}`, false, ""},
		{"malformed args", `{"queue":`, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tool.Run(context.Background(), json.RawMessage(tt.args), &Context{})
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, res.OK)
			assert.Equal(t, tt.wantOK, res.ShouldTransfer)
			assert.Equal(t, tt.wantQueue, res.TransferQueue)
		})
	}
}

func TestSendCatalogTool(t *testing.T) {
	tool := &sendCatalogTool{catalogs: []CatalogFile{
		{Name: "Belleza Campaña 4", URL: "https://cdn.example.com/belleza-c4.pdf", Current: true},
		{Name: "Hogar Campaña 4", URL: "https://cdn.example.com/hogar-c4.pdf", Current: true},
		{Name: "Belleza Campaña 3", URL: "https://cdn.example.com/belleza-c3.pdf", Current: false},
	}}

	t.Run("matches current catalog by substring", func(t *testing.T) {
		res, err := tool.Run(context.Background(), json.RawMessage(`{"catalog":"hogar"}`), &Context{})
		require.NoError(t, err)
		require.True(t, res.OK)
		require.Len(t, res.Messages, 1)
		assert.Equal(t, messaging.MessageTypeDocument, res.Messages[0].Type)
		assert.Equal(t, "https://cdn.example.com/hogar-c4.pdf", res.Messages[0].DocumentURL)
	})

	t.Run("never serves an archived edition", func(t *testing.T) {
		res, err := tool.Run(context.Background(), json.RawMessage(`{"catalog":"Belleza Campaña 3"}`), &Context{})
		require.NoError(t, err)
		if assert.True(t, res.OK) {
			// The substring match lands on the current Belleza edition instead.
			assert.Equal(t, "https://cdn.example.com/belleza-c4.pdf", res.Messages[0].DocumentURL)
		}
	})

	t.Run("unknown name fails", func(t *testing.T) {
		res, err := tool.Run(context.Background(), json.RawMessage(`{"catalog":"juguetes"}`), &Context{})
		require.NoError(t, err)
		assert.False(t, res.OK)
	})

	t.Run("spec lists only current names", func(t *testing.T) {
		desc := tool.Spec().Description
		assert.Contains(t, desc, "Belleza Campaña 4")
		assert.Contains(t, desc, "Hogar Campaña 4")
		assert.NotContains(t, desc, "Campaña 3")
	})
}

type fakeSearcher struct {
	results []string
	err     error
	gotTopK int
}

func (f *fakeSearcher) Search(_ context.Context, _ string, topK int) ([]string, error) {
	f.gotTopK = topK
	return f.results, f.err
}

func TestKnowledgeTool(t *testing.T) {
	t.Run("returns results", func(t *testing.T) {
		s := &fakeSearcher{results: []string{"la crema vale $30.000"}}
		tool := &knowledgeTool{searcher: s}

		res, err := tool.Run(context.Background(), json.RawMessage(`{"query":"precio crema"}`), &Context{})
		require.NoError(t, err)
		assert.True(t, res.OK)
		assert.Equal(t, 4, s.gotTopK)
		assert.Contains(t, string(res.Payload), "$30.000")
	})

	t.Run("empty query fails", func(t *testing.T) {
		tool := &knowledgeTool{searcher: &fakeSearcher{}}
		res, err := tool.Run(context.Background(), json.RawMessage(`{"query":"  "}`), &Context{})
		require.NoError(t, err)
		assert.False(t, res.OK)
	})

	t.Run("nil searcher fails without error", func(t *testing.T) {
		tool := &knowledgeTool{}
		res, err := tool.Run(context.Background(), json.RawMessage(`{"query":"precio"}`), &Context{})
		require.NoError(t, err)
		assert.False(t, res.OK)
	})

	t.Run("store error propagates", func(t *testing.T) {
		tool := &knowledgeTool{searcher: &fakeSearcher{err: errors.New("index offline")}}
		_, err := tool.Run(context.Background(), json.RawMessage(`{"query":"precio"}`), &Context{})
		require.Error(t, err)
	})
}

type fakeReader struct {
	reply     string
	err       error
	gotPrompt string
	gotImages []visual.Image
}

func (f *fakeReader) Describe(_ context.Context, prompt string, images []visual.Image) (string, error) {
	f.gotPrompt = prompt
	f.gotImages = images
	return f.reply, f.err
}

func TestVisionExtractTool(t *testing.T) {
	imgB64 := base64.StdEncoding.EncodeToString([]byte("fake-jpeg-bytes"))

	t.Run("extracts document data", func(t *testing.T) {
		reader := &fakeReader{reply: `{"document":"1020304050","name":"Marta Pérez"}`}
		tool := &visionExtractTool{reader: reader}

		res, err := tool.Run(context.Background(), json.RawMessage(`{"purpose":"document"}`),
			&Context{ImageB64: imgB64, ImageMIME: "image/png"})
		require.NoError(t, err)
		assert.True(t, res.OK)
		assert.Contains(t, string(res.Payload), "1020304050")
		require.Len(t, reader.gotImages, 1)
		assert.Equal(t, "image/png", reader.gotImages[0].MIME)
		assert.Contains(t, reader.gotPrompt, "documento de identidad")
	})

	t.Run("no image in turn fails", func(t *testing.T) {
		tool := &visionExtractTool{reader: &fakeReader{}}
		res, err := tool.Run(context.Background(), json.RawMessage(`{"purpose":"document"}`), &Context{})
		require.NoError(t, err)
		assert.False(t, res.OK)
	})

	t.Run("unknown purpose fails", func(t *testing.T) {
		tool := &visionExtractTool{reader: &fakeReader{}}
		res, err := tool.Run(context.Background(), json.RawMessage(`{"purpose":"selfie"}`),
			&Context{ImageB64: imgB64})
		require.NoError(t, err)
		assert.False(t, res.OK)
	})

	t.Run("model error propagates", func(t *testing.T) {
		tool := &visionExtractTool{reader: &fakeReader{err: errors.New("throttled")}}
		_, err := tool.Run(context.Background(), json.RawMessage(`{"purpose":"product"}`),
			&Context{ImageB64: imgB64})
		require.Error(t, err)
	})
}
