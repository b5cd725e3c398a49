package augment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vendalia/catalog-ai-platform/internal/rag"
	"github.com/vendalia/catalog-ai-platform/internal/visual"
)

type fakeRetriever struct {
	scored   []rag.Scored
	err      error
	gotQuery string
}

func (f *fakeRetriever) Query(_ context.Context, query string, _ int) ([]rag.Scored, error) {
	f.gotQuery = query
	return f.scored, f.err
}

func chunkResult(texts ...string) []rag.Scored {
	out := make([]rag.Scored, len(texts))
	for i, t := range texts {
		out[i] = rag.Scored{Chunk: rag.Chunk{Text: t}, Score: 1 - float64(i)*0.1}
	}
	return out
}

func TestRetrievalUsesRawTextAsQuery(t *testing.T) {
	docs := &fakeRetriever{scored: chunkResult("la crema hidratante vale $30.000")}
	stage := NewRetrievalStage(docs, nil, nil, 4, 2, nil)

	docsFrag, toneFrag := stage.Run(context.Background(), "precio crema hidratante", "", "", false)
	assert.Equal(t, "precio crema hidratante", docs.gotQuery)
	assert.Contains(t, docsFrag, "$30.000")
	assert.Empty(t, toneFrag)
}

func TestRetrievalDerivesQueryFromImage(t *testing.T) {
	docs := &fakeRetriever{scored: chunkResult("labial mate rojo ref 1020")}
	vision := &scriptedVision{reply: "labial rojo mate"}
	stage := NewRetrievalStage(docs, nil, vision, 4, 2, nil)

	docsFrag, _ := stage.Run(context.Background(), "", testImageB64, "image/jpeg", false)
	assert.Equal(t, "labial rojo mate", docs.gotQuery)
	assert.Contains(t, docsFrag, "labial")
}

func TestRetrievalSkipsVisionWhenVisualResolved(t *testing.T) {
	docs := &fakeRetriever{}
	vision := &countingVision{}
	stage := NewRetrievalStage(docs, nil, vision, 4, 2, nil)

	docsFrag, toneFrag := stage.Run(context.Background(), "", testImageB64, "", true)
	assert.Zero(t, vision.calls)
	assert.Empty(t, docsFrag)
	assert.Empty(t, toneFrag)
}

type countingVision struct{ calls int }

func (c *countingVision) Describe(context.Context, string, []visual.Image) (string, error) {
	c.calls++
	return "", nil
}

func TestRetrievalToneFailureIsSilent(t *testing.T) {
	docs := &fakeRetriever{scored: chunkResult("dato")}
	tone := &fakeRetriever{err: errors.New("tone store offline")}
	stage := NewRetrievalStage(docs, tone, nil, 4, 2, nil)

	docsFrag, toneFrag := stage.Run(context.Background(), "pregunta", "", "", false)
	assert.NotEmpty(t, docsFrag)
	assert.Empty(t, toneFrag)
}

func TestRetrievalToneContributes(t *testing.T) {
	docs := &fakeRetriever{scored: chunkResult("dato")}
	tone := &fakeRetriever{scored: chunkResult("Responde con cercanía y usa emojis con moderación.")}
	stage := NewRetrievalStage(docs, tone, nil, 4, 2, nil)

	_, toneFrag := stage.Run(context.Background(), "pregunta", "", "", false)
	assert.Contains(t, toneFrag, "cercanía")
}

func TestRetrievalDocsFailureIsEmpty(t *testing.T) {
	docs := &fakeRetriever{err: errors.New("store offline")}
	stage := NewRetrievalStage(docs, nil, nil, 4, 2, nil)

	docsFrag, toneFrag := stage.Run(context.Background(), "pregunta", "", "", false)
	assert.Empty(t, docsFrag)
	assert.Empty(t, toneFrag)
}
