package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendalia/catalog-ai-platform/internal/crm"
	"github.com/vendalia/catalog-ai-platform/internal/messaging"
)

type fakeDirectory struct {
	byPhone    map[string]*crm.Contact
	byDocument map[string]*crm.Contact
	err        error
}

func (f *fakeDirectory) GetByPhone(_ context.Context, phone string) (*crm.Contact, error) {
	if f.err != nil {
		return nil, f.err
	}
	if c, ok := f.byPhone[phone]; ok {
		return c, nil
	}
	return nil, crm.ErrContactNotFound
}

func (f *fakeDirectory) GetByDocument(_ context.Context, document string) (*crm.Contact, error) {
	if f.err != nil {
		return nil, f.err
	}
	if c, ok := f.byDocument[document]; ok {
		return c, nil
	}
	return nil, crm.ErrContactNotFound
}

func promoterRun(t *testing.T, dir ContactDirectory, args string, tc *Context) (Result, error) {
	t.Helper()
	return (&promoterTool{contacts: dir}).Run(context.Background(), json.RawMessage(args), tc)
}

func TestPromoterValidatedByPhone(t *testing.T) {
	dir := &fakeDirectory{byPhone: map[string]*crm.Contact{
		"+573001234567": {ID: "c-1", Name: "Marta", Code: "PRM", Classification: crm.ClassPromoter},
	}}

	res, err := promoterRun(t, dir, `{}`, &Context{From: "573001234567@s.whatsapp.net"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "true", res.Patch[VarPromoterValidated])
	assert.Equal(t, "c-1", res.Patch[VarPromoterID])

	var p promoterPayload
	require.NoError(t, json.Unmarshal(res.Payload, &p))
	assert.Equal(t, "validated", p.Status)
	assert.Equal(t, "Marta", p.Name)
}

func TestPromoterLeaderCountsAsPromoter(t *testing.T) {
	dir := &fakeDirectory{byPhone: map[string]*crm.Contact{
		"573001234567": {ID: "c-2", Classification: crm.ClassLeader},
	}}

	res, err := promoterRun(t, dir, `{}`, &Context{From: "573001234567"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "true", res.Patch[VarPromoterValidated])
}

func TestPromoterRetailContactFails(t *testing.T) {
	dir := &fakeDirectory{byPhone: map[string]*crm.Contact{
		"573001234567": {ID: "c-3", Classification: crm.ClassRetail},
	}}

	res, err := promoterRun(t, dir, `{}`, &Context{From: "573001234567"})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "retail")
	assert.Empty(t, res.Patch)
}

func TestPromoterUnknownPhoneAsksForDocument(t *testing.T) {
	dir := &fakeDirectory{}

	res, err := promoterRun(t, dir, `{}`, &Context{From: "573009999999", Text: "soy promotora"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Empty(t, res.Patch)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, messaging.MessageTypeText, res.Messages[0].Type)
	assert.Contains(t, res.Messages[0].Text, "cédula")

	var p promoterPayload
	require.NoError(t, json.Unmarshal(res.Payload, &p))
	assert.Equal(t, "need_document", p.Status)
}

func TestPromoterDocumentFromArguments(t *testing.T) {
	dir := &fakeDirectory{byDocument: map[string]*crm.Contact{
		"1020304050": {ID: "c-4", Classification: crm.ClassPromoter},
	}}

	res, err := promoterRun(t, dir, `{"document":"1020304050"}`, &Context{From: "573009999999"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "c-4", res.Patch[VarPromoterID])
}

func TestPromoterDocumentExtractedFromText(t *testing.T) {
	dir := &fakeDirectory{byDocument: map[string]*crm.Contact{
		"1020304050": {ID: "c-5", Classification: crm.ClassPromoter},
	}}

	res, err := promoterRun(t, dir, `{}`, &Context{
		From: "573009999999",
		Text: "mi cédula es 1020304050 gracias",
	})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "c-5", res.Patch[VarPromoterID])
}

func TestPromoterUnknownDocumentFails(t *testing.T) {
	dir := &fakeDirectory{}

	res, err := promoterRun(t, dir, `{"document":"111222333"}`, &Context{From: "573009999999"})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Error)
}

func TestPromoterAlreadyValidatedShortCircuits(t *testing.T) {
	// Directory errors must not matter once the session is validated.
	dir := &fakeDirectory{err: errors.New("db down")}

	res, err := promoterRun(t, dir, `{}`, &Context{
		From: "573001234567",
		Vars: map[string]string{VarPromoterValidated: "true", VarPromoterID: "c-9"},
	})
	require.NoError(t, err)
	assert.True(t, res.OK)

	var p promoterPayload
	require.NoError(t, json.Unmarshal(res.Payload, &p))
	assert.Equal(t, "c-9", p.PromoterID)
}

func TestPromoterDirectoryErrorPropagates(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("db down")}

	_, err := promoterRun(t, dir, `{}`, &Context{From: "573001234567"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}
