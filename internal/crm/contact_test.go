package crm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyCode(t *testing.T) {
	tests := []struct {
		code string
		want Classification
	}{
		{"PRM", ClassPromoter},
		{"PROM", ClassPromoter},
		{"LID", ClassLeader},
		{"CLI", ClassRetail},
		{"MAY", ClassWholesale},
		{"NVO", ClassProspect},
		{"", ClassUnknown},
		{"ZZZ", ClassUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyCode(tt.code), "code %q", tt.code)
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"+57 300 123-4567", "573001234567"},
		{"573001234567@s.whatsapp.net", "573001234567"},
		{"3001234567", "3001234567"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePhone(tt.raw), "raw %q", tt.raw)
	}
}

func TestPhoneVariantsOrder(t *testing.T) {
	variants := PhoneVariants("+57 300 123 4567")
	require.Equal(t, []string{"573001234567", "+573001234567", "3001234567"}, variants)

	variants = PhoneVariants("3001234567")
	require.Equal(t, []string{"3001234567", "+3001234567", "573001234567"}, variants)

	assert.Nil(t, PhoneVariants("hola"))
}

type stubRepo struct {
	byPhone map[string]*Contact
	calls   []string
	err     error
}

func (s *stubRepo) GetByPhone(ctx context.Context, phone string) (*Contact, error) {
	s.calls = append(s.calls, phone)
	if s.err != nil {
		return nil, s.err
	}
	if c, ok := s.byPhone[phone]; ok {
		return c, nil
	}
	return nil, ErrContactNotFound
}

func (s *stubRepo) GetByDocument(ctx context.Context, document string) (*Contact, error) {
	return nil, ErrContactNotFound
}

func (s *stubRepo) Upsert(ctx context.Context, contact *Contact) error { return nil }

func TestLookupByPhoneTriesVariantsInOrder(t *testing.T) {
	repo := &stubRepo{byPhone: map[string]*Contact{
		"3001234567": {Name: "Marta", Phone: "3001234567"},
	}}

	contact, err := LookupByPhone(context.Background(), repo, "573001234567@s.whatsapp.net")
	require.NoError(t, err)
	assert.Equal(t, "Marta", contact.Name)
	assert.Equal(t, []string{"573001234567", "+573001234567", "3001234567"}, repo.calls)
}

func TestLookupByPhoneNotFound(t *testing.T) {
	repo := &stubRepo{}
	_, err := LookupByPhone(context.Background(), repo, "3001234567")
	assert.ErrorIs(t, err, ErrContactNotFound)
}

func TestLookupByPhonePropagatesUpstreamError(t *testing.T) {
	upstream := errors.New("connection refused")
	repo := &stubRepo{err: upstream}
	_, err := LookupByPhone(context.Background(), repo, "3001234567")
	assert.ErrorIs(t, err, upstream)
}
