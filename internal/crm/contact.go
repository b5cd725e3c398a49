package crm

import (
	"context"
	"errors"
	"time"
)

// Classification buckets every CRM classification code into the closed set the
// policy layer understands.
type Classification string

const (
	ClassUnknown   Classification = "unknown"
	ClassPromoter  Classification = "promoter"
	ClassLeader    Classification = "leader"
	ClassRetail    Classification = "retail"
	ClassWholesale Classification = "wholesale"
	ClassProspect  Classification = "prospect"
)

// classificationCodes is the static lookup table from raw CRM codes to the
// closed enumeration. Codes not present here resolve to ClassUnknown.
var classificationCodes = map[string]Classification{
	"PRM":   ClassPromoter,
	"PROM":  ClassPromoter,
	"LID":   ClassLeader,
	"CLI-M": ClassRetail,
	"CLI":   ClassRetail,
	"MAY":   ClassWholesale,
	"PRO-M": ClassWholesale,
	"NVO":   ClassProspect,
}

// ClassifyCode maps a raw CRM classification code to the closed enumeration.
func ClassifyCode(code string) Classification {
	if c, ok := classificationCodes[code]; ok {
		return c
	}
	return ClassUnknown
}

// Contact is a CRM record keyed by phone.
type Contact struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Phone          string         `json:"phone"`
	Document       string         `json:"document"`
	Code           string         `json:"code"`
	Classification Classification `json:"classification"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ErrContactNotFound indicates no CRM record matched any phone variant.
var ErrContactNotFound = errors.New("crm: contact not found")

// Repository defines the interface for contact lookup and registration.
type Repository interface {
	// GetByPhone returns the contact for an exact phone value.
	GetByPhone(ctx context.Context, phone string) (*Contact, error)
	// GetByDocument returns the contact for an identity-document number.
	GetByDocument(ctx context.Context, document string) (*Contact, error)
	// Upsert creates or refreshes a contact record.
	Upsert(ctx context.Context, contact *Contact) error
}

// LookupByPhone tries each normalization variant of the inbound channel
// identifier, in fixed fallback order, until one matches.
func LookupByPhone(ctx context.Context, repo Repository, raw string) (*Contact, error) {
	var lastErr error = ErrContactNotFound
	for _, variant := range PhoneVariants(raw) {
		contact, err := repo.GetByPhone(ctx, variant)
		if err == nil {
			return contact, nil
		}
		if !errors.Is(err, ErrContactNotFound) {
			lastErr = err
		}
	}
	return nil, lastErr
}
