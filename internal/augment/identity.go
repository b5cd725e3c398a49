package augment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vendalia/catalog-ai-platform/internal/crm"
	"github.com/vendalia/catalog-ai-platform/pkg/logging"
)

// BusinessLine is one outbound number the business answers on, with the
// profile text the model needs to speak for that line.
type BusinessLine struct {
	// Suffix is the trailing digits of the line's normalized number.
	Suffix  string
	Name    string
	Profile string
}

// DefaultBusinessLines is the static line table for single-line deployments.
var DefaultBusinessLines = []BusinessLine{
	{Suffix: "", Name: "Ventas por catálogo", Profile: "Línea principal de ventas por catálogo."},
}

// ResolveBusinessLine picks the line whose suffix is the longest match against
// the normalized destination number. An empty-suffix entry acts as catch-all.
func ResolveBusinessLine(lines []BusinessLine, to string) *BusinessLine {
	digits := crm.NormalizePhone(to)
	var best *BusinessLine
	bestLen := -1
	for i := range lines {
		line := &lines[i]
		if !strings.HasSuffix(digits, line.Suffix) {
			continue
		}
		if len(line.Suffix) > bestLen {
			best = line
			bestLen = len(line.Suffix)
		}
	}
	return best
}

// ContactLookup is the CRM slice the identity stage needs.
type ContactLookup interface {
	GetByPhone(ctx context.Context, phone string) (*crm.Contact, error)
}

// NameLookup resolves a cached display name when the live CRM is unreachable.
type NameLookup interface {
	Lookup(ctx context.Context, phone string) string
}

// IdentityStage resolves who is writing and which business line they reached.
type IdentityStage struct {
	lines    []BusinessLine
	contacts ContactLookup
	names    NameLookup
	logger   *logging.Logger
}

// NewIdentityStage builds the identity resolution stage. contacts and names
// may be nil; the stage degrades to business-line context only.
func NewIdentityStage(lines []BusinessLine, contacts ContactLookup, names NameLookup, logger *logging.Logger) *IdentityStage {
	if len(lines) == 0 {
		lines = DefaultBusinessLines
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &IdentityStage{lines: lines, contacts: contacts, names: names, logger: logger}
}

// Run resolves the contact and renders the identity fragment. A failed CRM
// lookup falls back to the cached display name; nothing here is fatal.
func (s *IdentityStage) Run(ctx context.Context, from, to string) (string, *crm.Contact) {
	var b strings.Builder

	if line := ResolveBusinessLine(s.lines, to); line != nil {
		fmt.Fprintf(&b, "Línea de atención: %s. %s\n", line.Name, line.Profile)
	}

	contact := s.lookupContact(ctx, from)
	switch {
	case contact != nil:
		fmt.Fprintf(&b, "Cliente: %s (clasificación: %s).", displayName(contact.Name), contact.Classification)
	case s.names != nil:
		if name := s.names.Lookup(ctx, from); name != "" {
			fmt.Fprintf(&b, "Cliente: %s (sin registro CRM disponible).", name)
		}
	}

	return strings.TrimSpace(b.String()), contact
}

func (s *IdentityStage) lookupContact(ctx context.Context, from string) *crm.Contact {
	if s.contacts == nil {
		return nil
	}
	var lastErr error = crm.ErrContactNotFound
	for _, variant := range crm.PhoneVariants(from) {
		contact, err := s.contacts.GetByPhone(ctx, variant)
		if err == nil {
			return contact
		}
		if !errors.Is(err, crm.ErrContactNotFound) {
			lastErr = err
		}
	}
	if !errors.Is(lastErr, crm.ErrContactNotFound) {
		s.logger.Warn("crm lookup degraded", "from", from, "error", lastErr)
	}
	return nil
}

func displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "sin nombre registrado"
	}
	return name
}
