package services

import (
	"fmt"
	"strconv"
	"strings"

	"bookline_app_echo/internal/models"
)

// correlationKey is the metadata key carrying the domain record reference
// on a checkout session.
const correlationKey = "correlation_id"

const (
	correlationPrefixAppointment = "apt_"
	correlationPrefixListing     = "lst_"
)

// RecordRef points at one domain record across the two billable tables
type RecordRef struct {
	Kind models.RecordKind
	ID   uint
}

// CorrelationID renders a record reference into the identifier placed in
// session metadata and client_reference_id at session-creation time.
func CorrelationID(ref RecordRef) string {
	prefix := correlationPrefixAppointment
	if ref.Kind == models.RecordKindListing {
		prefix = correlationPrefixListing
	}
	return fmt.Sprintf("%s%d", prefix, ref.ID)
}

// ParseCorrelationID parses an identifier back into a record reference.
// Input is trimmed first; provider round-trips can pick up stray whitespace.
func ParseCorrelationID(raw string) (RecordRef, bool) {
	raw = strings.TrimSpace(raw)

	var kind models.RecordKind
	var rest string
	switch {
	case strings.HasPrefix(raw, correlationPrefixAppointment):
		kind = models.RecordKindAppointment
		rest = strings.TrimPrefix(raw, correlationPrefixAppointment)
	case strings.HasPrefix(raw, correlationPrefixListing):
		kind = models.RecordKindListing
		rest = strings.TrimPrefix(raw, correlationPrefixListing)
	default:
		return RecordRef{}, false
	}

	id, err := strconv.ParseUint(strings.TrimSpace(rest), 10, 32)
	if err != nil || id == 0 {
		return RecordRef{}, false
	}
	return RecordRef{Kind: kind, ID: uint(id)}, true
}
