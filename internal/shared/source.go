package shared

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SourceType names the business document that produced a ledger row.
type SourceType string

const (
	SourceSale     SourceType = "sale"
	SourcePurchase SourceType = "purchase"
	SourceVendor   SourceType = "vendor"
	SourceMovement SourceType = "movement"
	SourceManual   SourceType = "manual"
)

// SourceRef is the explicit foreign key from a ledger row back to its origin.
type SourceRef struct {
	Type SourceType `json:"type"`
	ID   int64      `json:"id"`
}

// Source builds a SourceRef.
func Source(typ SourceType, id int64) SourceRef {
	return SourceRef{Type: typ, ID: id}
}

// IsZero reports whether the reference is unset.
func (s SourceRef) IsZero() bool {
	return s.Type == "" && s.ID == 0
}

func (s SourceRef) String() string {
	if s.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%s:%d", s.Type, s.ID)
}

// Round2 rounds money to two decimals, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// DateOrNow returns t or the current UTC time when t is zero.
func DateOrNow(t time.Time, now func() time.Time) time.Time {
	if !t.IsZero() {
		return t
	}
	if now == nil {
		return time.Now().UTC()
	}
	return now()
}

// NewCode returns a human readable document code such as MOV-1A2B3C4D.
func NewCode(prefix string) string {
	return prefix + "-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}
