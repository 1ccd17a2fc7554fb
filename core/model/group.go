package model

import (
	"fmt"
	"time"
)

// GroupKind is the role axis a connection group aggregates on.
type GroupKind string

const (
	GroupCongestionPoint GroupKind = "CONGESTION_POINT"
	GroupBRP             GroupKind = "BRP"
	GroupAggregator      GroupKind = "AGR"
)

// ConnectionGroup is the aggregation key of a document. ID is a domain-style
// identifier such as "ean.871685900012636543" or "brp.example.com".
type ConnectionGroup struct {
	ID          string    `json:"id"`
	Kind        GroupKind `json:"kind"`
	Participant string    `json:"participant"`
}

// Counterparty returns the role of the participant receiving documents
// aggregated on g when this planboard belongs to a participant acting as self.
// Participant always names that counterparty.
func (g ConnectionGroup) Counterparty(self Role) (Role, error) {
	switch self {
	case RoleAGR:
		switch g.Kind {
		case GroupCongestionPoint:
			return RoleDSO, nil
		case GroupBRP:
			return RoleBRP, nil
		}
	case RoleDSO:
		switch g.Kind {
		case GroupCongestionPoint, GroupAggregator:
			return RoleAGR, nil
		}
	case RoleBRP:
		switch g.Kind {
		case GroupBRP, GroupAggregator:
			return RoleAGR, nil
		}
	}
	return "", fmt.Errorf("%w: group %s of kind %q has no counterparty for %s", ErrConfiguration, g.ID, g.Kind, self)
}

// GroupState binds one end-customer connection to a group for a validity
// interval [ValidFrom, ValidUntil). A zero ValidUntil is open-ended.
type GroupState struct {
	Connection string          `json:"connection"`
	Group      ConnectionGroup `json:"group"`
	ValidFrom  time.Time       `json:"valid_from"`
	ValidUntil time.Time       `json:"valid_until,omitempty"`
}

// ValidOn reports whether the state covers the given day.
func (s GroupState) ValidOn(day time.Time) bool {
	if day.Before(s.ValidFrom) {
		return false
	}
	return s.ValidUntil.IsZero() || day.Before(s.ValidUntil)
}
