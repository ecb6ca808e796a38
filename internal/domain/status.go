package domain

import (
	"fmt"
	"strings"
)

var statusRank = map[SettlementStatus]int{
	StatusNone:                   0,
	StatusTransferToMarketQueued: 1,
	StatusTransferringToMarket:   2,
	StatusTransferredToMarket:    3,
	StatusExchangeQueued:         4,
	StatusExchanged:              5,
	StatusTransferredToMerchant:  6,
}

// settlementTransitions lists the single stage each status may advance to.
var settlementTransitions = map[SettlementStatus]SettlementStatus{
	StatusNone:                   StatusTransferToMarketQueued,
	StatusTransferToMarketQueued: StatusTransferringToMarket,
	StatusTransferringToMarket:   StatusTransferredToMarket,
	StatusTransferredToMarket:    StatusExchangeQueued,
	StatusExchangeQueued:         StatusExchanged,
	StatusExchanged:              StatusTransferredToMerchant,
}

// ParseSettlementStatus normalises a stored status value.
func ParseSettlementStatus(s string) (SettlementStatus, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return StatusNone, nil
	}
	for status := range statusRank {
		if strings.EqualFold(string(status), s) {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown settlement status: %q", s)
}

// Rank returns the position of the status in the pipeline, or -1 if unknown.
func (s SettlementStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// IsTerminal reports whether the pipeline has completed successfully.
func (s SettlementStatus) IsTerminal() bool {
	return s == StatusTransferredToMerchant
}

// HasPassed reports whether s is strictly after stage.
func (s SettlementStatus) HasPassed(stage SettlementStatus) bool {
	return s.Rank() > stage.Rank()
}

// HasReached reports whether s is at or after stage.
func (s SettlementStatus) HasReached(stage SettlementStatus) bool {
	return s.Rank() >= stage.Rank()
}

// CanAdvance reports whether next is the stage directly after s.
func (s SettlementStatus) CanAdvance(next SettlementStatus) bool {
	allowed, ok := settlementTransitions[s]
	return ok && allowed == next
}

// Previous returns the stage that must be observed before next can be set.
func Previous(next SettlementStatus) (SettlementStatus, bool) {
	for from, to := range settlementTransitions {
		if to == next {
			return from, true
		}
	}
	return "", false
}
