package domain

import (
	"github.com/hypermesh-online/caesar-sub000/internal/fixedpoint"
)

// RiskAssessment is the immutable audit record of one analyzed
// transaction, retained in the analytics store.
type RiskAssessment struct {
	Account      string
	Timestamp    int64
	Amount       fixedpoint.Value
	Type         TransactionType
	Counterparty string
	Score        int64
	Breakdown    RiskBreakdown
	Penalty      fixedpoint.Value
	Flags        []Flag
}

// HasFlag reports whether the assessment carries the given flag.
func (a *RiskAssessment) HasFlag(f Flag) bool {
	for _, have := range a.Flags {
		if have == f {
			return true
		}
	}
	return false
}
