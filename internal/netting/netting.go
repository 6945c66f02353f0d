// Package netting computes bilateral and multilateral net positions
// across a batch of settled transactions and plans the minimal set of
// settlement instructions that realize them. Every function here is
// pure over its inputs — no I/O, no clock reads — so the planner is
// exhaustively table-testable.
package netting

import (
	"errors"
	"sort"

	"github.com/settlekit/settlement-engine/internal/money"
)

// ErrConservationViolated means the sum of every participant's net
// position was not zero, which can only happen if the input
// transaction set itself is inconsistent (an entry with no matching
// counter-entry).
var ErrConservationViolated = errors.New("netting: net positions do not sum to zero")

// Direction describes which side of a bilateral pair owes the other.
type Direction string

const (
	DirectionAToB    Direction = "a_to_b"
	DirectionBToA    Direction = "b_to_a"
	DirectionBalanced Direction = "balanced"
)

// Flow is one settled movement of funds between two participants,
// the unit bilateral/multilateral netting consume.
type Flow struct {
	From     string
	To       string
	Amount   money.Amount
	Currency string
}

// bilateralPair accumulates the gross flow between two participants
// in both directions, canonically ordered so (a, b) and (b, a) land
// in the same pair.
type bilateralPair struct {
	ParticipantA     string
	ParticipantB     string
	Currency         string
	AToBGross        money.Amount
	BToAGross        money.Amount
	NetAmount        money.Amount
	NetDirection     Direction
	TransactionCount int
}

func (p *bilateralPair) recalculate() {
	diff := p.AToBGross.Sub(p.BToAGross)
	switch {
	case diff.IsPositive():
		p.NetAmount = diff
		p.NetDirection = DirectionAToB
	case diff.IsNegative():
		p.NetAmount = diff.Neg()
		p.NetDirection = DirectionBToA
	default:
		p.NetAmount = money.Zero
		p.NetDirection = DirectionBalanced
	}
}

func (p *bilateralPair) grossVolume() money.Amount {
	return p.AToBGross.Add(p.BToAGross)
}

func (p *bilateralPair) nettingBenefit() money.Amount {
	return p.grossVolume().Sub(p.NetAmount)
}

// normalizePairKey canonically orders two participant IDs so the same
// unordered pair always maps to the same map key, and reports whether
// (from, to) is already in a-to-b order under that canonicalization.
func normalizePairKey(from, to string) (a, b string, isAToB bool) {
	if from < to {
		return from, to, true
	}
	return to, from, false
}

// BilateralResult is the outcome of ComputeBilateral for one currency.
type BilateralResult struct {
	Currency         string
	Pairs            []BilateralPair
	TotalGrossVolume money.Amount
	TotalNetVolume   money.Amount
	Instructions     []Instruction
}

// BilateralPair is the public, read-only view of a netted pair.
type BilateralPair struct {
	ParticipantA     string
	ParticipantB     string
	Currency         string
	AToBGross        money.Amount
	BToAGross        money.Amount
	NetAmount        money.Amount
	NetDirection     Direction
	TransactionCount int
}

// ComputeBilateral folds every flow in currency into per-pair gross
// and net positions, then derives the instruction list.
func ComputeBilateral(flows []Flow, currency string) BilateralResult {
	pairs := map[string]*bilateralPair{}
	order := []string{}

	for _, f := range flows {
		if f.Currency != currency {
			continue
		}
		a, b, isAToB := normalizePairKey(f.From, f.To)
		key := a + "|" + b
		p, ok := pairs[key]
		if !ok {
			p = &bilateralPair{ParticipantA: a, ParticipantB: b, Currency: currency, AToBGross: money.Zero, BToAGross: money.Zero}
			pairs[key] = p
			order = append(order, key)
		}
		if isAToB {
			p.AToBGross = p.AToBGross.Add(f.Amount)
		} else {
			p.BToAGross = p.BToAGross.Add(f.Amount)
		}
		p.TransactionCount++
		p.recalculate()
	}

	result := BilateralResult{Currency: currency, TotalGrossVolume: money.Zero, TotalNetVolume: money.Zero}
	for _, key := range order {
		p := pairs[key]
		result.Pairs = append(result.Pairs, BilateralPair{
			ParticipantA: p.ParticipantA, ParticipantB: p.ParticipantB, Currency: p.Currency,
			AToBGross: p.AToBGross, BToAGross: p.BToAGross, NetAmount: p.NetAmount,
			NetDirection: p.NetDirection, TransactionCount: p.TransactionCount,
		})
		result.TotalGrossVolume = result.TotalGrossVolume.Add(p.grossVolume())
		result.TotalNetVolume = result.TotalNetVolume.Add(p.NetAmount)
		if p.NetDirection == DirectionBalanced || !p.NetAmount.IsPositive() {
			continue
		}
		from, to := p.ParticipantA, p.ParticipantB
		if p.NetDirection == DirectionBToA {
			from, to = p.ParticipantB, p.ParticipantA
		}
		result.Instructions = append(result.Instructions, Instruction{
			From: from, To: to, Amount: p.NetAmount, Currency: currency, Type: InstructionBilateralNet,
		})
	}
	return result
}

// Position is one participant's net standing within a batch/currency.
type Position struct {
	ParticipantID    string
	Currency         string
	GrossReceivable  money.Amount
	GrossPayable     money.Amount
	NetPosition      money.Amount // receivable - payable; positive = net receiver
	TransactionCount int
}

func (p Position) IsNetPayer() bool    { return p.NetPosition.IsNegative() }
func (p Position) IsNetReceiver() bool { return p.NetPosition.IsPositive() }

// MultilateralResult is the outcome of ComputeMultilateral.
type MultilateralResult struct {
	Currency         string
	Positions        []Position
	TotalGrossVolume money.Amount
	TotalNetVolume   money.Amount
	Instructions     []Instruction
}

// ComputeMultilateral folds every flow into a per-participant net
// position, then plans settlement instructions across all of them.
func ComputeMultilateral(flows []Flow, currency string) MultilateralResult {
	positions := map[string]*Position{}
	order := []string{}

	get := func(id string) *Position {
		p, ok := positions[id]
		if !ok {
			p = &Position{ParticipantID: id, Currency: currency, GrossReceivable: money.Zero, GrossPayable: money.Zero, NetPosition: money.Zero}
			positions[id] = p
			order = append(order, id)
		}
		return p
	}

	grossVolume := money.Zero
	for _, f := range flows {
		if f.Currency != currency {
			continue
		}
		grossVolume = grossVolume.Add(f.Amount)
		payer := get(f.From)
		payer.GrossPayable = payer.GrossPayable.Add(f.Amount)
		payer.NetPosition = payer.NetPosition.Sub(f.Amount)
		payer.TransactionCount++

		receiver := get(f.To)
		receiver.GrossReceivable = receiver.GrossReceivable.Add(f.Amount)
		receiver.NetPosition = receiver.NetPosition.Add(f.Amount)
		receiver.TransactionCount++
	}

	result := MultilateralResult{Currency: currency, TotalGrossVolume: grossVolume, TotalNetVolume: money.Zero}
	for _, id := range order {
		p := *positions[id]
		result.Positions = append(result.Positions, p)
	}
	result.Instructions = PlanInstructions(result.Positions, currency)
	for _, ins := range result.Instructions {
		result.TotalNetVolume = result.TotalNetVolume.Add(ins.Amount)
	}
	return result
}

// InstructionType distinguishes which netting pass produced an
// Instruction.
type InstructionType string

const (
	InstructionBilateralNet    InstructionType = "bilateral_net"
	InstructionMultilateralNet InstructionType = "multilateral_net"
)

// InstructionStatus is an instruction's execution state.
type InstructionStatus string

const (
	InstructionPending  InstructionStatus = "pending"
	InstructionExecuted InstructionStatus = "executed"
	InstructionFailed   InstructionStatus = "failed"
)

// Instruction is a single planned payment realizing part of a net
// settlement.
type Instruction struct {
	From     string
	To       string
	Amount   money.Amount
	Currency string
	Type     InstructionType
	Status   InstructionStatus
}

// PlanInstructions greedily matches net payers against net receivers:
// sort payers ascending by net position (most negative, i.e. largest
// debt, first), receivers descending by net position (largest credit
// first), then repeatedly transfer min(payer remaining, receiver
// remaining) until every payer's obligation is exhausted. Ties break
// on participant ID for determinism.
func PlanInstructions(positions []Position, currency string) []Instruction {
	var payers, receivers []Position
	for _, p := range positions {
		switch {
		case p.IsNetPayer():
			payers = append(payers, p)
		case p.IsNetReceiver():
			receivers = append(receivers, p)
		}
	}

	sort.SliceStable(payers, func(i, j int) bool {
		if payers[i].NetPosition.Cmp(payers[j].NetPosition) != 0 {
			return payers[i].NetPosition.Cmp(payers[j].NetPosition) < 0
		}
		return payers[i].ParticipantID < payers[j].ParticipantID
	})
	sort.SliceStable(receivers, func(i, j int) bool {
		if receivers[i].NetPosition.Cmp(receivers[j].NetPosition) != 0 {
			return receivers[i].NetPosition.Cmp(receivers[j].NetPosition) > 0
		}
		return receivers[i].ParticipantID < receivers[j].ParticipantID
	})

	payerRemaining := make([]money.Amount, len(payers))
	for i, p := range payers {
		payerRemaining[i] = p.NetPosition.Abs()
	}
	receiverRemaining := make([]money.Amount, len(receivers))
	for i, r := range receivers {
		receiverRemaining[i] = r.NetPosition
	}

	var instructions []Instruction
	for i := range payers {
		for payerRemaining[i].IsPositive() {
			j := -1
			for k := range receivers {
				if receiverRemaining[k].IsPositive() {
					j = k
					break
				}
			}
			if j == -1 {
				break
			}
			transfer := payerRemaining[i]
			if receiverRemaining[j].Cmp(transfer) < 0 {
				transfer = receiverRemaining[j]
			}
			if transfer.IsPositive() {
				instructions = append(instructions, Instruction{
					From: payers[i].ParticipantID, To: receivers[j].ParticipantID,
					Amount: transfer, Currency: currency, Type: InstructionMultilateralNet, Status: InstructionPending,
				})
				payerRemaining[i] = payerRemaining[i].Sub(transfer)
				receiverRemaining[j] = receiverRemaining[j].Sub(transfer)
			} else {
				break
			}
		}
	}
	return instructions
}

// ConservationCheck verifies Σ net_position == 0 across positions, the
// invariant that makes netting a zero-sum reshuffling rather than a
// silent creation or destruction of value.
func ConservationCheck(positions []Position) error {
	sum := money.Zero
	for _, p := range positions {
		sum = sum.Add(p.NetPosition)
	}
	if !sum.IsZero() {
		return ErrConservationViolated
	}
	return nil
}

// Report combines a bilateral and a multilateral pass over the same
// flow set into the figures a settlement summary needs.
type Report struct {
	BatchID           string
	Currency          string
	ParticipantCount  int
	GrossVolume       money.Amount
	NetVolume         money.Amount
	ReductionAmount   money.Amount
	Efficiency        money.Amount // percentage, 0-100
	BilateralPairs    []BilateralPair
	Instructions      []Instruction
}

// BuildReport runs both passes and assembles the combined figures.
// Efficiency and ReductionAmount are derived from the multilateral
// pass, since it (not the bilateral pass) is what the settlement
// instructions actually execute against.
func BuildReport(batchID string, flows []Flow, currency string) Report {
	bilateral := ComputeBilateral(flows, currency)
	multilateral := ComputeMultilateral(flows, currency)

	reduction := multilateral.TotalGrossVolume.Sub(multilateral.TotalNetVolume)
	efficiency := money.Zero
	if multilateral.TotalGrossVolume.IsPositive() {
		ratio := reduction.DecimalRatio(multilateral.TotalGrossVolume)
		efficiency = money.FromDecimal(ratio.Mul(money.MustParse("100").Decimal()))
	}

	return Report{
		BatchID:          batchID,
		Currency:         currency,
		ParticipantCount: len(multilateral.Positions),
		GrossVolume:      multilateral.TotalGrossVolume,
		NetVolume:        multilateral.TotalNetVolume,
		ReductionAmount:  reduction,
		Efficiency:       efficiency,
		BilateralPairs:   bilateral.Pairs,
		Instructions:     multilateral.Instructions,
	}
}
