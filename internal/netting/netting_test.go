package netting

import (
	"testing"

	"github.com/settlekit/settlement-engine/internal/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeBilateralSinglePair(t *testing.T) {
	t.Parallel()
	flows := []Flow{
		{From: "bank_a", To: "bank_b", Amount: money.MustParse("100"), Currency: "USD"},
		{From: "bank_b", To: "bank_a", Amount: money.MustParse("40"), Currency: "USD"},
	}
	result := ComputeBilateral(flows, "USD")

	require.Len(t, result.Pairs, 1)
	pair := result.Pairs[0]
	assert.Equal(t, "100.00000000", pair.AToBGross.String())
	assert.Equal(t, "40.00000000", pair.BToAGross.String())
	assert.Equal(t, "60.00000000", pair.NetAmount.String())
	assert.Equal(t, DirectionAToB, pair.NetDirection)
	assert.Equal(t, 2, pair.TransactionCount)

	require.Len(t, result.Instructions, 1)
	assert.Equal(t, "bank_a", result.Instructions[0].From)
	assert.Equal(t, "bank_b", result.Instructions[0].To)
	assert.Equal(t, "60.00000000", result.Instructions[0].Amount.String())
}

func TestComputeBilateralBalancedPairProducesNoInstruction(t *testing.T) {
	t.Parallel()
	flows := []Flow{
		{From: "bank_a", To: "bank_b", Amount: money.MustParse("50"), Currency: "USD"},
		{From: "bank_b", To: "bank_a", Amount: money.MustParse("50"), Currency: "USD"},
	}
	result := ComputeBilateral(flows, "USD")

	require.Len(t, result.Pairs, 1)
	assert.Equal(t, DirectionBalanced, result.Pairs[0].NetDirection)
	assert.True(t, result.Pairs[0].NetAmount.IsZero())
	assert.Empty(t, result.Instructions)
}

func TestComputeBilateralIgnoresOtherCurrencies(t *testing.T) {
	t.Parallel()
	flows := []Flow{
		{From: "bank_a", To: "bank_b", Amount: money.MustParse("100"), Currency: "USD"},
		{From: "bank_a", To: "bank_b", Amount: money.MustParse("200"), Currency: "EUR"},
	}
	result := ComputeBilateral(flows, "USD")
	require.Len(t, result.Pairs, 1)
	assert.Equal(t, "100.00000000", result.Pairs[0].AToBGross.String())
}

func TestComputeMultilateralTriangularPerfectCancel(t *testing.T) {
	t.Parallel()
	// a owes b 100, b owes c 100, c owes a 100: everyone nets to zero.
	flows := []Flow{
		{From: "a", To: "b", Amount: money.MustParse("100"), Currency: "USD"},
		{From: "b", To: "c", Amount: money.MustParse("100"), Currency: "USD"},
		{From: "c", To: "a", Amount: money.MustParse("100"), Currency: "USD"},
	}
	result := ComputeMultilateral(flows, "USD")

	require.NoError(t, ConservationCheck(result.Positions))
	for _, p := range result.Positions {
		assert.True(t, p.NetPosition.IsZero(), "participant %s should net to zero", p.ParticipantID)
	}
	assert.Empty(t, result.Instructions)
}

func TestComputeMultilateralAsymmetricTriangle(t *testing.T) {
	t.Parallel()
	// a owes b 100, b owes c 60: a is net payer of 100, c is net
	// receiver of 60, b is net receiver of 40 (receives 100, pays 60).
	flows := []Flow{
		{From: "a", To: "b", Amount: money.MustParse("100"), Currency: "USD"},
		{From: "b", To: "c", Amount: money.MustParse("60"), Currency: "USD"},
	}
	result := ComputeMultilateral(flows, "USD")
	require.NoError(t, ConservationCheck(result.Positions))

	byID := map[string]Position{}
	for _, p := range result.Positions {
		byID[p.ParticipantID] = p
	}
	assert.True(t, byID["a"].IsNetPayer())
	assert.Equal(t, "-100.00000000", byID["a"].NetPosition.String())
	assert.True(t, byID["b"].IsNetReceiver())
	assert.Equal(t, "40.00000000", byID["b"].NetPosition.String())
	assert.True(t, byID["c"].IsNetReceiver())
	assert.Equal(t, "60.00000000", byID["c"].NetPosition.String())

	// Largest payer (a, -100) should settle against the largest
	// receiver (c, +60) first, then mop up the remainder against b.
	require.Len(t, result.Instructions, 2)
	assert.Equal(t, "a", result.Instructions[0].From)
	assert.Equal(t, "c", result.Instructions[0].To)
	assert.Equal(t, "60.00000000", result.Instructions[0].Amount.String())
	assert.Equal(t, "a", result.Instructions[1].From)
	assert.Equal(t, "b", result.Instructions[1].To)
	assert.Equal(t, "40.00000000", result.Instructions[1].Amount.String())
}

func TestConservationCheckDetectsViolation(t *testing.T) {
	t.Parallel()
	positions := []Position{
		{ParticipantID: "a", NetPosition: money.MustParse("-100")},
		{ParticipantID: "b", NetPosition: money.MustParse("50")},
	}
	err := ConservationCheck(positions)
	assert.ErrorIs(t, err, ErrConservationViolated)
}

func TestBuildReportEfficiency(t *testing.T) {
	t.Parallel()
	flows := []Flow{
		{From: "a", To: "b", Amount: money.MustParse("100"), Currency: "USD"},
		{From: "b", To: "c", Amount: money.MustParse("100"), Currency: "USD"},
		{From: "c", To: "a", Amount: money.MustParse("100"), Currency: "USD"},
	}
	report := BuildReport("batch_1", flows, "USD")

	assert.Equal(t, "batch_1", report.BatchID)
	assert.Equal(t, 3, report.ParticipantCount)
	assert.Equal(t, "300.00000000", report.GrossVolume.String())
	assert.True(t, report.NetVolume.IsZero())
	assert.Equal(t, "300.00000000", report.ReductionAmount.String())
	assert.Equal(t, "100.00000000", report.Efficiency.String())
}

func TestBuildReportZeroVolumeHasZeroEfficiency(t *testing.T) {
	t.Parallel()
	report := BuildReport("batch_2", nil, "USD")
	assert.True(t, report.Efficiency.IsZero())
	assert.True(t, report.GrossVolume.IsZero())
}
