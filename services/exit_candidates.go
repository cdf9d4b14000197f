package services

import (
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slices"

	"github.com/realmankwon/catalist-oracle/types"
	"github.com/realmankwon/catalist-oracle/utils"
)

// ExitCandidate is one validator picked for an exit request, together with
// the operator it is charged to.
type ExitCandidate struct {
	GlobalIndex types.NodeOperatorGlobalIndex
	Validator   *types.CatalistValidator
}

// ExitCandidatesService orders the protocol's exitable validators into the
// sequence the next exit-request report should use.
type ExitCandidatesService struct {
	orderState *ExitOrderStateService
	state      *ValidatorStateService
}

func NewExitCandidatesService(orderState *ExitOrderStateService, state *ValidatorStateService) *ExitCandidatesService {
	return &ExitCandidatesService{
		orderState: orderState,
		state:      state,
	}
}

// candidateOperator tracks one operator's remaining exitable validators and
// its live statistic while candidates are being drawn.
type candidateOperator struct {
	gi       types.NodeOperatorGlobalIndex
	stats    *types.NodeOperatorPredictableState
	exitable []*types.CatalistValidator
}

// GetExitCandidates selects up to the sanity-checker limit of validators to
// request exits for at the reference block.
//
// Candidates are drawn one at a time from the operator most in need of
// exits: most delayed validators first, then the largest excess over the
// operator's target limit, then the highest total validator age among
// operators whose share of the network exceeds the penetration threshold,
// then the highest total validator age outright. Within an operator,
// validators leave in ascending index order. Each draw updates the
// operator's statistic, so large operators shed validators gradually rather
// than all at once.
func (s *ExitCandidatesService) GetExitCandidates(bs types.ReferenceBlockStamp) ([]ExitCandidate, error) {
	state, err := s.orderState.NewExitOrderState(bs)
	if err != nil {
		return nil, err
	}
	stats := s.orderState.PrepareNodeOperatorStats(state)
	totalPredictable, err := s.orderState.GetTotalPredictableValidatorsCount(bs, stats)
	if err != nil {
		return nil, err
	}
	threshold, err := s.orderState.GetOperatorNetworkPenetrationThreshold(bs)
	if err != nil {
		return nil, err
	}
	limits, err := s.state.GetOracleReportLimits(bs)
	if err != nil {
		return nil, err
	}

	operators := make([]*candidateOperator, 0, len(state.Operators))
	for _, operator := range state.Operators {
		gi := operator.GlobalIndex()
		lastRequestedIndex := state.LastRequestedToExitIndices[gi]

		exitable := make([]*types.CatalistValidator, 0)
		for _, v := range state.ValidatorsByOperator[gi] {
			if utils.IsOnExit(&v.Validator) || int64(v.Index) <= lastRequestedIndex {
				continue
			}
			exitable = append(exitable, v)
		}
		if len(exitable) == 0 {
			continue
		}

		operators = append(operators, &candidateOperator{gi: gi, stats: stats[gi], exitable: exitable})
	}

	maxRequests := limits.MaxValidatorExitRequestsPerReport
	candidates := make([]ExitCandidate, 0, maxRequests)

	for uint64(len(candidates)) < maxRequests && len(operators) > 0 {
		slices.SortStableFunc(operators, func(a, b *candidateOperator) bool {
			pa := operatorExitPriority(a, totalPredictable, threshold)
			pb := operatorExitPriority(b, totalPredictable, threshold)
			if c := pa.compare(pb); c != 0 {
				return c > 0
			}
			return a.exitable[0].Index < b.exitable[0].Index
		})

		next := operators[0]
		v := next.exitable[0]
		next.exitable = next.exitable[1:]
		candidates = append(candidates, ExitCandidate{GlobalIndex: next.gi, Validator: v})

		age := utils.GetValidatorAge(&v.Validator, bs.RefEpoch)
		next.stats.PredictableValidatorsCount--
		if next.stats.PredictableValidatorsTotalAge > age {
			next.stats.PredictableValidatorsTotalAge -= age
		} else {
			next.stats.PredictableValidatorsTotalAge = 0
		}
		if totalPredictable > 0 {
			totalPredictable--
		}

		if len(next.exitable) == 0 {
			operators = operators[1:]
		}
	}

	logger.Infof("selected %v exit candidates of %v allowed at slot %v", len(candidates), maxRequests, bs.RefSlot)
	s.state.sink.ObserveEvent("exit_candidates_selected")
	return candidates, nil
}

// exitPriority is an operator's need for exits, comparable field by field.
type exitPriority struct {
	delayed        uint64
	targetedExcess uint64
	stakeWeight    uint64
	totalAge       uint64
}

func (p exitPriority) compare(other exitPriority) int {
	for _, pair := range [][2]uint64{
		{p.delayed, other.delayed},
		{p.targetedExcess, other.targetedExcess},
		{p.stakeWeight, other.stakeWeight},
		{p.totalAge, other.totalAge},
	} {
		if pair[0] != pair[1] {
			if pair[0] > pair[1] {
				return 1
			}
			return -1
		}
	}
	return 0
}

func operatorExitPriority(op *candidateOperator, totalPredictable uint64, threshold decimal.Decimal) exitPriority {
	p := exitPriority{
		delayed:  op.stats.DelayedValidatorsCount,
		totalAge: op.stats.PredictableValidatorsTotalAge,
	}

	if op.stats.TargetedValidatorsLimitIsEnabled && op.stats.PredictableValidatorsCount > op.stats.TargetedValidatorsLimitCount {
		p.targetedExcess = op.stats.PredictableValidatorsCount - op.stats.TargetedValidatorsLimitCount
	}

	if totalPredictable > 0 {
		share := decimal.New(int64(op.stats.PredictableValidatorsCount), 0).Div(decimal.New(int64(totalPredictable), 0))
		if share.GreaterThan(threshold) {
			p.stakeWeight = op.stats.PredictableValidatorsTotalAge
		}
	}

	return p
}
