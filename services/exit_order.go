package services

import (
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slices"

	"github.com/realmankwon/catalist-oracle/types"
	"github.com/realmankwon/catalist-oracle/utils"
)

// ExitOrderState is a per-reference-block snapshot of everything the exit
// candidate selection needs: the operator set, their validators sorted by
// index, and the exit-request bookkeeping.
type ExitOrderState struct {
	Blockstamp                     types.ReferenceBlockStamp
	Operators                      []*types.NodeOperator
	ValidatorsByOperator           ValidatorsByNodeOperator
	LastRequestedToExitIndices     map[types.NodeOperatorGlobalIndex]int64
	RecentlyRequestedToExitIndices map[types.NodeOperatorGlobalIndex]map[uint64]struct{}
}

// ExitOrderStateService assembles ExitOrderState snapshots and the derived
// per-operator statistics that drive exit ordering.
type ExitOrderStateService struct {
	registry     *CatalistValidatorsRegistry
	consensus    ConsensusClient
	state        *ValidatorStateService
	daemonConfig DaemonConfig

	totalPredictableCache    *lru.Cache
	totalPredictableCacheMux *sync.Mutex
	thresholdCache           *lru.Cache
	thresholdCacheMux        *sync.Mutex
}

func NewExitOrderStateService(registry *CatalistValidatorsRegistry, consensus ConsensusClient, state *ValidatorStateService, daemonConfig DaemonConfig) *ExitOrderStateService {
	s := &ExitOrderStateService{
		registry:                 registry,
		consensus:                consensus,
		state:                    state,
		daemonConfig:             daemonConfig,
		totalPredictableCacheMux: &sync.Mutex{},
		thresholdCacheMux:        &sync.Mutex{},
	}

	s.totalPredictableCache, _ = lru.New(1)
	s.thresholdCache, _ = lru.New(1)

	return s
}

// NewExitOrderState fetches one consistent snapshot for the reference block.
// Every operator known to the staking router must have a last-requested exit
// index and a recent-requests entry, otherwise the snapshot is rejected.
func (s *ExitOrderStateService) NewExitOrderState(bs types.ReferenceBlockStamp) (*ExitOrderState, error) {
	operators, err := s.registry.GetNodeOperators(bs)
	if err != nil {
		return nil, err
	}
	validatorsByOperator, err := s.registry.GetValidatorsByNodeOperators(bs)
	if err != nil {
		return nil, err
	}
	lastRequested, err := s.state.GetOperatorsWithLastExitedValidatorIndexes(bs)
	if err != nil {
		return nil, err
	}
	recentlyRequested, err := s.state.GetRecentlyRequestedToExitIndices(bs)
	if err != nil {
		return nil, err
	}

	for _, operator := range operators {
		gi := operator.GlobalIndex()
		if _, ok := lastRequested[gi]; !ok {
			return nil, errors.Wrapf(ErrMissingOperatorData, "no last requested exit index for operator %v", gi)
		}
		if _, ok := recentlyRequested[gi]; !ok {
			return nil, errors.Wrapf(ErrMissingOperatorData, "no recent exit requests entry for operator %v", gi)
		}
	}

	for _, validators := range validatorsByOperator {
		slices.SortFunc(validators, func(a, b *types.CatalistValidator) bool {
			return a.Index < b.Index
		})
	}

	sortedOperators := make([]*types.NodeOperator, len(operators))
	copy(sortedOperators, operators)
	slices.SortFunc(sortedOperators, func(a, b *types.NodeOperator) bool {
		ai, bi := a.GlobalIndex(), b.GlobalIndex()
		if ai.ModuleID != bi.ModuleID {
			return ai.ModuleID < bi.ModuleID
		}
		return ai.OperatorID < bi.OperatorID
	})

	return &ExitOrderState{
		Blockstamp:                     bs,
		Operators:                      sortedOperators,
		ValidatorsByOperator:           validatorsByOperator,
		LastRequestedToExitIndices:     lastRequested,
		RecentlyRequestedToExitIndices: recentlyRequested,
	}, nil
}

// ExitableValidators returns the validators that can still be asked to exit:
// no exit scheduled and never requested. Ordered by operator, then ascending
// validator index.
func (state *ExitOrderState) ExitableValidators() []*types.CatalistValidator {
	exitable := make([]*types.CatalistValidator, 0)
	for _, operator := range state.Operators {
		gi := operator.GlobalIndex()
		lastRequestedIndex := state.LastRequestedToExitIndices[gi]
		for _, v := range state.ValidatorsByOperator[gi] {
			if utils.IsOnExit(&v.Validator) {
				continue
			}
			if int64(v.Index) <= lastRequestedIndex {
				continue
			}
			exitable = append(exitable, v)
		}
	}
	return exitable
}

// PrepareNodeOperatorStats derives the predictable-state statistic for every
// operator in the snapshot.
func (s *ExitOrderStateService) PrepareNodeOperatorStats(state *ExitOrderState) map[types.NodeOperatorGlobalIndex]*types.NodeOperatorPredictableState {
	stats := make(map[types.NodeOperatorGlobalIndex]*types.NodeOperatorPredictableState, len(state.Operators))
	for _, operator := range state.Operators {
		gi := operator.GlobalIndex()
		validators := state.ValidatorsByOperator[gi]
		lastRequestedIndex := state.LastRequestedToExitIndices[gi]

		delayed := CountOperatorDelayedValidators(validators, state.RecentlyRequestedToExitIndices[gi], lastRequestedIndex)
		if delayed > operator.RefundedValidatorsCount {
			delayed -= operator.RefundedValidatorsCount
		} else {
			delayed = 0
		}

		totalAge, count := CountOperatorValidatorsStats(state.Blockstamp.RefEpoch, validators, lastRequestedIndex)

		stats[gi] = &types.NodeOperatorPredictableState{
			PredictableValidatorsTotalAge:    totalAge,
			PredictableValidatorsCount:       count,
			TargetedValidatorsLimitIsEnabled: operator.IsTargetLimitActive,
			TargetedValidatorsLimitCount:     operator.TargetValidatorsCount,
			DelayedValidatorsCount:           delayed,
		}
	}
	return stats
}

// CountOperatorValidatorsStats returns the total age and count of the
// operator's predictable validators: never requested to exit and with no exit
// scheduled. Age is measured in epochs at the reference epoch.
func CountOperatorValidatorsStats(refEpoch uint64, validators []*types.CatalistValidator, lastRequestedToExitIndex int64) (totalAge uint64, count uint64) {
	for _, v := range validators {
		if int64(v.Index) <= lastRequestedToExitIndex {
			continue
		}
		if utils.IsOnExit(&v.Validator) {
			continue
		}
		totalAge += utils.GetValidatorAge(&v.Validator, refEpoch)
		count++
	}
	return totalAge, count
}

// CountOperatorDelayedValidators returns how many of the operator's
// validators were requested to exit, did not schedule one, and were not
// requested again recently.
func CountOperatorDelayedValidators(validators []*types.CatalistValidator, recentlyRequestedIndices map[uint64]struct{}, lastRequestedToExitIndex int64) uint64 {
	var delayed uint64
	for _, v := range validators {
		if int64(v.Index) > lastRequestedToExitIndex {
			continue
		}
		if utils.IsOnExit(&v.Validator) {
			continue
		}
		if _, recent := recentlyRequestedIndices[uint64(v.Index)]; recent {
			continue
		}
		delayed++
	}
	return delayed
}

// GetTotalPredictableValidatorsCount returns the network-wide count of
// validators expected to stay active: all chain validators without a
// scheduled exit, with the protocol's own replaced by the per-operator
// predictable counts.
func (s *ExitOrderStateService) GetTotalPredictableValidatorsCount(bs types.ReferenceBlockStamp, stats map[types.NodeOperatorGlobalIndex]*types.NodeOperatorPredictableState) (uint64, error) {
	s.totalPredictableCacheMux.Lock()
	defer s.totalPredictableCacheMux.Unlock()

	cacheKey := fmt.Sprintf("%s-%s", bs.CacheKey(), canonicalStatsKey(stats))
	if cached, found := s.totalPredictableCache.Get(cacheKey); found {
		return cached.(uint64), nil
	}

	validators, err := s.consensus.GetValidators(bs)
	if err != nil {
		return 0, fmt.Errorf("error retrieving validators: %w", err)
	}
	catalistValidators, err := s.registry.GetCatalistValidators(bs)
	if err != nil {
		return 0, err
	}

	var chainNotOnExit, catalistNotOnExit uint64
	for _, v := range validators {
		if !utils.IsOnExit(v) {
			chainNotOnExit++
		}
	}
	for _, v := range catalistValidators {
		if !utils.IsOnExit(&v.Validator) {
			catalistNotOnExit++
		}
	}

	total := chainNotOnExit - catalistNotOnExit
	for _, operatorStats := range stats {
		total += operatorStats.PredictableValidatorsCount
	}

	s.totalPredictableCache.Add(cacheKey, total)
	return total, nil
}

// canonicalStatsKey encodes the stats map into a deterministic string so it
// can participate in a memoization key.
func canonicalStatsKey(stats map[types.NodeOperatorGlobalIndex]*types.NodeOperatorPredictableState) string {
	keys := make([]types.NodeOperatorGlobalIndex, 0, len(stats))
	for gi := range stats {
		keys = append(keys, gi)
	}
	slices.SortFunc(keys, func(a, b types.NodeOperatorGlobalIndex) bool {
		if a.ModuleID != b.ModuleID {
			return a.ModuleID < b.ModuleID
		}
		return a.OperatorID < b.OperatorID
	})

	parts := make([]string, 0, len(keys))
	for _, gi := range keys {
		parts = append(parts, fmt.Sprintf("%v:%d", gi, stats[gi].PredictableValidatorsCount))
	}
	return strings.Join(parts, ";")
}

// GetOperatorNetworkPenetrationThreshold returns the share of the network a
// single operator may run before exit ordering starts penalizing it. The
// on-chain value is expressed in basis points.
func (s *ExitOrderStateService) GetOperatorNetworkPenetrationThreshold(bs types.ReferenceBlockStamp) (decimal.Decimal, error) {
	s.thresholdCacheMux.Lock()
	defer s.thresholdCacheMux.Unlock()

	if cached, found := s.thresholdCache.Get(bs.CacheKey()); found {
		return cached.(decimal.Decimal), nil
	}

	bp, err := s.daemonConfig.GetUint64(bs, NodeOperatorNetworkPenetrationThresholdBPKey)
	if err != nil {
		return decimal.Zero, fmt.Errorf("error retrieving network penetration threshold: %w", err)
	}

	threshold := decimal.New(int64(bp), -4)
	s.thresholdCache.Add(bs.CacheKey(), threshold)
	return threshold, nil
}
