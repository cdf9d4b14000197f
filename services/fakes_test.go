package services

import (
	"fmt"

	"github.com/realmankwon/catalist-oracle/types"
)

const (
	testModuleAddress  = "0x55032650b14df07b85bf18a3a3ec8e0af2e028d5"
	testModule2Address = "0xae7b191a31f627b4eb1d4dac64eab9976995b433"
)

var testChainConfig = types.ChainConfig{
	SlotsPerEpoch:  32,
	SecondsPerSlot: 12,
	GenesisTime:    1606824023,
}

func testBlockstamp(refSlot uint64) types.ReferenceBlockStamp {
	return types.ReferenceBlockStamp{
		BlockStamp: types.BlockStamp{
			StateRoot:      fmt.Sprintf("0xstate%d", refSlot),
			SlotNumber:     refSlot,
			BlockHash:      fmt.Sprintf("0xblock%d", refSlot),
			BlockNumber:    refSlot,
			BlockTimestamp: testChainConfig.GenesisTime + refSlot*testChainConfig.SecondsPerSlot,
		},
		RefSlot:  refSlot,
		RefEpoch: refSlot / testChainConfig.SlotsPerEpoch,
	}
}

func testValidator(index, activationEpoch, exitEpoch uint64) *types.Validator {
	return &types.Validator{
		Index:   types.Uint64Str(index),
		Balance: 32_000_000_000,
		Status:  types.ValidatorStatusActiveOngoing,
		Validator: types.ValidatorState{
			Pubkey:           fmt.Sprintf("0x%096x", index),
			EffectiveBalance: 32_000_000_000,
			ActivationEpoch:  types.Uint64Str(activationEpoch),
			ExitEpoch:        types.Uint64Str(exitEpoch),
			WithdrawableEpoch: func() types.Uint64Str {
				if exitEpoch == types.FarFutureEpoch {
					return types.Uint64Str(types.FarFutureEpoch)
				}
				return types.Uint64Str(exitEpoch + 256)
			}(),
		},
	}
}

func testCatalistValidator(index, operatorID, activationEpoch, exitEpoch uint64) *types.CatalistValidator {
	v := testValidator(index, activationEpoch, exitEpoch)
	return &types.CatalistValidator{
		Validator: *v,
		CatalistID: types.CatalistKey{
			Key:           v.Validator.Pubkey,
			OperatorIndex: operatorID,
			Used:          true,
			ModuleAddress: testModuleAddress,
		},
	}
}

func testStakingModule(id types.StakingModuleID, address string) *types.StakingModule {
	return &types.StakingModule{
		ID:                   id,
		StakingModuleAddress: address,
		Name:                 fmt.Sprintf("module-%d", id),
	}
}

func testNodeOperator(id types.NodeOperatorID) *types.NodeOperator {
	return &types.NodeOperator{ID: id, IsActive: true}
}

type fakeConsensusClient struct {
	validators []*types.Validator
	calls      int
}

func (c *fakeConsensusClient) GetValidators(bs types.ReferenceBlockStamp) ([]*types.Validator, error) {
	c.calls++
	return c.validators, nil
}

type fakeKeysClient struct {
	keys  []*types.CatalistKey
	calls int
}

func (c *fakeKeysClient) GetUsedKeys(bs types.ReferenceBlockStamp) ([]*types.CatalistKey, error) {
	c.calls++
	return c.keys, nil
}

type fakeStakingRouter struct {
	modules []*types.StakingModule
	digests map[types.StakingModuleID][]*types.NodeOperator
	calls   int
}

func (r *fakeStakingRouter) GetStakingModules(bs types.ReferenceBlockStamp) ([]*types.StakingModule, error) {
	r.calls++
	return r.modules, nil
}

func (r *fakeStakingRouter) GetNodeOperatorDigests(bs types.ReferenceBlockStamp, moduleID types.StakingModuleID) ([]*types.NodeOperator, error) {
	return r.digests[moduleID], nil
}

type fakeExitBus struct {
	lastRequested map[types.NodeOperatorGlobalIndex]int64
	events        []*types.ExitRequest
	eventWindows  []uint64
}

func (b *fakeExitBus) GetLastRequestedValidatorIndices(bs types.ReferenceBlockStamp, moduleID types.StakingModuleID, operatorIDs []types.NodeOperatorID) ([]int64, error) {
	indices := make([]int64, len(operatorIDs))
	for i, operatorID := range operatorIDs {
		gi := types.NodeOperatorGlobalIndex{ModuleID: moduleID, OperatorID: operatorID}
		if index, ok := b.lastRequested[gi]; ok {
			indices[i] = index
		} else {
			indices[i] = -1
		}
	}
	return indices, nil
}

func (b *fakeExitBus) GetExitRequestEvents(bs types.ReferenceBlockStamp, forSlots uint64, secondsPerSlot uint64) ([]*types.ExitRequest, error) {
	b.eventWindows = append(b.eventWindows, forSlots)
	return b.events, nil
}

type fakeDaemonConfig struct {
	values map[string]uint64
	calls  int
}

func (c *fakeDaemonConfig) GetUint64(bs types.ReferenceBlockStamp, key string) (uint64, error) {
	c.calls++
	value, ok := c.values[key]
	if !ok {
		return 0, fmt.Errorf("unknown daemon config key %s", key)
	}
	return value, nil
}

type fakeSanityChecker struct {
	limits types.OracleReportLimits
}

func (c *fakeSanityChecker) GetOracleReportLimits(bs types.ReferenceBlockStamp) (*types.OracleReportLimits, error) {
	limits := c.limits
	return &limits, nil
}

type fakeSink struct {
	stuck       map[types.NodeOperatorGlobalIndex]uint64
	exited      map[types.NodeOperatorGlobalIndex]uint64
	delayed     map[types.NodeOperatorGlobalIndex]uint64
	events      map[string]int
	stuckSets   int
	exitedSets  int
	delayedSets int
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		stuck:   map[types.NodeOperatorGlobalIndex]uint64{},
		exited:  map[types.NodeOperatorGlobalIndex]uint64{},
		delayed: map[types.NodeOperatorGlobalIndex]uint64{},
		events:  map[string]int{},
	}
}

func (s *fakeSink) SetStuckValidators(gi types.NodeOperatorGlobalIndex, count uint64) {
	s.stuck[gi] = count
	s.stuckSets++
}

func (s *fakeSink) SetExitedValidators(gi types.NodeOperatorGlobalIndex, count uint64) {
	s.exited[gi] = count
	s.exitedSets++
}

func (s *fakeSink) SetDelayedValidators(gi types.NodeOperatorGlobalIndex, count uint64) {
	s.delayed[gi] = count
	s.delayedSets++
}

func (s *fakeSink) ObserveEvent(event string) {
	s.events[event]++
}
