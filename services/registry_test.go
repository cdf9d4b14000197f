package services

import (
	"errors"
	"testing"

	"github.com/realmankwon/catalist-oracle/types"
)

func newTestRegistry(catalistValidators []*types.CatalistValidator, extraChainValidators []*types.Validator, modules []*types.StakingModule, digests map[types.StakingModuleID][]*types.NodeOperator) (*CatalistValidatorsRegistry, *fakeConsensusClient, *fakeKeysClient) {
	chainValidators := make([]*types.Validator, 0, len(catalistValidators)+len(extraChainValidators))
	keys := make([]*types.CatalistKey, 0, len(catalistValidators))
	for _, v := range catalistValidators {
		validator := v.Validator
		chainValidators = append(chainValidators, &validator)
		key := v.CatalistID
		keys = append(keys, &key)
	}
	chainValidators = append(chainValidators, extraChainValidators...)

	consensus := &fakeConsensusClient{validators: chainValidators}
	keysClient := &fakeKeysClient{keys: keys}
	router := &fakeStakingRouter{modules: modules, digests: digests}
	return NewCatalistValidatorsRegistry(consensus, keysClient, router), consensus, keysClient
}

func TestGetCatalistValidators(t *testing.T) {
	catalist := []*types.CatalistValidator{
		testCatalistValidator(0, 0, 0, types.FarFutureEpoch),
		testCatalistValidator(1, 0, 0, types.FarFutureEpoch),
		testCatalistValidator(2, 1, 0, 100),
	}
	extra := []*types.Validator{
		testValidator(3, 0, types.FarFutureEpoch),
		testValidator(4, 0, types.FarFutureEpoch),
	}
	registry, _, keysClient := newTestRegistry(catalist, extra, nil, nil)

	// A registered key without a chain validator yet (deposited, not visible).
	keysClient.keys = append(keysClient.keys, &types.CatalistKey{
		Key:           "0xdeadbeef",
		OperatorIndex: 0,
		Used:          true,
		ModuleAddress: testModuleAddress,
	})

	got, err := registry.GetCatalistValidators(testBlockstamp(100))
	if err != nil {
		t.Fatalf("GetCatalistValidators: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 merged validators, got %d", len(got))
	}
	for i, v := range got {
		if uint64(v.Index) != uint64(i) {
			t.Errorf("validator %d has index %d", i, v.Index)
		}
		if v.CatalistID.Key != v.Validator.Validator.Pubkey {
			t.Errorf("validator %d merged with wrong key %s", i, v.CatalistID.Key)
		}
	}
}

func TestGetValidatorsByNodeOperators(t *testing.T) {
	modules := []*types.StakingModule{
		testStakingModule(1, testModuleAddress),
		testStakingModule(2, testModule2Address),
	}
	digests := map[types.StakingModuleID][]*types.NodeOperator{
		1: {testNodeOperator(0), testNodeOperator(1)},
		2: {testNodeOperator(0)},
	}
	catalist := []*types.CatalistValidator{
		testCatalistValidator(0, 0, 0, types.FarFutureEpoch),
		testCatalistValidator(1, 0, 0, types.FarFutureEpoch),
		testCatalistValidator(2, 1, 0, types.FarFutureEpoch),
	}
	moduleTwoValidator := testCatalistValidator(3, 0, 0, types.FarFutureEpoch)
	moduleTwoValidator.CatalistID.ModuleAddress = testModule2Address
	catalist = append(catalist, moduleTwoValidator)
	// Key of an operator the router does not know: skipped with a warning.
	orphan := testCatalistValidator(4, 99, 0, types.FarFutureEpoch)
	catalist = append(catalist, orphan)

	registry, _, _ := newTestRegistry(catalist, nil, modules, digests)

	got, err := registry.GetValidatorsByNodeOperators(testBlockstamp(100))
	if err != nil {
		t.Fatalf("GetValidatorsByNodeOperators: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 operator entries, got %d", len(got))
	}

	counts := map[types.NodeOperatorGlobalIndex]int{
		{ModuleID: 1, OperatorID: 0}: 2,
		{ModuleID: 1, OperatorID: 1}: 1,
		{ModuleID: 2, OperatorID: 0}: 1,
	}
	for gi, want := range counts {
		validators, ok := got[gi]
		if !ok {
			t.Fatalf("missing entry for operator %v", gi)
		}
		if len(validators) != want {
			t.Errorf("operator %v has %d validators, want %d", gi, len(validators), want)
		}
	}
}

func TestGetValidatorsByNodeOperatorsSeedsEmptyOperators(t *testing.T) {
	modules := []*types.StakingModule{testStakingModule(1, testModuleAddress)}
	digests := map[types.StakingModuleID][]*types.NodeOperator{
		1: {testNodeOperator(0), testNodeOperator(7)},
	}
	catalist := []*types.CatalistValidator{testCatalistValidator(0, 0, 0, types.FarFutureEpoch)}

	registry, _, _ := newTestRegistry(catalist, nil, modules, digests)

	got, err := registry.GetValidatorsByNodeOperators(testBlockstamp(100))
	if err != nil {
		t.Fatalf("GetValidatorsByNodeOperators: %v", err)
	}
	empty, ok := got[types.NodeOperatorGlobalIndex{ModuleID: 1, OperatorID: 7}]
	if !ok {
		t.Fatal("operator without validators missing from the result")
	}
	if len(empty) != 0 {
		t.Errorf("operator without validators has %d entries", len(empty))
	}
}

func TestGetValidatorsByNodeOperatorsUnknownModule(t *testing.T) {
	modules := []*types.StakingModule{testStakingModule(1, testModuleAddress)}
	digests := map[types.StakingModuleID][]*types.NodeOperator{1: {testNodeOperator(0)}}
	stray := testCatalistValidator(0, 0, 0, types.FarFutureEpoch)
	stray.CatalistID.ModuleAddress = "0x000000000000000000000000000000000000dead"

	registry, _, _ := newTestRegistry([]*types.CatalistValidator{stray}, nil, modules, digests)

	_, err := registry.GetValidatorsByNodeOperators(testBlockstamp(100))
	if !errors.Is(err, ErrInconsistentSnapshot) {
		t.Fatalf("expected ErrInconsistentSnapshot, got %v", err)
	}
}

func TestGetNodeOperatorsAttachesModules(t *testing.T) {
	modules := []*types.StakingModule{
		testStakingModule(1, testModuleAddress),
		testStakingModule(2, testModule2Address),
	}
	digests := map[types.StakingModuleID][]*types.NodeOperator{
		1: {testNodeOperator(0), testNodeOperator(1)},
		2: {testNodeOperator(0)},
	}
	registry, _, _ := newTestRegistry(nil, nil, modules, digests)

	operators, err := registry.GetNodeOperators(testBlockstamp(100))
	if err != nil {
		t.Fatalf("GetNodeOperators: %v", err)
	}
	if len(operators) != 3 {
		t.Fatalf("expected 3 operators, got %d", len(operators))
	}
	for _, operator := range operators {
		if operator.StakingModule == nil {
			t.Fatalf("operator %d has no staking module attached", operator.ID)
		}
	}
	if gi := operators[2].GlobalIndex(); gi != (types.NodeOperatorGlobalIndex{ModuleID: 2, OperatorID: 0}) {
		t.Errorf("unexpected global index %v", gi)
	}
}

func TestRegistryMemoization(t *testing.T) {
	catalist := []*types.CatalistValidator{testCatalistValidator(0, 0, 0, types.FarFutureEpoch)}
	registry, consensus, keysClient := newTestRegistry(catalist, nil, nil, nil)

	bs := testBlockstamp(100)
	for i := 0; i < 3; i++ {
		if _, err := registry.GetCatalistValidators(bs); err != nil {
			t.Fatalf("GetCatalistValidators: %v", err)
		}
	}
	if consensus.calls != 1 || keysClient.calls != 1 {
		t.Errorf("providers called %d/%d times for one block, want 1/1", consensus.calls, keysClient.calls)
	}

	if _, err := registry.GetCatalistValidators(testBlockstamp(132)); err != nil {
		t.Fatalf("GetCatalistValidators: %v", err)
	}
	if consensus.calls != 2 {
		t.Errorf("new reference block did not refetch validators")
	}
}
