package services

import (
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/realmankwon/catalist-oracle/types"
)

// ValidatorsByNodeOperator maps an operator's global index to its validators,
// ascending by validator index. Operators without validators carry an empty
// slice.
type ValidatorsByNodeOperator map[types.NodeOperatorGlobalIndex][]*types.CatalistValidator

// CatalistValidatorsRegistry merges the chain validator registry with the
// protocol key registry and the staking router into per-operator structures.
// Every derivation is memoized with a single-entry cache per reference block:
// querying a new block evicts the previous block's entry, so each expensive
// read happens at most once per block per process.
type CatalistValidatorsRegistry struct {
	consensus ConsensusClient
	keys      KeysClient
	router    StakingRouter

	validatorsCache    *lru.Cache
	validatorsCacheMux *sync.Mutex
	byOperatorCache    *lru.Cache
	byOperatorCacheMux *sync.Mutex
	operatorsCache     *lru.Cache
	operatorsCacheMux  *sync.Mutex
	modulesCache       *lru.Cache
	modulesCacheMux    *sync.Mutex
}

func NewCatalistValidatorsRegistry(consensus ConsensusClient, keys KeysClient, router StakingRouter) *CatalistValidatorsRegistry {
	r := &CatalistValidatorsRegistry{
		consensus:          consensus,
		keys:               keys,
		router:             router,
		validatorsCacheMux: &sync.Mutex{},
		byOperatorCacheMux: &sync.Mutex{},
		operatorsCacheMux:  &sync.Mutex{},
		modulesCacheMux:    &sync.Mutex{},
	}

	r.validatorsCache, _ = lru.New(1)
	r.byOperatorCache, _ = lru.New(1)
	r.operatorsCache, _ = lru.New(1)
	r.modulesCache, _ = lru.New(1)

	return r
}

// GetCatalistValidators returns the protocol's validators: chain validators
// whose pubkey appears in the used-key registry, in key registry order.
func (r *CatalistValidatorsRegistry) GetCatalistValidators(bs types.ReferenceBlockStamp) ([]*types.CatalistValidator, error) {
	r.validatorsCacheMux.Lock()
	defer r.validatorsCacheMux.Unlock()

	if cached, found := r.validatorsCache.Get(bs.CacheKey()); found {
		return cached.([]*types.CatalistValidator), nil
	}

	keys, err := r.keys.GetUsedKeys(bs)
	if err != nil {
		return nil, fmt.Errorf("error retrieving used keys: %w", err)
	}
	validators, err := r.consensus.GetValidators(bs)
	if err != nil {
		return nil, fmt.Errorf("error retrieving validators: %w", err)
	}

	merged := MergeValidatorsWithKeys(keys, validators)
	logger.Infof("merged %v of %v validators with %v keys at slot %v", len(merged), len(validators), len(keys), bs.RefSlot)

	r.validatorsCache.Add(bs.CacheKey(), merged)
	return merged, nil
}

// MergeValidatorsWithKeys pairs registry keys with chain validators by
// pubkey, dropping validators the protocol does not manage.
func MergeValidatorsWithKeys(keys []*types.CatalistKey, validators []*types.Validator) []*types.CatalistValidator {
	validatorsByPubkey := make(map[string]*types.Validator, len(validators))
	for _, v := range validators {
		validatorsByPubkey[strings.ToLower(v.Validator.Pubkey)] = v
	}

	merged := make([]*types.CatalistValidator, 0, len(keys))
	for _, key := range keys {
		v, ok := validatorsByPubkey[strings.ToLower(key.Key)]
		if !ok {
			continue
		}
		merged = append(merged, &types.CatalistValidator{
			Validator:  *v,
			CatalistID: *key,
		})
	}

	return merged
}

// GetValidatorsByNodeOperators groups the protocol's validators by operator
// global index. Every operator appears in the result even when it has no
// validators. A key owned by an unknown staking module is a fatal consistency
// violation; a key owned by an unknown operator of a known module is logged
// and skipped.
func (r *CatalistValidatorsRegistry) GetValidatorsByNodeOperators(bs types.ReferenceBlockStamp) (ValidatorsByNodeOperator, error) {
	r.byOperatorCacheMux.Lock()
	defer r.byOperatorCacheMux.Unlock()

	if cached, found := r.byOperatorCache.Get(bs.CacheKey()); found {
		return cached.(ValidatorsByNodeOperator), nil
	}

	validators, err := r.GetCatalistValidators(bs)
	if err != nil {
		return nil, err
	}
	operators, err := r.GetNodeOperators(bs)
	if err != nil {
		return nil, err
	}

	byOperator := make(ValidatorsByNodeOperator, len(operators))
	moduleIDByAddress := make(map[string]types.StakingModuleID)
	for _, operator := range operators {
		byOperator[operator.GlobalIndex()] = []*types.CatalistValidator{}
		moduleIDByAddress[strings.ToLower(operator.StakingModule.StakingModuleAddress)] = operator.StakingModule.ID
	}

	for _, v := range validators {
		moduleID, ok := moduleIDByAddress[strings.ToLower(v.CatalistID.ModuleAddress)]
		if !ok {
			return nil, errors.Wrapf(ErrInconsistentSnapshot, "key %s belongs to unknown staking module %s", v.CatalistID.Key, v.CatalistID.ModuleAddress)
		}

		gi := types.NodeOperatorGlobalIndex{
			ModuleID:   moduleID,
			OperatorID: types.NodeOperatorID(v.CatalistID.OperatorIndex),
		}
		if _, ok := byOperator[gi]; !ok {
			logger.Warnf("got operator global index %v which does not exist in the staking router at block %v", gi, bs.BlockNumber)
			continue
		}
		byOperator[gi] = append(byOperator[gi], v)
	}

	r.byOperatorCache.Add(bs.CacheKey(), byOperator)
	return byOperator, nil
}

// GetNodeOperators returns the operator digests of all staking modules, each
// carrying a reference to its owning module.
func (r *CatalistValidatorsRegistry) GetNodeOperators(bs types.ReferenceBlockStamp) ([]*types.NodeOperator, error) {
	r.operatorsCacheMux.Lock()
	defer r.operatorsCacheMux.Unlock()

	if cached, found := r.operatorsCache.Get(bs.CacheKey()); found {
		return cached.([]*types.NodeOperator), nil
	}

	modules, err := r.GetStakingModules(bs)
	if err != nil {
		return nil, err
	}

	operators := make([]*types.NodeOperator, 0)
	for _, module := range modules {
		digests, err := r.router.GetNodeOperatorDigests(bs, module.ID)
		if err != nil {
			return nil, fmt.Errorf("error retrieving node operator digests for module %d: %w", module.ID, err)
		}
		for _, operator := range digests {
			operator.StakingModule = module
			operators = append(operators, operator)
		}
	}

	r.operatorsCache.Add(bs.CacheKey(), operators)
	return operators, nil
}

// GetStakingModules returns the staking router's module list.
func (r *CatalistValidatorsRegistry) GetStakingModules(bs types.ReferenceBlockStamp) ([]*types.StakingModule, error) {
	r.modulesCacheMux.Lock()
	defer r.modulesCacheMux.Unlock()

	if cached, found := r.modulesCache.Get(bs.CacheKey()); found {
		return cached.([]*types.StakingModule), nil
	}

	modules, err := r.router.GetStakingModules(bs)
	if err != nil {
		return nil, fmt.Errorf("error retrieving staking modules: %w", err)
	}
	logger.Infof("fetched %v staking modules", len(modules))

	r.modulesCache.Add(bs.CacheKey(), modules)
	return modules, nil
}
