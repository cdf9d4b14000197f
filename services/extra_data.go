package services

import (
	"encoding/binary"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/exp/slices"

	"github.com/realmankwon/catalist-oracle/types"
)

// Extra data item types, fixed by the accounting oracle contract.
const (
	ExtraDataItemTypeStuckValidators  uint64 = 1
	ExtraDataItemTypeExitedValidators uint64 = 2
)

// Extra data list formats.
const (
	ExtraDataFormatEmpty    uint64 = 0
	ExtraDataFormatNonEmpty uint64 = 1
)

// Widths of the fixed big-endian fields in the extra data byte layout.
const (
	extraDataIndexWidth        = 3
	extraDataTypeWidth         = 2
	extraDataModuleIDWidth     = 3
	extraDataNodeOpsCountWidth = 8
	extraDataOperatorIDWidth   = 8
	extraDataValsCountWidth    = 16
)

// ExtraData is the encoded extra data list submitted alongside a report.
type ExtraData struct {
	ExtraData  []byte
	DataHash   common.Hash
	Format     uint64
	ItemsCount uint64
}

// extraDataPayload is one item's body: a run of operators of a single module
// with their new validator counts.
type extraDataPayload struct {
	moduleID    types.StakingModuleID
	operatorIDs []types.NodeOperatorID
	valsCounts  []uint64
}

// ExtraDataService turns per-operator count updates into the extra data
// format the accounting oracle contract verifies against its hash.
type ExtraDataService struct {
	state *ValidatorStateService

	collectCache    *lru.Cache
	collectCacheMux *sync.Mutex
}

func NewExtraDataService(state *ValidatorStateService) *ExtraDataService {
	s := &ExtraDataService{state: state, collectCacheMux: &sync.Mutex{}}
	s.collectCache, _ = lru.New(1)
	return s
}

// CollectForReport gathers the newly stuck and newly exited counts at the
// reference block and encodes them within the sanity-checker limits.
func (s *ExtraDataService) CollectForReport(bs types.ReferenceBlockStamp) (*ExtraData, error) {
	s.collectCacheMux.Lock()
	defer s.collectCacheMux.Unlock()

	if cached, found := s.collectCache.Get(bs.CacheKey()); found {
		return cached.(*ExtraData), nil
	}

	stuck, err := s.state.GetNewlyStuckValidators(bs)
	if err != nil {
		return nil, err
	}
	exited, err := s.state.GetNewlyExitedValidators(bs)
	if err != nil {
		return nil, err
	}
	limits, err := s.state.GetOracleReportLimits(bs)
	if err != nil {
		return nil, err
	}

	extraData := Collect(stuck, exited, limits.MaxAccountingExtraDataListItemsCount, limits.MaxNodeOperatorsPerExtraDataItemCount)
	s.state.sink.ObserveEvent("extra_data_collected")
	s.collectCache.Add(bs.CacheKey(), extraData)
	return extraData, nil
}

// Collect encodes the stuck and exited count updates into the extra data
// list. Stuck items come first. Within a type, operators are ordered by
// module then operator id and grouped into one item per module, keeping at
// most maxNodeOperatorsPerItem operators per item. The list is truncated at
// maxItemsCount items. What does not fit is carried by a later report, once
// the on-chain counters have caught up.
func Collect(stuckValidators, exitedValidators map[types.NodeOperatorGlobalIndex]uint64, maxItemsCount, maxNodeOperatorsPerItem uint64) *ExtraData {
	payloads := make([][]extraDataPayload, 0, 2)
	itemTypes := make([]uint64, 0, 2)
	for _, group := range []struct {
		itemType uint64
		counts   map[types.NodeOperatorGlobalIndex]uint64
	}{
		{ExtraDataItemTypeStuckValidators, stuckValidators},
		{ExtraDataItemTypeExitedValidators, exitedValidators},
	} {
		payloads = append(payloads, buildValidatorsPayloads(group.counts, maxNodeOperatorsPerItem))
		itemTypes = append(itemTypes, group.itemType)
	}

	extraData := make([]byte, 0)
	var itemsCount uint64

building:
	for i, typePayloads := range payloads {
		for _, payload := range typePayloads {
			if itemsCount == maxItemsCount {
				break building
			}
			extraData = append(extraData, encodeExtraDataItem(itemsCount, itemTypes[i], payload)...)
			itemsCount++
		}
	}

	if itemsCount == 0 {
		return &ExtraData{
			ExtraData:  extraData,
			DataHash:   common.Hash{},
			Format:     ExtraDataFormatEmpty,
			ItemsCount: 0,
		}
	}
	return &ExtraData{
		ExtraData:  extraData,
		DataHash:   crypto.Keccak256Hash(extraData),
		Format:     ExtraDataFormatNonEmpty,
		ItemsCount: itemsCount,
	}
}

func buildValidatorsPayloads(counts map[types.NodeOperatorGlobalIndex]uint64, maxNodeOperatorsPerItem uint64) []extraDataPayload {
	keys := make([]types.NodeOperatorGlobalIndex, 0, len(counts))
	for gi := range counts {
		keys = append(keys, gi)
	}
	slices.SortFunc(keys, func(a, b types.NodeOperatorGlobalIndex) bool {
		if a.ModuleID != b.ModuleID {
			return a.ModuleID < b.ModuleID
		}
		return a.OperatorID < b.OperatorID
	})

	payloads := make([]extraDataPayload, 0)
	for _, gi := range keys {
		last := len(payloads) - 1
		if last < 0 || payloads[last].moduleID != gi.ModuleID {
			payloads = append(payloads, extraDataPayload{moduleID: gi.ModuleID})
			last++
		}
		if uint64(len(payloads[last].operatorIDs)) == maxNodeOperatorsPerItem {
			// The remainder of the module's operators waits for a later report.
			continue
		}
		payloads[last].operatorIDs = append(payloads[last].operatorIDs, gi.OperatorID)
		payloads[last].valsCounts = append(payloads[last].valsCounts, counts[gi])
	}
	return payloads
}

func encodeExtraDataItem(itemIndex, itemType uint64, payload extraDataPayload) []byte {
	item := make([]byte, 0, extraDataIndexWidth+extraDataTypeWidth+extraDataModuleIDWidth+extraDataNodeOpsCountWidth+
		len(payload.operatorIDs)*(extraDataOperatorIDWidth+extraDataValsCountWidth))

	item = appendBigEndian(item, itemIndex, extraDataIndexWidth)
	item = appendBigEndian(item, itemType, extraDataTypeWidth)
	item = appendBigEndian(item, uint64(payload.moduleID), extraDataModuleIDWidth)
	item = appendBigEndian(item, uint64(len(payload.operatorIDs)), extraDataNodeOpsCountWidth)
	for _, operatorID := range payload.operatorIDs {
		item = appendBigEndian(item, uint64(operatorID), extraDataOperatorIDWidth)
	}
	for _, count := range payload.valsCounts {
		item = appendBigEndian(item, count, extraDataValsCountWidth)
	}
	return item
}

// appendBigEndian appends value as a width-byte big-endian integer,
// zero-padded on the left when width exceeds eight bytes.
func appendBigEndian(dst []byte, value uint64, width int) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], value)
	if width <= 8 {
		return append(dst, buf[8-width:]...)
	}
	dst = append(dst, make([]byte, width-8)...)
	return append(dst, buf[:]...)
}
