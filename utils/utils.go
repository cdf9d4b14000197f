package utils

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"github.com/realmankwon/catalist-oracle/types"
)

// ReadConfig will process a configuration
func ReadConfig(cfg *types.Config, path string) error {
	err := readConfigFile(cfg, path)
	if err != nil {
		return err
	}

	return readConfigEnv(cfg)
}

func readConfigFile(cfg *types.Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("error opening config file %v: %v", path, err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	err = decoder.Decode(cfg)
	if err != nil {
		return fmt.Errorf("error decoding config file %v: %v", path, err)
	}

	return nil
}

func readConfigEnv(cfg *types.Config) error {
	return envconfig.Process("", cfg)
}

// EpochOfSlot returns the epoch a slot belongs to
func EpochOfSlot(slot uint64, cc types.ChainConfig) uint64 {
	return slot / cc.SlotsPerEpoch
}

// SlotToTime returns the time of a slot
func SlotToTime(slot uint64, cc types.ChainConfig) time.Time {
	return time.Unix(int64(cc.GenesisTime+slot*cc.SecondsPerSlot), 0)
}

// TimeToSlot returns the slot of a unix timestamp
func TimeToSlot(timestamp uint64, cc types.ChainConfig) uint64 {
	return (timestamp - cc.GenesisTime) / cc.SecondsPerSlot
}

// EpochToTime returns the time of an epoch
func EpochToTime(epoch uint64, cc types.ChainConfig) time.Time {
	return time.Unix(int64(cc.GenesisTime+epoch*cc.SecondsPerSlot*cc.SlotsPerEpoch), 0)
}

// MustParseHex will parse a string into hex
func MustParseHex(hexString string) []byte {
	data, err := hex.DecodeString(strings.Replace(hexString, "0x", "", -1))
	if err != nil {
		log.Fatal(err)
	}
	return data
}
