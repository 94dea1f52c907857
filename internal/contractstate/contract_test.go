package contractstate

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func addrC(b byte) types.Address {
	var a types.Address
	a[0] = b
	return a
}

func TestContractInfo_EncodeDecodeRoundTrip(t *testing.T) {
	info := &ContractInfo{
		Address: addrC(1),
		Code:    []byte{0xDE, 0xAD, 0xBE, 0xEF},
		Storage: map[string][]byte{"k1": []byte("v1"), "k2": []byte("v2")},
	}
	got, err := decodeContractInfo(info.Address, encodeContractInfo(info))
	if err != nil {
		t.Fatalf("decodeContractInfo() error: %v", err)
	}
	if string(got.Code) != string(info.Code) {
		t.Errorf("Code = %x, want %x", got.Code, info.Code)
	}
	if len(got.Storage) != len(info.Storage) {
		t.Fatalf("Storage len = %d, want %d", len(got.Storage), len(info.Storage))
	}
	for k, v := range info.Storage {
		if string(got.Storage[k]) != string(v) {
			t.Errorf("Storage[%q] = %q, want %q", k, got.Storage[k], v)
		}
	}
}

func TestContractInfo_EncodeDecodeEmptyStorage(t *testing.T) {
	info := &ContractInfo{Address: addrC(2), Storage: map[string][]byte{}}
	got, err := decodeContractInfo(info.Address, encodeContractInfo(info))
	if err != nil {
		t.Fatalf("decodeContractInfo() error: %v", err)
	}
	if len(got.Storage) != 0 {
		t.Errorf("Storage = %v, want empty", got.Storage)
	}
}
