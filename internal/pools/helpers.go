package pools

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"orbidswap/internal/chain"
)

func unpackAddress(parsed abi.ABI, method string, res chain.BatchResult) (common.Address, error) {
	if res.Err != nil {
		return common.Address{}, res.Err
	}
	return unpackAddressFromABI(parsed, method, res.Data)
}

func unpackAddressFromABI(parsed abi.ABI, method string, data []byte) (common.Address, error) {
	values, err := parsed.Unpack(method, data)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: unexpected type %T", method, values[0])
	}
	return addr, nil
}

func unpackBigInt(parsed abi.ABI, method string, res chain.BatchResult) (*big.Int, error) {
	if res.Err != nil {
		return nil, res.Err
	}
	values, err := parsed.Unpack(method, res.Data)
	if err != nil {
		return nil, err
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected type %T", method, values[0])
	}
	return v, nil
}

func unpackReserves(parsed abi.ABI, res chain.BatchResult) (*big.Int, *big.Int, error) {
	if res.Err != nil {
		return nil, nil, res.Err
	}
	values, err := parsed.Unpack("getReserves", res.Data)
	if err != nil {
		return nil, nil, err
	}
	r0, ok0 := values[0].(*big.Int)
	r1, ok1 := values[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, fmt.Errorf("getReserves: unexpected types %T, %T", values[0], values[1])
	}
	return r0, r1, nil
}
