package dex

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const uniswapV2RouterABI = `[{"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactTokensForTokens","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"}]`

var routerABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(uniswapV2RouterABI))
	if err != nil {
		panic(fmt.Sprintf("failed to parse router ABI: %v", err))
	}
	return parsed
}()

// RouterSwap is a swapExactTokensForTokens call on a V2-style router. Such
// routers return every hop's amount, the last being the output.
type RouterSwap struct {
	AmountIn     *uint256.Int
	AmountOutMin *uint256.Int
	Path         []common.Address
	To           common.Address
	Deadline     uint64
}

// EncodeRouterSwap packs s as router calldata.
func EncodeRouterSwap(s RouterSwap) ([]byte, error) {
	if len(s.Path) < 2 {
		return nil, fmt.Errorf("invalid path")
	}
	if s.AmountIn == nil {
		return nil, fmt.Errorf("invalid amountIn")
	}
	minOut := new(big.Int)
	if s.AmountOutMin != nil {
		minOut = s.AmountOutMin.ToBig()
	}
	return routerABI.Pack("swapExactTokensForTokens",
		s.AmountIn.ToBig(),
		minOut,
		s.Path,
		s.To,
		new(big.Int).SetUint64(s.Deadline),
	)
}

// DecodeRouterSwap parses router calldata.
func DecodeRouterSwap(data []byte) (*RouterSwap, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("invalid data length")
	}
	method, err := routerABI.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("failed to decode method: %w", err)
	}

	params := make(map[string]interface{})
	if err := method.Inputs.UnpackIntoMap(params, data[4:]); err != nil {
		return nil, fmt.Errorf("failed to decode parameters: %w", err)
	}

	path, ok := params["path"].([]common.Address)
	if !ok || len(path) < 2 {
		return nil, fmt.Errorf("invalid path")
	}
	to, ok := params["to"].(common.Address)
	if !ok {
		return nil, fmt.Errorf("invalid to address")
	}
	amounts := make([]*uint256.Int, 3)
	for i, name := range []string{"amountIn", "amountOutMin", "deadline"} {
		v, ok := params[name].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("invalid %s", name)
		}
		amount, overflow := uint256.FromBig(v)
		if overflow {
			return nil, fmt.Errorf("invalid %s", name)
		}
		amounts[i] = amount
	}
	if !amounts[2].IsUint64() {
		return nil, fmt.Errorf("invalid deadline")
	}

	return &RouterSwap{
		AmountIn:     amounts[0],
		AmountOutMin: amounts[1],
		Path:         path,
		To:           to,
		Deadline:     amounts[2].Uint64(),
	}, nil
}
