package fast

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ethereum-optimism/wasmvm/wvgo/jsonutil"
	"github.com/ethereum-optimism/wasmvm/wvgo/module"
)

type stateJSON VMState

type stateJSONWithModule struct {
	Module hexutil.Bytes `json:"module"`
	*stateJSON
}

// MarshalJSON embeds the binary module, so a state file is self-contained.
func (s *VMState) MarshalJSON() ([]byte, error) {
	var raw []byte
	if s.Module != nil {
		raw = s.Module.Bytes()
	}
	return json.Marshal(stateJSONWithModule{Module: raw, stateJSON: (*stateJSON)(s)})
}

func (s *VMState) UnmarshalJSON(data []byte) error {
	dec := stateJSONWithModule{stateJSON: (*stateJSON)(s)}
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	mod, err := module.Decode(dec.Module)
	if err != nil {
		return fmt.Errorf("invalid module in state: %w", err)
	}
	s.Module = mod
	for i, f := range s.Frames {
		if int(f.Func) >= len(mod.Functions) {
			return fmt.Errorf("frame %d refers to unknown function %d", i, f.Func)
		}
	}
	return s.checkFrames()
}

func LoadVMStateFromFile(path string) (*VMState, error) {
	return jsonutil.LoadJSON[VMState](path)
}

func WriteVMStateToFile(path string, s *VMState, perm os.FileMode) error {
	return jsonutil.WriteJSON(path, s, perm)
}
