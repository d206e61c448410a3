package render

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum-optimism/infra/op-reporter/types"
)

// JSONRenderer produces the machine-readable report. The aggregate's JSON
// field names are the stable wire contract.
type JSONRenderer struct{}

func (r *JSONRenderer) Format() types.Format { return types.FormatJSON }

func (r *JSONRenderer) Render(data *types.AggregatedTestData, cfg types.FormatConfig) (string, error) {
	jsonCfg, ok := cfg.(types.JSONConfig)
	if !ok {
		return "", fmt.Errorf("json renderer received %T config", cfg)
	}

	var (
		out []byte
		err error
	)
	if jsonCfg.Indent {
		out, err = json.MarshalIndent(data, "", "  ")
	} else {
		out, err = json.Marshal(data)
	}
	if err != nil {
		return "", fmt.Errorf("failed to marshal aggregate: %w", err)
	}
	return string(out) + "\n", nil
}
