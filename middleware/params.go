package middleware

import (
	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
	"github.com/saiset-co/sai-fx/utils"
)

// decodeParams fills target from the item's params, keeping target's
// defaults when there are none or they do not decode.
func decodeParams[T any](item *types.MiddlewareItemConfig, target *T, logger types.Logger, name string) {
	if item == nil || item.Params == nil {
		return
	}

	if err := utils.UnmarshalConfig(item.Params, target); err != nil {
		logger.Error("Failed to unmarshal middleware config",
			zap.String("middleware", name),
			zap.Error(err))
	}
}

func weightOf(item *types.MiddlewareItemConfig, def int) int {
	if item == nil || item.Weight == 0 {
		return def
	}
	return item.Weight
}
