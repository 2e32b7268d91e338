package metrics

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
)

var customMetricsCreators = sync.Map{}

func RegisterMetricsManager(metricsManagerName string, creator types.MetricsManagerCreator) {
	customMetricsCreators.Store(metricsManagerName, creator)
}

// NewManager builds the configured metrics backend. A disabled or missing
// metrics section yields a no-op manager so callers never check for nil.
func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger) (types.MetricsManager, error) {
	metricsConfig := config.GetConfig().Metrics

	if metricsConfig == nil || !metricsConfig.Enabled {
		return NewNop(), nil
	}

	var manager types.MetricsManager
	var err error

	switch metricsConfig.Type {
	case "memory":
		manager = NewMemoryMetrics(logger, metricsConfig)
	case "prometheus":
		manager, err = NewPrometheusMetrics(ctx, logger, metricsConfig)
	default:
		creator, exists := customMetricsCreators.Load(metricsConfig.Type)
		if !exists {
			return nil, types.Errorf(types.ErrMetricsTypeUnknown, "type: %s", metricsConfig.Type)
		}
		manager, err = creator.(types.MetricsManagerCreator)(metricsConfig)
	}

	if err != nil {
		return nil, types.WrapError(err, "failed to initialize metrics manager")
	}

	logger.Info("Metrics manager initialized", zap.String("type", metricsConfig.Type))
	return manager, nil
}
