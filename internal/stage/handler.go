package stage

import (
	"context"
	"fmt"
	"log/slog"

	"labelloop/internal/services"
)

// Handler describes the contract the pipeline runner needs from each stage.
type Handler interface {
	Prepare(context.Context, *State) error
	Execute(context.Context, *State) error
	HealthCheck(context.Context) Health
}

// Health reports whether a stage's external dependencies are usable.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

func Unhealthy(name, detail string) Health {
	return Health{Name: name, Detail: detail}
}

// Err returns nil for a ready stage and a configuration error naming the
// missing dependency otherwise.
func (h Health) Err(stageName string) error {
	if h.Ready {
		return nil
	}
	return services.Wrap(services.ErrConfiguration, stageName, "health", fmt.Sprintf("%s not ready: %s", h.Name, h.Detail), nil)
}

// LoggerAware is implemented by handlers that want the run-scoped logger.
type LoggerAware interface {
	SetLogger(*slog.Logger)
}

// Names of the pipeline stages in their natural order.
const (
	Upload  = "upload"
	Export  = "export"
	Train   = "train"
	Predict = "predict"
	Import  = "import"
)

// Order lists every stage in execution order.
var Order = []string{Upload, Export, Train, Predict, Import}
