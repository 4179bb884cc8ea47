package lpi

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-dispatch/internal/driver"
)

// OutputType is the registry name of the output LPI.
const OutputType = "output"

// OutputConfig is the output LPI's configuration schema.
type OutputConfig struct {
	PortList `yaml:",inline"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
}

// Output drives one logical value onto every configured port.
type Output struct {
	item  string
	phi   driver.PHI
	ports []driver.PortRef
	cfg   OutputConfig
}

var _ driver.LPI = (*Output)(nil)

// NewOutput builds an output LPI from a registry spec.
func NewOutput(spec driver.LPISpec, phi driver.PHI) (driver.LPI, error) {
	var cfg OutputConfig
	if err := driver.DecodeConfig(spec.Config, &cfg); err != nil {
		return nil, err
	}
	if !driver.HasCapability(phi, driver.CapWrite) {
		return nil, fmt.Errorf("%w: phi %s is not writable", driver.ErrInvalidConfig, phi.ID())
	}
	ports, err := cfg.resolve(phi)
	if err != nil {
		return nil, err
	}
	return &Output{item: spec.Item, phi: phi, ports: ports, cfg: cfg}, nil
}

func (o *Output) Item() string { return o.item }
func (o *Output) PHI() string  { return o.phi.ID() }

// State reports the logical value of the first port, after checking that
// every port is readable.
func (o *Output) State(ctx context.Context, timeout time.Duration, last driver.Cached) driver.StateResult {
	values, res := readPorts(ctx, o.phi, o.ports, effectiveTimeout(timeout, o.cfg.Timeout), last)
	if res != nil {
		return *res
	}
	return driver.ValueResult(values[0])
}

// Action writes params["value"] to every port in configuration order under
// one deadline. The first failure stops the remaining writes and earlier
// writes stay applied.
func (o *Output) Action(ctx context.Context, actionID string, params map[string]any, timeout time.Duration) (any, error) {
	value, ok := params["value"]
	if !ok {
		return nil, fmt.Errorf("%w: action %s: missing \"value\"", driver.ErrInvalidParams, actionID)
	}

	ctx, cancel := driver.WithTimeout(ctx, effectiveTimeout(timeout, o.cfg.Timeout))
	defer cancel()

	for i, p := range o.ports {
		if err := driver.Checkpoint(ctx); err != nil {
			return nil, fmt.Errorf("action %s: stopped before port %s (%d of %d written): %w",
				actionID, p.Port, i, len(o.ports), err)
		}

		v, err := p.Apply(value)
		if err != nil {
			return nil, fmt.Errorf("action %s: %w", actionID, err)
		}

		if err := o.phi.Set(ctx, p.Port, v); err != nil {
			return nil, fmt.Errorf("action %s: port %s (%d of %d written): %w",
				actionID, p.Port, i, len(o.ports), driver.Classify(ctx, err))
		}
	}
	return value, nil
}
