package lpi

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-dispatch/internal/driver"
)

// InputType is the registry name of the input LPI.
const InputType = "input"

// Aggregation modes for multi-port inputs.
const (
	AggregateFirst = "first"
	AggregateAll   = "all"
	AggregateAny   = "any"
	AggregateAvg   = "avg"
)

// InputConfig is the input LPI's configuration schema.
type InputConfig struct {
	PortList  `yaml:",inline"`
	Aggregate string        `yaml:"aggregate" validate:"omitempty,oneof=first all any avg"`
	Timeout   time.Duration `yaml:"timeout" validate:"gte=0"`
}

// Input aggregates one or more sensor ports into a single value.
type Input struct {
	item  string
	phi   driver.PHI
	ports []driver.PortRef
	cfg   InputConfig
}

var _ driver.LPI = (*Input)(nil)

// NewInput builds an input LPI from a registry spec.
func NewInput(spec driver.LPISpec, phi driver.PHI) (driver.LPI, error) {
	var cfg InputConfig
	if err := driver.DecodeConfig(spec.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Aggregate == "" {
		cfg.Aggregate = AggregateFirst
	}
	if !driver.HasCapability(phi, driver.CapRead) {
		return nil, fmt.Errorf("%w: phi %s is not readable", driver.ErrInvalidConfig, phi.ID())
	}
	ports, err := cfg.resolve(phi)
	if err != nil {
		return nil, err
	}
	return &Input{item: spec.Item, phi: phi, ports: ports, cfg: cfg}, nil
}

func (in *Input) Item() string { return in.item }
func (in *Input) PHI() string  { return in.phi.ID() }

// State reads every port and aggregates the values.
func (in *Input) State(ctx context.Context, timeout time.Duration, last driver.Cached) driver.StateResult {
	values, res := readPorts(ctx, in.phi, in.ports, effectiveTimeout(timeout, in.cfg.Timeout), last)
	if res != nil {
		return *res
	}

	v, err := aggregate(in.cfg.Aggregate, values)
	if err != nil {
		return driver.ErrorResult(err)
	}
	return driver.ValueResult(v)
}

// Action is not supported on inputs.
func (in *Input) Action(_ context.Context, actionID string, _ map[string]any, _ time.Duration) (any, error) {
	return nil, fmt.Errorf("%w: action %s: item %s is an input", driver.ErrUnsupported, actionID, in.item)
}

func aggregate(mode string, values []any) (any, error) {
	switch mode {
	case AggregateAll:
		for _, v := range values {
			if !driver.Truthy(v) {
				return false, nil
			}
		}
		return true, nil
	case AggregateAny:
		for _, v := range values {
			if driver.Truthy(v) {
				return true, nil
			}
		}
		return false, nil
	case AggregateAvg:
		var sum float64
		for _, v := range values {
			f, ok := driver.ToFloat(v)
			if !ok {
				return nil, fmt.Errorf("%w: cannot average %T", driver.ErrDriverError, v)
			}
			sum += f
		}
		return sum / float64(len(values)), nil
	default:
		return values[0], nil
	}
}
