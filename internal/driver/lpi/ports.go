package lpi

import (
	"fmt"

	"github.com/nerrad567/gray-logic-dispatch/internal/driver"
)

// PortList selects the PHI ports an LPI drives or reads. "port" is the
// documented key; "ports" is accepted for older item rows.
type PortList struct {
	Port  []string `yaml:"port"`
	Ports []string `yaml:"ports"`
}

// resolve parses the list and checks every port against phi.
func (l PortList) resolve(phi driver.PHI) ([]driver.PortRef, error) {
	specs := l.Port
	switch {
	case len(l.Port) > 0 && len(l.Ports) > 0:
		return nil, fmt.Errorf("%w: set port or ports, not both", driver.ErrInvalidConfig)
	case len(l.Port) == 0:
		specs = l.Ports
	}

	refs, err := driver.ParsePorts(specs)
	if err != nil {
		return nil, err
	}
	if err := driver.CheckPorts(phi, refs); err != nil {
		return nil, err
	}
	return refs, nil
}
