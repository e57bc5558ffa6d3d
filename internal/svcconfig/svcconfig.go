// Package svcconfig parses a static service table from caller-supplied
// YAML bytes into supervisor configs. The core itself never opens a file:
// whoever embeds it decides where the bytes come from.
package svcconfig

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/splax-s/splax-os-sub001/internal/cap"
	"github.com/splax-s/splax-os-sub001/internal/supervisor"
)

// doc is the YAML document shape:
//
//	services:
//	  - name: storage
//	    binary: /sbin/s-storage
//	    depends_on: [dev]
//	    operations: [read, write, grant]
//	    memory_limit: 67108864
//	    restart: on-failure
//	    max_restarts: 5
type doc struct {
	Services []serviceDoc `yaml:"services"`
}

type serviceDoc struct {
	Name        string   `yaml:"name"`
	Binary      string   `yaml:"binary"`
	DependsOn   []string `yaml:"depends_on"`
	Operations  []string `yaml:"operations"`
	MemoryLimit uint64   `yaml:"memory_limit"`
	Restart     string   `yaml:"restart"`
	MaxRestarts uint32   `yaml:"max_restarts"`
}

// Parse decodes YAML bytes into supervisor configs, validating each one.
func Parse(data []byte) ([]supervisor.Config, error) {
	var d doc
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("svcconfig: parsing service table: %w", err)
	}
	if len(d.Services) == 0 {
		return nil, fmt.Errorf("svcconfig: service table is empty")
	}

	configs := make([]supervisor.Config, 0, len(d.Services))
	for _, sd := range d.Services {
		cfg, err := sd.toConfig()
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("svcconfig: service %q: %w", sd.Name, err)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// ParseReader is Parse over an io.Reader.
func ParseReader(r io.Reader) ([]supervisor.Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("svcconfig: reading service table: %w", err)
	}
	return Parse(data)
}

func (sd serviceDoc) toConfig() (supervisor.Config, error) {
	ops := cap.OpNone
	for _, name := range sd.Operations {
		op, err := parseOp(name)
		if err != nil {
			return supervisor.Config{}, fmt.Errorf("svcconfig: service %q: %w", sd.Name, err)
		}
		ops = ops.Union(op)
	}

	policy, err := parsePolicy(sd.Restart)
	if err != nil {
		return supervisor.Config{}, fmt.Errorf("svcconfig: service %q: %w", sd.Name, err)
	}

	return supervisor.Config{
		Name:          sd.Name,
		BinaryPath:    sd.Binary,
		Dependencies:  sd.DependsOn,
		InitialOps:    ops,
		MemoryLimit:   sd.MemoryLimit,
		RestartPolicy: policy,
		MaxRestarts:   sd.MaxRestarts,
	}, nil
}

func parseOp(name string) (cap.OpSet, error) {
	switch name {
	case "read":
		return cap.OpRead, nil
	case "write":
		return cap.OpWrite, nil
	case "execute":
		return cap.OpExecute, nil
	case "grant":
		return cap.OpGrant, nil
	case "revoke":
		return cap.OpRevoke, nil
	default:
		return cap.OpNone, fmt.Errorf("unknown operation %q", name)
	}
}

func parsePolicy(name string) (supervisor.RestartPolicy, error) {
	switch name {
	case "", "on-failure":
		return supervisor.RestartOnFailure, nil
	case "never":
		return supervisor.RestartNever, nil
	case "always":
		return supervisor.RestartAlways, nil
	default:
		return supervisor.RestartNever, fmt.Errorf("unknown restart policy %q", name)
	}
}
