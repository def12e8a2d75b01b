// Package assembler is the scan-class registry and instruction generator
// of component G: it translates an accepted scan_queue_request into the
// ordered instruction sequence the worker (component H) drives, via a
// registry of named scan classes each declaring an arg shape and a
// restartable instruction generator.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package assembler

import (
	"github.com/bec-fabric/bec/cmn/cos"
	"github.com/bec-fabric/bec/msg"
)

// ArgType is one semantic type a scan class declares in its arg_input
// tuple (§4.3).
type ArgType string

const (
	ArgDevice ArgType = "device"
	ArgFloat  ArgType = "float"
	ArgInt    ArgType = "int"
	ArgAny    ArgType = "any"
)

// Class is a registered scan type: arg_input/arg_bundle_size describe how
// positional args bundle (§4.3), Build constructs a restartable instruction
// generator from a bundled request. ScanReportHint is the optional hint
// published alongside scan-status for client-side rendering (§6 supplement).
type Class struct {
	Name            string
	ArgInput        []ArgType
	Doc             string
	ScanReportHint  string
	Build           func(req *Request) (Generator, error)
}

// Request is a bundled, validated scan request ready for instruction
// generation.
type Request struct {
	RID        string
	ScanType   string
	Bundles    [][]any // each bundle's first element is its device key, per §4.3
	Kwargs     map[string]any
	Metadata   map[string]any
}

// Generator produces the ordered instruction sequence for one scan. Next
// returns (instruction, true) while more remain, or (nil, false) once
// exhausted - the "restartable lazy sequence" of §4.3, restartable in the
// sense that a fresh Generator is built per scan attempt from the same
// saved request-blocks (component F's Restart).
type Generator interface {
	Next() (*msg.Instruction, bool)
}

// Registry is the process-wide scan-class catalog, keyed by name.
type Registry struct {
	classes map[string]*Class
}

func NewRegistry() *Registry {
	r := &Registry{classes: map[string]*Class{}}
	for _, c := range builtins() {
		r.Register(c)
	}
	return r
}

func (r *Registry) Register(c *Class) { r.classes[c.Name] = c }

func (r *Registry) Get(name string) (*Class, bool) {
	c, ok := r.classes[name]
	return c, ok
}

// AvailableScans returns the §6's available_scans map shape: scan name ->
// {class, arg_input, scan_report_hint, doc}.
func (r *Registry) AvailableScans() map[string]map[string]any {
	out := make(map[string]map[string]any, len(r.classes))
	for name, c := range r.classes {
		argInput := make([]string, len(c.ArgInput))
		for i, a := range c.ArgInput {
			argInput[i] = string(a)
		}
		out[name] = map[string]any{
			"class":            c.Name,
			"arg_input":        argInput,
			"scan_report_hint": c.ScanReportHint,
			"doc":              c.Doc,
		}
	}
	return out
}

// BundleArgs groups flat positional args into bundles of arg_bundle_size
// (len(arg_input), or len(args) if arg_input is empty), per §4.3. It
// mirrors original_source's Scans._prepare_scan_request bundling and
// multiple-of-width validation.
func BundleArgs(class *Class, args []any) ([][]any, error) {
	width := len(class.ArgInput)
	if width == 0 {
		width = len(args)
	}
	if width == 0 {
		return nil, nil
	}
	if len(args)%width != 0 {
		return nil, cos.NewErrScanRejection(class.Doc,
			"%s takes multiples of %d arguments (%d given)", class.Name, width, len(args))
	}
	bundles := make([][]any, 0, len(args)/width)
	for i := 0; i < len(args); i += width {
		bundles = append(bundles, args[i:i+width])
	}
	return bundles, nil
}

func deviceOf(bundle []any) string {
	if len(bundle) == 0 {
		return ""
	}
	s, _ := bundle[0].(string)
	return s
}
