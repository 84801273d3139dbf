package filter

import (
	"fmt"
	"strconv"
	"strings"

	"nfcrelay/util"
)

// Parse builds a stage from a "shape:action[=arg]" spec as accepted by
// the --filter flag, e.g. "anticol:uid=04A21B7C", "card:replace=6A82>9000"
// or "emulator:checksum".
func Parse(spec string) (Stage, error) {
	shapeStr, action, ok := strings.Cut(spec, ":")
	if !ok {
		return nil, fmt.Errorf("filter %q: expected shape:action[=arg]", spec)
	}
	shape, err := parseShape(shapeStr)
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", spec, err)
	}
	name, arg, hasArg := strings.Cut(action, "=")

	st, err := build(shape, name, arg, hasArg)
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", spec, err)
	}
	return st, nil
}

// ParseAll parses every spec in order into a pipeline.
func ParseAll(specs []string) (*Pipeline, error) {
	stages := make([]Stage, 0, len(specs))
	for _, s := range specs {
		st, err := Parse(s)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return New(stages...), nil
}

func parseShape(s string) (Shape, error) {
	for _, sh := range []Shape{ShapeAnticollision, ShapeEmulatorData, ShapeCardData} {
		if sh.String() == s {
			return sh, nil
		}
	}
	return 0, fmt.Errorf("unknown shape %q (want anticol, emulator or card)", s)
}

func build(shape Shape, name, arg string, hasArg bool) (Stage, error) {
	anticolOnly := func() error {
		if shape != ShapeAnticollision {
			return fmt.Errorf("%s applies to anticol only", name)
		}
		if !hasArg {
			return fmt.Errorf("%s requires a value", name)
		}
		return nil
	}
	pduOnly := func() error {
		if shape == ShapeAnticollision {
			return fmt.Errorf("%s applies to emulator or card data only", name)
		}
		if !hasArg {
			return fmt.Errorf("%s requires a value", name)
		}
		return nil
	}

	switch name {
	case "uid", "atqa", "hist":
		if err := anticolOnly(); err != nil {
			return nil, err
		}
		b, err := util.ParseHex(arg)
		if err != nil {
			return nil, err
		}
		switch name {
		case "uid":
			return ReplaceUID(b), nil
		case "atqa":
			return ReplaceATQA(b), nil
		default:
			return ReplaceHistorical(b), nil
		}

	case "sak":
		if err := anticolOnly(); err != nil {
			return nil, err
		}
		b, err := util.ParseHex(arg)
		if err != nil {
			return nil, err
		}
		if len(b) != 1 {
			return nil, fmt.Errorf("sak must be a single byte, got %d", len(b))
		}
		return ReplaceSAK(b[0]), nil

	case "redact-uid":
		if shape != ShapeAnticollision {
			return nil, fmt.Errorf("redact-uid applies to anticol only")
		}
		fill := byte(0)
		if hasArg {
			b, err := util.ParseHex(arg)
			if err != nil {
				return nil, err
			}
			if len(b) != 1 {
				return nil, fmt.Errorf("redact-uid fill must be a single byte")
			}
			fill = b[0]
		}
		return RedactUID(fill), nil

	case "checksum":
		return AppendChecksum(shape), nil

	case "replace":
		if err := pduOnly(); err != nil {
			return nil, err
		}
		fromStr, toStr, ok := strings.Cut(arg, ">")
		if !ok {
			return nil, fmt.Errorf("replace expects FROM>TO")
		}
		from, err := util.ParseHex(fromStr)
		if err != nil {
			return nil, err
		}
		to, err := util.ParseHex(toStr)
		if err != nil {
			return nil, err
		}
		return ReplacePayload(shape, from, to)

	case "drop-prefix":
		if err := pduOnly(); err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("drop-prefix: %w", err)
		}
		return DropPrefix(shape, n)
	}
	return nil, fmt.Errorf("unknown action %q", name)
}
