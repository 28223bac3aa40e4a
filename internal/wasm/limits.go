package wasm

// Limits bound how much a parser reserves for counts declared by a module. A count above a limit is rejected with
// ErrorKindResource before anything is allocated, so hostile modules cannot request huge reservations.
type Limits struct {
	MaxTypes   uint32
	MaxImports uint32
	// MaxFunctions bounds the function section, and the whole function index space a plan compiles.
	MaxFunctions      uint32
	MaxExports        uint32
	MaxDataSegments   uint32
	MaxFunctionSize   uint32
	MaxFunctionLocals uint32
	MaxFunctionParams uint32
	MaxStringSize     uint32
}

// DefaultLimits are the values used by browsers for the same reservations.
var DefaultLimits = Limits{
	MaxTypes:          1000000,
	MaxImports:        100000,
	MaxFunctions:      1000000,
	MaxExports:        100000,
	MaxDataSegments:   100000,
	MaxFunctionSize:   7654321,
	MaxFunctionLocals: 50000,
	MaxFunctionParams: 1000,
	MaxStringSize:     100000,
}

// WithDefaults returns a copy of l where each zero field is replaced by the one in DefaultLimits.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits
	if l.MaxTypes != 0 {
		d.MaxTypes = l.MaxTypes
	}
	if l.MaxImports != 0 {
		d.MaxImports = l.MaxImports
	}
	if l.MaxFunctions != 0 {
		d.MaxFunctions = l.MaxFunctions
	}
	if l.MaxExports != 0 {
		d.MaxExports = l.MaxExports
	}
	if l.MaxDataSegments != 0 {
		d.MaxDataSegments = l.MaxDataSegments
	}
	if l.MaxFunctionSize != 0 {
		d.MaxFunctionSize = l.MaxFunctionSize
	}
	if l.MaxFunctionLocals != 0 {
		d.MaxFunctionLocals = l.MaxFunctionLocals
	}
	if l.MaxFunctionParams != 0 {
		d.MaxFunctionParams = l.MaxFunctionParams
	}
	if l.MaxStringSize != 0 {
		d.MaxStringSize = l.MaxStringSize
	}
	return d
}
