package binary

import (
	"errors"

	"go.uber.org/zap"

	"github.com/tetratelabs/wasmplan/internal/cursor"
	"github.com/tetratelabs/wasmplan/internal/wasm"
)

// errNotParsed is returned by ModuleInformation before Parse was called.
var errNotParsed = errors.New("module was not parsed")

// Option configures a Parser.
type Option func(*Parser)

// WithLimits bounds the counts a module may declare. Zero fields keep wasm.DefaultLimits.
func WithLimits(limits wasm.Limits) Option {
	return func(p *Parser) {
		p.limits = limits.WithDefaults()
	}
}

// WithLogger logs each section at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Parser decodes a module in the WebAssembly 1.0 (20191205) Binary Format into a wasm.ModuleInformation.
//
// A Parser is single use: Parse either succeeds, or fails and keeps the first error. The source buffer is never copied
// or modified, and function bodies are described as offsets into it.
type Parser struct {
	source []byte
	// c reads the section being decoded, and never past its end.
	c      *cursor.Cursor
	limits wasm.Limits
	logger *zap.Logger

	m           *wasm.ModuleInformation
	codeDecoded bool
	err         error
	parsed      bool
}

// NewParser returns a Parser for source.
func NewParser(source []byte, opts ...Option) *Parser {
	p := &Parser{source: source, limits: wasm.DefaultLimits, logger: zap.NewNop()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// DecodeModule parses source and returns its ModuleInformation.
func DecodeModule(source []byte, opts ...Option) (*wasm.ModuleInformation, error) {
	p := NewParser(source, opts...)
	if err := p.Parse(); err != nil {
		return nil, err
	}
	return p.m, nil
}

// Failed returns true if Parse returned an error.
func (p *Parser) Failed() bool {
	return p.err != nil
}

// Err returns the error of Parse, a *wasm.Error, or nil.
func (p *Parser) Err() error {
	return p.err
}

// ErrorMessage returns the message of the error of Parse, or an empty string.
func (p *Parser) ErrorMessage() string {
	if p.err == nil {
		return ""
	}
	return p.err.Error()
}

// ModuleInformation returns the result of a successful Parse. It is never returned after a failure, even partially.
func (p *Parser) ModuleInformation() (*wasm.ModuleInformation, error) {
	if p.err != nil {
		return nil, p.err
	}
	if !p.parsed {
		return nil, errNotParsed
	}
	return p.m, nil
}

// Parse decodes the whole source. Calling it again returns the result of the first call.
func (p *Parser) Parse() error {
	if p.parsed || p.err != nil {
		return p.err
	}
	p.m = &wasm.ModuleInformation{}
	if err := p.parse(); err != nil {
		p.err = err
		p.logger.Debug("parse failed", zap.Error(err))
		return err
	}
	p.parsed = true
	return nil
}

func (p *Parser) parse() error {
	if len(p.source) < headerSize {
		return p.formatError(0, "expected a module of at least %d bytes", headerSize)
	}

	p.c = cursor.New(p.source)
	if !p.c.ConsumeString(Magic) {
		return p.formatError(0, "modules doesn't start with '\\0asm'")
	}
	if v, _ := p.c.ParseUInt32(); v != Version {
		return p.formatError(len(Magic), "unexpected version number %d expected %d", v, Version)
	}

	previous := sectionIDUnknown
	offset := p.c.Offset()
	for offset < len(p.source) {
		// The id is a single byte, so a padded encoding of a valid id is rejected too.
		b, ok := p.c.ParseVarUInt7()
		if !ok || p.c.Offset() != offset+1 {
			return p.formatError(offset, "couldn't get section byte")
		}
		id := sectionFromByte(b)
		if !validateOrder(previous, id) {
			return p.formatError(offset, "invalid section order, %s followed by %s", SectionIDName(previous), SectionIDName(id))
		}

		size, ok := p.c.ParseVarUInt32()
		if !ok {
			return p.formatError(p.c.Offset(), "couldn't get %s section's length", SectionIDName(id))
		}
		start := p.c.Offset()
		if uint64(size) > uint64(len(p.source)-start) {
			return p.formatError(start, "%s section of size %d would overflow Module's size", SectionIDName(id), size)
		}
		end := start + int(size)

		p.c = cursor.NewAt(p.source[:end], start)
		if err := p.decodeSection(id, offset); err != nil {
			return err
		}
		if p.c.Offset() != end {
			return p.formatError(p.c.Offset(), "parsing ended before the end of %s section", SectionIDName(id))
		}
		p.logger.Debug("parsed section",
			zap.String("section", SectionIDName(id)),
			zap.Int("offset", offset),
			zap.Uint32("size", size))

		if id != sectionIDUnknown {
			previous = id
		}
		p.c = cursor.NewAt(p.source, end)
		offset = end
	}

	// Functions declared without bodies would leave FunctionInformation unfilled.
	if len(p.m.Functions) > 0 && !p.codeDecoded {
		return p.semanticError(len(p.source), "Function section declared %d functions but there is no Code section", len(p.m.Functions))
	}
	return nil
}

func (p *Parser) decodeSection(id SectionID, offset int) error {
	switch id {
	case SectionIDType:
		return p.decodeTypeSection()
	case SectionIDImport:
		return p.decodeImportSection()
	case SectionIDFunction:
		return p.decodeFunctionSection()
	case SectionIDTable, SectionIDGlobal, SectionIDElement:
		return p.decodeUnsupportedSection(id, offset)
	case SectionIDMemory:
		return p.decodeMemorySection()
	case SectionIDExport:
		return p.decodeExportSection()
	case SectionIDStart:
		return p.decodeStartSection()
	case SectionIDCode:
		return p.decodeCodeSection()
	case SectionIDData:
		return p.decodeDataSection()
	}
	// Custom and unknown sections are skipped with their name and contents.
	p.c.Skip(uint32(p.c.Remaining()))
	return nil
}
