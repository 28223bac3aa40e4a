package binary

// Magic is the 4 byte preamble (literally "\0asm") of the binary format
// See https://www.w3.org/TR/wasm-core-1/#binary-magic
const Magic = "\x00asm"

// Version is the only format version this parser accepts, encoded as a little-endian uint32 after Magic.
// See https://www.w3.org/TR/wasm-core-1/#binary-version
const Version = uint32(1)

// headerSize is the length of Magic plus Version.
const headerSize = 8
