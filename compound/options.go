package compound

import "go.uber.org/zap"

// TextEncoding controls how fixed-length strings are truncated to their
// declared byte length.
type TextEncoding uint8

const (
	// EncodingRaw truncates at the declared byte length, which may cut a
	// multi-byte sequence. Matches historical ASCII layouts.
	EncodingRaw TextEncoding = iota
	// EncodingUTF8 truncates at the last rune boundary that fits.
	EncodingUTF8
)

// Option configures layout resolution and file operations.
type Option func(*options)

type options struct {
	permissive bool
	log        *zap.Logger
	blockSize  uint64
	encoding   TextEncoding
}

func defaultOptions() options {
	return options{
		log: zap.NewNop(),
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithPermissive makes the resolver produce a partial layout when shape
// members are missing from the stored type, instead of failing. Callers
// must gate round-trip use with Layout.RequireComplete.
func WithPermissive() Option {
	return func(o *options) {
		o.permissive = true
	}
}

// WithLogger sets the logger used for release failures and permissive
// resolution gaps. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithBlockSize sets the nominal natural block size in records, used
// when a dataset has no chunk shape of its own and as the chunk shape of
// newly created datasets. Zero means whole-extent blocks.
func WithBlockSize(n uint64) Option {
	return func(o *options) {
		o.blockSize = n
	}
}

// WithTextEncoding sets the truncation rule for fixed-length strings.
func WithTextEncoding(e TextEncoding) Option {
	return func(o *options) {
		o.encoding = e
	}
}
