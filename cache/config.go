package cache

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Size is a byte count that unmarshals from human-readable strings such as
// "512MiB" or "1.5 GB".
type Size int64

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Size) UnmarshalText(text []byte) error {
	n, err := humanize.ParseBytes(string(text))
	if err != nil {
		return fmt.Errorf("%w: size %q: %w", ErrInvalidConfig, text, err)
	}
	*s = Size(n)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s Size) MarshalText() ([]byte, error) {
	return []byte(humanize.IBytes(uint64(s))), nil
}

func (s Size) String() string {
	return humanize.IBytes(uint64(s))
}

// Config is the declarative form of an InMemoryCacheBuilder. It can be
// loaded from JSON or any decoder honoring encoding.TextUnmarshaler.
//
//	{"capacity": "2GiB", "pageSize": "1MiB", "timeToIdle": "10m", "compression": "lz4"}
type Config struct {
	// Capacity is the page store budget. Zero with SysMemoryFraction set
	// sizes the cache from the system memory instead.
	Capacity Size `json:"capacity"`
	// SysMemoryFraction sizes the cache as a fraction of system memory.
	SysMemoryFraction float64 `json:"sysMemoryFraction,omitempty"`
	PageSize          Size    `json:"pageSize,omitempty"`
	// TimeToIdle is a Go duration string ("30m").
	TimeToIdle         Duration    `json:"timeToIdle,omitempty"`
	MetadataCapacity   int64       `json:"metadataCapacity,omitempty"`
	MetadataTimeToIdle Duration    `json:"metadataTimeToIdle,omitempty"`
	Shards             int         `json:"shards,omitempty"`
	Compression        Compression `json:"compression,omitempty"`
}

// Duration is a time.Duration that unmarshals from strings like "90s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: duration %q: %w", ErrInvalidConfig, text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Builder converts the configuration into a builder. Unset fields keep the
// builder defaults.
func (c Config) Builder() *InMemoryCacheBuilder {
	var b *InMemoryCacheBuilder
	if c.Capacity == 0 && c.SysMemoryFraction > 0 {
		b = WithSysMemory(c.SysMemoryFraction)
	} else {
		b = NewBuilder(int64(c.Capacity))
	}

	if c.PageSize > 0 {
		b.PageSize(int64(c.PageSize))
	}
	if c.TimeToIdle > 0 {
		b.TimeToIdle(time.Duration(c.TimeToIdle))
	}
	if c.MetadataCapacity > 0 {
		b.MetadataCapacity(c.MetadataCapacity)
	}
	if c.MetadataTimeToIdle > 0 {
		b.MetadataTimeToIdle(time.Duration(c.MetadataTimeToIdle))
	}
	if c.Shards > 0 {
		b.Shards(c.Shards)
	}
	return b.Compression(c.Compression)
}
