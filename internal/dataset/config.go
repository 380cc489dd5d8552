// Package dataset ties segments, manifest/index, and summary together
// into the lifecycle operations described in §4.5-4.7: acquiring new
// messages, checking and repacking segments, and answering queries.
// Grounded on the teacher's partition.Partition (a rooted directory
// owning a sequential store, backed by a shared resource cache) and
// internal/retention's ticker-driven sweep, generalized from Kafka's
// fixed offset-log model to arkimet's reftime-addressed segments.
package dataset

import (
	"time"

	"arkimet/internal/metadata"
)

// IndexKind selects the contents-index/manifest serialization a dataset
// uses, mirroring the `index_type` configuration key (§6.1).
type IndexKind int

const (
	IndexSimplePlain IndexKind = iota
	IndexSimpleSQLite
	IndexOndisk2
)

// Config collects the per-dataset settings named in §2 ("a rooted
// directory with a configuration: step, unique keys, archive/delete
// ages, index type, segment type").
type Config struct {
	Root string

	Step       Step
	Shard      bool
	UniqueKeys []metadata.ItemCode
	GroupKeys  []metadata.ItemCode

	ArchiveAge time.Duration
	DeleteAge  time.Duration

	Index   IndexKind
	ForceDir bool
	HoleDir  bool

	CheckIntervalMs int64
}

// Option mutates a Config under construction, following the same
// functional-options idiom as the teacher's PartitionConfig builders.
type Option func(*Config)

func WithStep(step Step) Option {
	return func(c *Config) { c.Step = step }
}

func WithShard(enabled bool) Option {
	return func(c *Config) { c.Shard = enabled }
}

func WithUniqueKeys(codes ...metadata.ItemCode) Option {
	return func(c *Config) { c.UniqueKeys = codes }
}

func WithGroupKeys(codes ...metadata.ItemCode) Option {
	return func(c *Config) { c.GroupKeys = codes }
}

func WithArchiveAge(d time.Duration) Option {
	return func(c *Config) { c.ArchiveAge = d }
}

func WithDeleteAge(d time.Duration) Option {
	return func(c *Config) { c.DeleteAge = d }
}

func WithIndex(kind IndexKind) Option {
	return func(c *Config) { c.Index = kind }
}

func WithForceDir(enabled bool) Option {
	return func(c *Config) { c.ForceDir = enabled }
}

func WithHoleDir(enabled bool) Option {
	return func(c *Config) { c.HoleDir = enabled }
}

func WithCheckInterval(d time.Duration) Option {
	return func(c *Config) { c.CheckIntervalMs = d.Milliseconds() }
}

// NewConfig builds a Config rooted at root with daily stepping, no
// unique-key dedup, and archiving/deletion disabled, then applies opts.
func NewConfig(root string, opts ...Option) Config {
	c := Config{
		Root:            root,
		Step:            StepDaily,
		Index:           IndexSimplePlain,
		CheckIntervalMs: 60_000,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
