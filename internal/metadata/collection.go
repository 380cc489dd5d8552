package metadata

import (
	"os"
)

// Collection is an ordered run of Metadata, the in-memory counterpart of
// a segment's ".metadata" sidecar file. Ordering is significant: it is
// not resorted on load, matching the original's metadata::Collection.
type Collection struct {
	items []*Metadata
}

func NewCollection() *Collection {
	return &Collection{}
}

func (c *Collection) Add(md *Metadata) {
	c.items = append(c.items, md)
}

func (c *Collection) Len() int {
	return len(c.items)
}

func (c *Collection) At(i int) *Metadata {
	return c.items[i]
}

func (c *Collection) All() []*Metadata {
	return c.items
}

// ReadFile loads a Collection from a sidecar file written by WriteFile,
// or by a scanner populating one for the first time. The contained blocks
// may be any mix of bare records and MG groups (§6.3).
func ReadFile(path string) (*Collection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewCollection(), nil
		}
		return nil, err
	}
	mds, err := DecodeStream(data)
	if err != nil {
		return nil, err
	}
	c := &Collection{items: mds}
	return c, nil
}

// WriteFile persists the collection as a single MG group, truncating and
// replacing any previous sidecar content (the sidecar is always rebuilt
// wholesale, never appended to in place).
func (c *Collection) WriteFile(path string) error {
	if len(c.items) == 0 {
		return os.WriteFile(path, nil, 0644)
	}
	buf, err := EncodeGroup(c.items)
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0644)
}

// FilterByOffsetRange returns the subset of items whose Source is a Blob
// source with Offset in [begin, end).
func (c *Collection) FilterByOffsetRange(begin, end int64) []*Metadata {
	var out []*Metadata
	for _, md := range c.items {
		if md.Source.Kind != SourceBlob {
			continue
		}
		if md.Source.Offset >= begin && md.Source.Offset < end {
			out = append(out, md)
		}
	}
	return out
}
