package transcoder

import (
	"bytes"
	"fmt"
	"path"

	"github.com/google/renameio/v2"
)

// Variant is one #EXT-X-STREAM-INF entry of a master playlist
type Variant struct {
	Bandwidth int64
	Width     int
	Height    int
	URI       string
}

// MasterPlaylist is an ordered list of variants serialized deterministically
type MasterPlaylist struct {
	Variants []Variant
}

// NewMasterPlaylist builds the master playlist for renditions in the given order.
// Each variant points at the tier-local playlist relative to the master.
func NewMasterPlaylist(renditions []Rendition) *MasterPlaylist {
	m := &MasterPlaylist{Variants: make([]Variant, 0, len(renditions))}
	for _, r := range renditions {
		m.Variants = append(m.Variants, Variant{
			Bandwidth: r.Tier.Bandwidth(),
			Width:     r.Tier.Width,
			Height:    r.Tier.Height,
			URI:       path.Join(r.Tier.Name, PlaylistName),
		})
	}
	return m
}

// Bytes renders the playlist
func (m *MasterPlaylist) Bytes() []byte {
	var buf bytes.Buffer

	buf.WriteString("#EXTM3U\n")
	buf.WriteString("#EXT-X-VERSION:3\n\n")

	for _, v := range m.Variants {
		fmt.Fprintf(&buf, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n", v.Bandwidth, v.Width, v.Height)
		buf.WriteString(v.URI + "\n")
	}

	return buf.Bytes()
}

// WriteFile atomically replaces path with the rendered playlist
func (m *MasterPlaylist) WriteFile(path string) error {
	pendingFile, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending master playlist: %w", err)
	}
	// No-op once committed
	defer pendingFile.Cleanup()

	if _, err := pendingFile.Write(m.Bytes()); err != nil {
		return fmt.Errorf("write master playlist: %w", err)
	}

	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace master playlist: %w", err)
	}

	return nil
}
