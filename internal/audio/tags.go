package audio

import (
	"fmt"
	"os"

	"github.com/dhowden/tag"
)

// Tags is the subset of embedded metadata reported back on upload.
type Tags struct {
	Format string `json:"format"`
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
	Genre  string `json:"genre,omitempty"`
	Year   int    `json:"year,omitempty"`
}

// ReadTags reads ID3 (or other supported) tags from the file at path.
// tag.ErrNoTagsFound is returned unchanged for untagged files.
func ReadTags(path string) (*Tags, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio: %w", err)
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return nil, err
	}

	return &Tags{
		Format: string(m.Format()),
		Title:  m.Title(),
		Artist: m.Artist(),
		Album:  m.Album(),
		Genre:  m.Genre(),
		Year:   m.Year(),
	}, nil
}
