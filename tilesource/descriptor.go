package tilesource

// Descriptor is the JSON description of a tile source consumed by browser viewers.
// TileURLTemplate contains "{level}", "{row}", and "{col}" placeholders.
type Descriptor struct {
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	TileSize        int       `json:"tileSize"`
	TileHeight      int       `json:"tileHeight"`
	MinLevel        int       `json:"minLevel"`
	MaxLevel        int       `json:"maxLevel"`
	LevelScales     []float64 `json:"levelScales"`
	LevelWidths     []int     `json:"levelWidths"`
	NumTiles        int       `json:"numTiles"`
	TileURLTemplate string    `json:"tileUrlTemplate,omitempty"`
}

// Descriptor returns the viewer description of the source.  Level scales and widths are
// both indexed by viewer level, coarsest first.
func (s *Source) Descriptor(tileURLTemplate string) Descriptor {
	d := Descriptor{
		Width:           s.Width(),
		Height:          s.Height(),
		TileSize:        s.TileSize(),
		TileHeight:      s.TileHeight(),
		MinLevel:        s.MinLevel(),
		MaxLevel:        s.MaxLevel(),
		NumTiles:        s.index.NumTiles(),
		TileURLTemplate: tileURLTemplate,
	}
	d.LevelScales = make([]float64, s.MaxLevel()+1)
	d.LevelWidths = make([]int, s.MaxLevel()+1)
	for level := range d.LevelScales {
		d.LevelScales[level], _ = s.LevelScale(level)
		d.LevelWidths[level], _ = s.index.LevelWidth(s.MaxLevel() - level)
	}
	return d
}
