package orchestrator

import "time"

// AssetID uniquely identifies an uploaded source video.
type AssetID string

// ResolutionName identifies a rung of the resolution ladder (e.g. "720p").
type ResolutionName string

// ResolutionOriginal is the virtual resolution naming the unscaled source.
// It owns a segment set like any ladder rung but never has a variant record.
const ResolutionOriginal ResolutionName = "original"

// Segment is one time-sliced chunk of the original or of a resolution variant.
// Path is set only after the extracted file has been verified on disk.
type Segment struct {
	Index     int     `json:"index"`
	StartTime float64 `json:"startTime"`
	Duration  float64 `json:"duration"`
	Path      string  `json:"path"`
}

// ResolutionVariant is a rescaled transcode of the asset at one ladder rung.
type ResolutionVariant struct {
	Name   ResolutionName `json:"name"`
	Width  int            `json:"width"`
	Height int            `json:"height"`
	Path   string         `json:"path"`
}

// Asset is the durable record for one uploaded video and everything derived
// from it. Segments are keyed by resolution (including ResolutionOriginal)
// and then by 1-based segment index.
type Asset struct {
	ID              AssetID `json:"id"`
	Filename        string  `json:"filename"`
	SourcePath      string  `json:"sourcePath"`
	DurationSeconds float64 `json:"durationSeconds"`
	SegmentCount    int     `json:"segmentCount,omitempty"`
	OriginalWidth   int     `json:"originalWidth,omitempty"`
	OriginalHeight  int     `json:"originalHeight,omitempty"`

	Resolutions map[ResolutionName]*ResolutionVariant `json:"resolutions,omitempty"`
	Segments    map[ResolutionName]map[int]*Segment   `json:"segments,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Clone returns a deep copy of the asset so callers never share mutable
// state with the store.
func (a *Asset) Clone() *Asset {
	cp := *a
	if a.Resolutions != nil {
		cp.Resolutions = make(map[ResolutionName]*ResolutionVariant, len(a.Resolutions))
		for name, v := range a.Resolutions {
			vc := *v
			cp.Resolutions[name] = &vc
		}
	}
	if a.Segments != nil {
		cp.Segments = make(map[ResolutionName]map[int]*Segment, len(a.Segments))
		for name, set := range a.Segments {
			sc := make(map[int]*Segment, len(set))
			for idx, seg := range set {
				segc := *seg
				sc[idx] = &segc
			}
			cp.Segments[name] = sc
		}
	}
	return &cp
}

// HasVariant reports whether a completed variant exists for the given
// resolution. ResolutionOriginal always qualifies.
func (a *Asset) HasVariant(name ResolutionName) bool {
	if name == ResolutionOriginal {
		return true
	}
	v, ok := a.Resolutions[name]
	return ok && v.Path != ""
}
