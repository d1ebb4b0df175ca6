// Package charts decodes the backend's chart payload and picks the images
// shown in the chart panel.
package charts

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Kind classifies a chart for selection.
type Kind string

const (
	KindHeatmap   Kind = "heatmap"
	KindScatter   Kind = "scatter"
	KindHistogram Kind = "histogram"
	KindBoxplot   Kind = "boxplot"
	KindBarh      Kind = "barh"
	KindPie       Kind = "pie"
	KindOther     Kind = "other"
)

const (
	heatmapKey    = "correlation_heatmap"
	scatterPrefix = "scatter__"

	// MaxSelected is the most images the chart panel shows.
	MaxSelected = 4
)

// Chart is one decoded image.
type Chart struct {
	Key     string    // top-level payload key
	Variant string    // inner key for per-column objects, "" otherwise
	Column  string    // column for per-column charts
	Pair    [2]string // variables of a scatter plot
	Kind    Kind
	PNG     []byte
}

// ID is unique within one payload.
func (c Chart) ID() string {
	if c.Variant == "" {
		return c.Key
	}
	return c.Key + "/" + c.Variant
}

// Title is a short human label.
func (c Chart) Title() string {
	switch c.Kind {
	case KindHeatmap:
		return "Correlation Heatmap"
	case KindScatter:
		return fmt.Sprintf("Scatter: %s vs %s", c.Pair[0], c.Pair[1])
	case KindHistogram:
		return "Histogram of " + c.Column
	case KindBoxplot:
		return "Boxplot of " + c.Column
	case KindBarh:
		return "Top values of " + c.Column
	case KindPie:
		return "Distribution of " + c.Column
	}
	if c.Variant != "" {
		return fmt.Sprintf("%s of %s", c.Variant, c.Column)
	}
	return c.Key
}

// DataURI returns the image as an inline data URI.
func (c Chart) DataURI() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(c.PNG)
}

// Parse walks a charts object in the order the backend sent it. Values are
// either a base64 string or an object of {variant: base64}. Entries that do
// not decode are returned by ID in skipped.
func Parse(payload gjson.Result) (charts []Chart, skipped []string) {
	if !payload.IsObject() {
		return nil, nil
	}

	payload.ForEach(func(k, v gjson.Result) bool {
		key := k.String()
		switch {
		case v.Type == gjson.String:
			ch := classify(key, "")
			if png, ok := decodeImage(v.String()); ok {
				ch.PNG = png
				charts = append(charts, ch)
			} else {
				skipped = append(skipped, ch.ID())
			}
		case v.IsObject():
			v.ForEach(func(ik, iv gjson.Result) bool {
				ch := classify(key, ik.String())
				if png, ok := decodeImage(iv.String()); ok && iv.Type == gjson.String {
					ch.PNG = png
					charts = append(charts, ch)
				} else {
					skipped = append(skipped, ch.ID())
				}
				return true
			})
		default:
			skipped = append(skipped, key)
		}
		return true
	})
	return charts, skipped
}

func classify(key, variant string) Chart {
	ch := Chart{Key: key, Variant: variant, Kind: KindOther}

	switch {
	case key == heatmapKey:
		ch.Kind = KindHeatmap
		return ch
	case strings.HasPrefix(key, scatterPrefix):
		ch.Kind = KindScatter
		parts := strings.SplitN(strings.TrimPrefix(key, scatterPrefix), "__", 2)
		ch.Pair[0] = parts[0]
		if len(parts) == 2 {
			ch.Pair[1] = parts[1]
		}
		return ch
	}

	ch.Column = key
	switch Kind(variant) {
	case KindHistogram, KindBoxplot, KindBarh, KindPie:
		ch.Kind = Kind(variant)
	}
	return ch
}

func decodeImage(s string) ([]byte, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	png, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(png) == 0 {
		return nil, false
	}
	return png, true
}
