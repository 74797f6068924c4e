package sandbox

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/config"
)

// Rect is a CSS-pixel box as reported by getBoundingClientRect.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of the box.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

func (r Rect) pad(p int) image.Rectangle {
	return image.Rect(
		int(math.Floor(r.X))-p,
		int(math.Floor(r.Y))-p,
		int(math.Ceil(r.X+r.Width))+p,
		int(math.Ceil(r.Y+r.Height))+p,
	)
}

// Regions are the three nested comparison areas for one element.
type Regions struct {
	Tight  image.Rectangle
	Local  image.Rectangle
	Global image.Rectangle
}

// regionsFor derives the comparison areas from the element box, its parent box
// and the viewport. The local region always contains the tight one.
func regionsFor(el, parent Rect, width, height, tightPad, localPad int) Regions {
	viewport := image.Rect(0, 0, width, height)
	tight := el.pad(tightPad).Intersect(viewport)
	local := parent.pad(localPad).Union(tight).Intersect(viewport)
	return Regions{Tight: tight, Local: local, Global: viewport}
}

// diffRatio is the fraction of pixels inside region whose largest channel
// delta exceeds tolerance (0-255). Empty regions report no change.
func diffRatio(before, after image.Image, region image.Rectangle, tolerance int) float64 {
	region = region.Intersect(before.Bounds()).Intersect(after.Bounds())
	total := region.Dx() * region.Dy()
	if total <= 0 {
		return 0
	}
	changed := 0
	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			if pixelDelta(before.At(x, y).RGBA, after.At(x, y).RGBA) > tolerance {
				changed++
			}
		}
	}
	return float64(changed) / float64(total)
}

func pixelDelta(a, b func() (uint32, uint32, uint32, uint32)) int {
	ar, ag, ab, aa := a()
	br, bg, bb, ba := b()
	delta := 0
	for _, d := range [4]int{
		channelDelta(ar, br), channelDelta(ag, bg), channelDelta(ab, bb), channelDelta(aa, ba),
	} {
		if d > delta {
			delta = d
		}
	}
	return delta
}

func channelDelta(a, b uint32) int {
	d := int(a>>8) - int(b>>8)
	if d < 0 {
		return -d
	}
	return d
}

// compareScreenshots decodes two PNG renders and diffs them at every scale.
func compareScreenshots(before, after []byte, regions Regions, tolerance int) (schemas.DiffRatios, error) {
	b, err := png.Decode(bytes.NewReader(before))
	if err != nil {
		return schemas.DiffRatios{}, fmt.Errorf("failed to decode baseline screenshot: %w", err)
	}
	a, err := png.Decode(bytes.NewReader(after))
	if err != nil {
		return schemas.DiffRatios{}, fmt.Errorf("failed to decode post-interaction screenshot: %w", err)
	}
	return schemas.DiffRatios{
		Tight:  diffRatio(b, a, regions.Tight, tolerance),
		Local:  diffRatio(b, a, regions.Local, tolerance),
		Global: diffRatio(b, a, regions.Global, tolerance),
	}, nil
}

// classify maps the three ratios to an element status. Checks run in order:
// navigation, responsive, cascade, weak feedback, no response.
func classify(d schemas.DiffRatios, t config.ThresholdsConfig) schemas.ElementStatus {
	switch {
	case d.Global >= t.NavigationGlobal:
		return schemas.StatusNavigation
	case d.Tight >= t.ResponsiveTight:
		return schemas.StatusResponsive
	case d.Local >= t.CascadeLocal || d.Global >= t.CascadeGlobal:
		return schemas.StatusCascadeEffect
	case d.Tight > t.NoiseFloor || d.Local > t.NoiseFloor || d.Global > t.NoiseFloor:
		return schemas.StatusWeakFeedback
	default:
		return schemas.StatusNoResponse
	}
}
