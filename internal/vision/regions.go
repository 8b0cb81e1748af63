package vision

import (
	"image"

	"gocv.io/x/gocv"
)

// Region is one external contour of a binary mask.
type Region struct {
	Bounds image.Rectangle
	// Area is the area enclosed by the contour, holes included.
	Area float64
}

// externalRegions returns the outermost contours of mask. Blobs nested inside
// another region's hole are part of that region and are not reported.
func externalRegions(mask gocv.Mat) []Region {
	if mask.Empty() {
		return nil
	}
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	regions := make([]Region, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		regions = append(regions, Region{
			Bounds: gocv.BoundingRect(c),
			Area:   gocv.ContourArea(c),
		})
	}
	return regions
}

// filterRegions keeps regions of at least minArea. Smaller regions are dropped,
// never merged.
func filterRegions(regions []Region, minArea float64) Result {
	var res Result
	for _, r := range regions {
		if r.Area < minArea {
			continue
		}
		res.Motion = true
		res.Boxes = append(res.Boxes, r.Bounds)
	}
	return res
}
