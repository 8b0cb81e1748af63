// Package overlay draws the diagnostic annotations onto a lane's camera frame:
// motion boxes, a motion caption, a simulated signal head, the timestamp and
// the phase countdown.
package overlay

import (
	"image"
	"image/color"
	"strconv"
	"time"

	"git.sr.ht/~sbinet/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/joselamego/IntelligentTrafficControl/internal/phase"
	"github.com/joselamego/IntelligentTrafficControl/internal/vision"
)

// TimestampLayout renders e.g. "Monday 02 January 2006 03:04:05PM".
const TimestampLayout = "Monday 02 January 2006 03:04:05PM"

// Captions shown at the top of each lane.
const (
	CaptionNoMotion = "no motion"
	CaptionMotion   = "motion detected"
)

var (
	BoxColor       = color.RGBA{0, 255, 0, 255}
	TextColor      = color.RGBA{255, 0, 0, 255}
	CountdownColor = color.RGBA{255, 255, 0, 255}

	lampColors = map[phase.Aspect]color.RGBA{
		phase.Red:    {255, 0, 0, 255},
		phase.Yellow: {255, 255, 0, 255},
		phase.Green:  {0, 255, 0, 255},
	}
)

// Input is everything Annotate needs about one lane for one frame.
type Input struct {
	Motion        vision.Result
	Aspect        phase.Aspect
	Countdown     int
	LapPeriod     int
	OwnsCountdown bool
	Time          time.Time
}

// InputFor builds the annotation input for lane from a controller snapshot.
func InputFor(lane phase.Lane, motion vision.Result, s phase.Snapshot, now time.Time) Input {
	return Input{
		Motion:        motion,
		Aspect:        s.Aspect(lane),
		Countdown:     s.Countdown,
		LapPeriod:     s.LapPeriod,
		OwnsCountdown: s.OwnsCountdown(lane),
		Time:          now,
	}
}

// Head returns the centres and radius of the red, yellow and green lamps of
// the signal head drawn on a frame of the given width.
func Head(width int) (red, yellow, green image.Point, radius int) {
	x := width / 11
	r := int(float64(width) * 0.07)
	return image.Pt(x, r), image.Pt(x, 3*r), image.Pt(x, 5*r), r
}

// Annotate draws onto dst in place.
func Annotate(dst *image.RGBA, in Input) {
	dc := gg.NewContextForRGBA(dst)
	dc.SetFontFace(basicfont.Face7x13)
	b := dst.Bounds()

	dc.SetColor(BoxColor)
	dc.SetLineWidth(2)
	for _, box := range in.Motion.Boxes {
		dc.DrawRectangle(float64(box.Min.X), float64(box.Min.Y), float64(box.Dx()), float64(box.Dy()))
		dc.Stroke()
	}

	caption := CaptionNoMotion
	if in.Motion.Motion {
		caption = CaptionMotion
	}
	dc.SetColor(TextColor)
	dc.DrawString(caption, float64(b.Min.X+60), float64(b.Min.Y+20))

	drawHead(dc, b, in.Aspect)

	dc.SetColor(TextColor)
	dc.DrawString(in.Time.Format(TimestampLayout), float64(b.Min.X+10), float64(b.Max.Y-10))

	if in.OwnsCountdown && in.Countdown < in.LapPeriod {
		dc.SetColor(CountdownColor)
		dc.DrawString(strconv.Itoa(in.Countdown), float64(b.Min.X+80), float64(b.Min.Y+65))
	}
}

// drawHead fills the lit lamp and outlines the others.
func drawHead(dc *gg.Context, b image.Rectangle, lit phase.Aspect) {
	red, yellow, green, r := Head(b.Dx())
	lamps := []struct {
		aspect phase.Aspect
		at     image.Point
	}{
		{phase.Red, red},
		{phase.Yellow, yellow},
		{phase.Green, green},
	}

	dc.SetLineWidth(1)
	for _, l := range lamps {
		dc.SetColor(lampColors[l.aspect])
		dc.DrawCircle(float64(b.Min.X+l.at.X), float64(b.Min.Y+l.at.Y), float64(r))
		if l.aspect == lit {
			dc.Fill()
		} else {
			dc.Stroke()
		}
	}
}
