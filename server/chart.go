package server

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/ftl/tagstrainer/detector"
)

const (
	chartWidth       = 800
	chartHeight      = 300
	chartMarginLeft  = 60 // pixels
	chartMarginTop   = 20 // pixels
	chartMarginRight = 10 // pixels
	chartMarginBot   = 30 // pixels
	chartMinDB       = -60.0
	chartMaxDB       = 0.0
	chartStepDB      = 10.0
	chartDotRadius   = 2
)

var (
	chartBackgroundColor = color.RGBA{0, 0, 0, 255}
	chartGridColor       = color.RGBA{80, 80, 80, 255}
	chartTextColor       = color.RGBA{200, 200, 200, 255}
	targetColors         = []color.RGBA{
		{255, 80, 80, 255},
		{80, 255, 80, 255},
		{80, 160, 255, 255},
		{255, 220, 60, 255},
		{255, 80, 255, 255},
		{60, 255, 255, 255},
	}
)

// DrawPulseChart plots the signal strength of the given pulses in dB over time, one color per target.
func DrawPulseChart(pulses []detector.Pulse) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, chartWidth, chartHeight))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{chartBackgroundColor}, image.Point{}, draw.Src)

	plot := image.Rect(chartMarginLeft, chartMarginTop, chartWidth-chartMarginRight, chartHeight-chartMarginBot)

	for db := chartMinDB; db <= chartMaxDB; db += chartStepDB {
		y := dbToY(plot, db)
		drawLine(canvas, image.Pt(plot.Min.X, y), plot.Dx(), chartGridColor)
		drawLabel(canvas, image.Pt(5, y+4), fmt.Sprintf("%3.0f dB", db))
	}

	if len(pulses) == 0 {
		drawLabel(canvas, image.Pt(plot.Min.X+5, plot.Min.Y+15), "no pulses")
		return canvas
	}

	first := pulses[0].Timestamp.Time()
	last := pulses[len(pulses)-1].Timestamp.Time()
	span := last.Sub(first).Seconds()
	drawLabel(canvas, image.Pt(plot.Min.X, plot.Max.Y+20), first.UTC().Format("15:04:05"))
	drawLabel(canvas, image.Pt(plot.Max.X-56, plot.Max.Y+20), last.UTC().Format("15:04:05"))

	for i, pulse := range pulses {
		var x int
		if span > 0 {
			x = plot.Min.X + int(pulse.Timestamp.Time().Sub(first).Seconds()/span*float64(plot.Dx()-1))
		} else {
			x = plot.Min.X + (i*(plot.Dx()-1))/max(1, len(pulses)-1)
		}
		y := dbToY(plot, pulse.StrengthDB())
		drawDot(canvas, image.Pt(x, y), targetColors[pulse.TargetID%len(targetColors)])
	}

	return canvas
}

func dbToY(plot image.Rectangle, db float64) int {
	if math.IsNaN(db) || db < chartMinDB {
		db = chartMinDB
	}
	if db > chartMaxDB {
		db = chartMaxDB
	}
	fraction := (db - chartMinDB) / (chartMaxDB - chartMinDB)
	return plot.Max.Y - 1 - int(fraction*float64(plot.Dy()-1))
}

func drawLine(canvas *image.RGBA, start image.Point, length int, c color.RGBA) {
	for i := 0; i < length; i++ {
		canvas.SetRGBA(start.X+i, start.Y, c)
	}
}

func drawDot(canvas *image.RGBA, center image.Point, c color.RGBA) {
	for dy := -chartDotRadius; dy <= chartDotRadius; dy++ {
		for dx := -chartDotRadius; dx <= chartDotRadius; dx++ {
			canvas.SetRGBA(center.X+dx, center.Y+dy, c)
		}
	}
}

func drawLabel(canvas *image.RGBA, dot image.Point, text string) {
	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(chartTextColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(dot.X, dot.Y),
	}
	d.DrawString(text)
}
