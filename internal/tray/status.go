package tray

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"
)

// Actions are the shell operations reachable from the tray menu
type Actions interface {
	Focus()
	Quit()
}

// StatusLabel renders the status line for a backend state. ready only
// counts while the backend is running.
func StatusLabel(state string, ready bool) string {
	switch {
	case ready && state == "running":
		return "Backend: ready"
	case state == "":
		return "Backend: not started"
	default:
		return "Backend: " + strings.ReplaceAll(state, "_", " ")
	}
}

// iconPNG draws the tray icon: a ring with a center dot.
func iconPNG(size int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	fg := color.NRGBA{R: 0x1f, G: 0x6f, B: 0xd1, A: 0xff}
	c := float64(size-1) / 2
	outer, inner, dot := c, c*0.7, c*0.3

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			d := math.Hypot(float64(x)-c, float64(y)-c)
			if (d <= outer && d >= inner) || d <= dot {
				img.Set(x, y, fg)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}
