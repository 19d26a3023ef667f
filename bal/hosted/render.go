package hosted

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const upperHalf = "▀"

// renderFrame draws an RGBA frame as half-block cells. When cols and rows are
// positive the frame is scaled down, nearest neighbour, to fit. It is never
// scaled up.
func renderFrame(pixels []byte, width, height, cols, rows int) string {
	if width <= 0 || height <= 0 || len(pixels) < width*height*4 {
		return ""
	}
	outW, outH := width, (height+1)/2
	if cols > 0 && outW > cols {
		outW = cols
	}
	if rows > 0 && outH > rows {
		outH = rows
	}

	styles := make(map[[2]uint32]lipgloss.Style)
	var b strings.Builder
	for row := 0; row < outH; row++ {
		if row > 0 {
			b.WriteByte('\n')
		}
		for col := 0; col < outW; col++ {
			x := col * width / outW
			top := row * 2 * ((height + 1) / 2) / outH
			bottom := top + 1
			key := [2]uint32{rgb(pixels, width, x, top), 0}
			if bottom < height {
				key[1] = rgb(pixels, width, x, bottom)
			}
			st, ok := styles[key]
			if !ok {
				st = lipgloss.NewStyle().
					Foreground(lipgloss.Color(hexColor(key[0]))).
					Background(lipgloss.Color(hexColor(key[1])))
				styles[key] = st
			}
			b.WriteString(st.Render(upperHalf))
		}
	}
	return b.String()
}

// rgb packs the pixel at x, y as 0xRRGGBB.
func rgb(pixels []byte, width, x, y int) uint32 {
	i := (y*width + x) * 4
	return uint32(pixels[i])<<16 | uint32(pixels[i+1])<<8 | uint32(pixels[i+2])
}

func hexColor(c uint32) string {
	return fmt.Sprintf("#%06x", c)
}
