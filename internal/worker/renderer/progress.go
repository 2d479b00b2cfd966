package renderer

import (
	"strconv"
	"strings"
	"time"
)

// Progress is one block of ffmpeg's "-progress" key/value output.
type Progress struct {
	Frame   int64
	OutTime time.Duration
	Speed   string
	// Done is set on the final block (progress=end).
	Done bool
}

// progressParser accumulates key=value lines until a "progress=" line
// closes the block.
type progressParser struct {
	cur Progress
}

func (p *progressParser) feed(line string) (Progress, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return Progress{}, false
	}

	switch key {
	case "frame":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			p.cur.Frame = n
		}
	case "out_time_us", "out_time_ms":
		// Both keys carry microseconds in current ffmpeg releases.
		if n, err := strconv.ParseInt(value, 10, 64); err == nil && n >= 0 {
			p.cur.OutTime = time.Duration(n) * time.Microsecond
		}
	case "speed":
		p.cur.Speed = strings.TrimSpace(value)
	case "progress":
		out := p.cur
		out.Done = value == "end"
		p.cur = Progress{}
		return out, true
	}
	return Progress{}, false
}

// Fraction converts out time into a 0..1 ratio of total.
func (p Progress) Fraction(total time.Duration) float64 {
	if p.Done {
		return 1
	}
	if total <= 0 {
		return 0
	}
	f := float64(p.OutTime) / float64(total)
	switch {
	case f < 0:
		return 0
	case f > 0.99:
		return 0.99
	}
	return f
}
