package cycle

import (
	"fmt"
	"time"

	vecmath "github.com/cwbudde/algo-vecmath"

	"github.com/c360/daqstream/pkg/buffer"
)

// Frame is one read unit decoded by the control cycle.
type Frame struct {
	RunID    string    `json:"run_id"`
	Sequence uint64    `json:"sequence"`
	Time     time.Time `json:"time"`
	// Timestamps holds the per-row device timestamps when the layout carries
	// a timestamp channel.
	Timestamps []uint32 `json:"timestamps,omitempty"`
	// Raw holds the counts per channel, Raw[channel][row].
	Raw [][]uint32 `json:"raw"`
	// Values holds Raw converted to engineering units.
	Values [][]float64 `json:"values"`
}

// Channels returns the number of channels in the frame.
func (f *Frame) Channels() int {
	return len(f.Raw)
}

// Rows returns the number of rows per channel.
func (f *Frame) Rows() int {
	if len(f.Raw) == 0 {
		return 0
	}
	return len(f.Raw[0])
}

// Calibration converts raw counts to engineering units: value = raw*gain + offset.
type Calibration struct {
	gains   []float64
	offsets [][]float64 // per channel, one entry per row
}

// NewCalibration builds a calibration for nChannels channels of rows samples.
// Empty gains or offsets default to 1 and 0.
func NewCalibration(nChannels, rows int, gains, offsets []float64) (*Calibration, error) {
	if len(gains) != 0 && len(gains) != nChannels {
		return nil, fmt.Errorf("%d gains for %d channels", len(gains), nChannels)
	}
	if len(offsets) != 0 && len(offsets) != nChannels {
		return nil, fmt.Errorf("%d offsets for %d channels", len(offsets), nChannels)
	}

	c := &Calibration{
		gains:   make([]float64, nChannels),
		offsets: make([][]float64, nChannels),
	}
	for ch := 0; ch < nChannels; ch++ {
		c.gains[ch] = 1
		if len(gains) != 0 {
			c.gains[ch] = gains[ch]
		}
		if len(offsets) != 0 && offsets[ch] != 0 {
			block := make([]float64, rows)
			for i := range block {
				block[i] = offsets[ch]
			}
			c.offsets[ch] = block
		}
	}
	return c, nil
}

// apply writes the engineering values for channel ch into dst.
func (c *Calibration) apply(ch int, dst []float64, raw []uint32) {
	for i, v := range raw {
		dst[i] = float64(v)
	}
	if g := c.gains[ch]; g != 1 {
		vecmath.ScaleBlock(dst, dst, g)
	}
	if off := c.offsets[ch]; off != nil {
		vecmath.AddBlockInPlace(dst, off[:len(dst)])
	}
}

// decode copies the views of one sub-buffer into a new frame.
func decode(channels []buffer.ChannelView, ts buffer.ChannelView, cal *Calibration) *Frame {
	f := &Frame{
		Raw:    make([][]uint32, len(channels)),
		Values: make([][]float64, len(channels)),
	}
	for ch, view := range channels {
		raw := view.AppendUint32(make([]uint32, 0, view.Len()))
		values := make([]float64, len(raw))
		cal.apply(ch, values, raw)
		f.Raw[ch] = raw
		f.Values[ch] = values
	}
	if ts.Valid() {
		f.Timestamps = ts.AppendUint32(make([]uint32, 0, ts.Len()))
	}
	return f
}
