package buffer

import (
	"fmt"

	"github.com/c360/daqstream/errors"
)

// Sample width limits in bytes.
const (
	MinSampleSize = 1
	MaxSampleSize = 4
)

// Layout describes how a SampleBuffer partitions its arena. It carries the
// six parameters the acquisition configuration supplies.
type Layout struct {
	// NOfBuffers is the number of sub-buffers in the ring (at least 2).
	NOfBuffers int `json:"n_of_buffers" mapstructure:"n_of_buffers" yaml:"n_of_buffers"`
	// NChannels is the number of data channels, excluding the timestamp.
	NChannels int `json:"n_channels" mapstructure:"n_channels" yaml:"n_channels"`
	// SamplesInMapRequest is the number of rows the producer delivers per
	// map request; it sizes the runaway zone.
	SamplesInMapRequest int `json:"samples_in_map_request" mapstructure:"samples_in_map_request" yaml:"samples_in_map_request"`
	// SizeOfSamples is the width of one sample in bytes (1 to 4).
	SizeOfSamples int `json:"size_of_samples" mapstructure:"size_of_samples" yaml:"size_of_samples"`
	// ReadSamples is the number of rows in one read unit.
	ReadSamples int `json:"read_samples" mapstructure:"read_samples" yaml:"read_samples"`
	// TimestampRequired interleaves a timestamp column first in every row.
	TimestampRequired bool `json:"timestamp_required" mapstructure:"timestamp_required" yaml:"timestamp_required"`
}

// Validate checks the layout parameters.
func (l Layout) Validate() error {
	var problem string
	switch {
	case l.NChannels <= 0:
		problem = fmt.Sprintf("n_channels must be positive, got %d", l.NChannels)
	case l.SamplesInMapRequest <= 0:
		problem = fmt.Sprintf("samples_in_map_request must be positive, got %d", l.SamplesInMapRequest)
	case l.ReadSamples <= 0:
		problem = fmt.Sprintf("read_samples must be positive, got %d", l.ReadSamples)
	case l.SizeOfSamples < MinSampleSize || l.SizeOfSamples > MaxSampleSize:
		problem = fmt.Sprintf("size_of_samples must be within [%d,%d], got %d",
			MinSampleSize, MaxSampleSize, l.SizeOfSamples)
	case l.NOfBuffers < 2:
		problem = fmt.Sprintf("n_of_buffers must be at least 2, got %d", l.NOfBuffers)
	default:
		return nil
	}
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, problem),
		"Layout", "Validate", "layout validation")
}

// Columns returns the number of interleaved columns per row, timestamp included.
func (l Layout) Columns() int {
	if l.TimestampRequired {
		return l.NChannels + 1
	}
	return l.NChannels
}

// RowSize returns the number of bytes in one interleaved row.
func (l Layout) RowSize() int {
	return l.Columns() * l.SizeOfSamples
}

// SingleBufferLength returns the size of one sub-buffer in bytes.
func (l Layout) SingleBufferLength() int {
	return l.RowSize() * l.ReadSamples
}

// RunawayZoneLength returns the size of the runaway zone in bytes.
func (l Layout) RunawayZoneLength() int {
	return l.RowSize() * l.SamplesInMapRequest
}

// BufferLength returns the total arena size in bytes.
func (l Layout) BufferLength() int {
	return l.NOfBuffers*l.SingleBufferLength() + l.RunawayZoneLength()
}
