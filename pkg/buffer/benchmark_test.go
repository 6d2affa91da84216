package buffer

import (
	"fmt"
	"testing"
)

// BenchmarkSampleBufferCycle measures one producer map request plus one
// consumer read unit per iteration.
func BenchmarkSampleBufferCycle(b *testing.B) {
	layouts := []Layout{
		{NOfBuffers: 4, NChannels: 8, SamplesInMapRequest: 32, SizeOfSamples: 4, ReadSamples: 32},
		{NOfBuffers: 4, NChannels: 64, SamplesInMapRequest: 32, SizeOfSamples: 2, ReadSamples: 32, TimestampRequired: true},
	}

	for _, layout := range layouts {
		b.Run(fmt.Sprintf("channels_%d_size_%d", layout.NChannels, layout.SizeOfSamples), func(b *testing.B) {
			buf, err := NewSampleBuffer()
			if err != nil {
				b.Fatal(err)
			}
			if err := buf.Initialise(layout); err != nil {
				b.Fatal(err)
			}
			chunk := make([]byte, layout.RunawayZoneLength())
			values := make([]uint32, 0, layout.ReadSamples)

			b.SetBytes(int64(len(chunk)))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := buf.Write(chunk); err != nil {
					b.Fatal(err)
				}
				if buf.ReadReady() {
					channels, _ := buf.ReadChannels()
					for _, ch := range channels {
						values = ch.AppendUint32(values[:0])
					}
					if err := buf.Checkout(); err != nil {
						b.Fatal(err)
					}
				}
			}
		})
	}
}

// BenchmarkChannelViewDecode measures strided decoding of one channel.
func BenchmarkChannelViewDecode(b *testing.B) {
	for _, size := range []int{1, 2, 3, 4} {
		b.Run(fmt.Sprintf("size_%d", size), func(b *testing.B) {
			layout := Layout{NOfBuffers: 2, NChannels: 16, SamplesInMapRequest: 8, SizeOfSamples: size, ReadSamples: 256}
			buf, err := NewSampleBuffer()
			if err != nil {
				b.Fatal(err)
			}
			if err := buf.Initialise(layout); err != nil {
				b.Fatal(err)
			}
			if err := buf.Advance(layout.SingleBufferLength()); err != nil {
				b.Fatal(err)
			}
			channels, _ := buf.ReadChannels()
			values := make([]uint32, 0, layout.ReadSamples)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				values = channels[i%len(channels)].AppendUint32(values[:0])
			}
		})
	}
}
