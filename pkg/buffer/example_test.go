package buffer_test

import (
	"encoding/binary"
	"fmt"

	"github.com/c360/daqstream/pkg/buffer"
)

func ExampleSampleBuffer() {
	buf, err := buffer.NewSampleBuffer()
	if err != nil {
		panic(err)
	}
	err = buf.Initialise(buffer.Layout{
		NOfBuffers:          2,
		NChannels:           2,
		SamplesInMapRequest: 2,
		SizeOfSamples:       2,
		ReadSamples:         3,
	})
	if err != nil {
		panic(err)
	}

	// Three rows of interleaved (ch0, ch1) samples.
	var chunk []byte
	for row := uint16(1); row <= 3; row++ {
		chunk = binary.LittleEndian.AppendUint16(chunk, row)
		chunk = binary.LittleEndian.AppendUint16(chunk, row*100)
	}
	if err := buf.Write(chunk); err != nil {
		panic(err)
	}

	if buf.ReadReady() {
		channels, _ := buf.ReadChannels()
		for i, ch := range channels {
			fmt.Println(i, ch.AppendUint32(nil))
		}
		_ = buf.Checkout()
	}
	fmt.Println("active:", buf.ActiveBuffer())
	// Output:
	// 0 [1 2 3]
	// 1 [100 200 300]
	// active: 1
}
