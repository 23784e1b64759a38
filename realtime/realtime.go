// Package realtime implements destination.Driver against a real sound
// card via PortAudio, grounded on the teacher's client/audio.go stream
// lifecycle: open a device stream sized to the quantum, run a blocking
// Write loop on its own goroutine, and stop the stream before closing it
// so the writer goroutine is never touching a freed native object.
package realtime

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// paStream is the subset of *portaudio.Stream this package uses, narrowed
// to an interface so tests can substitute a fake stream without opening a
// real device — same abstraction the teacher's client/audio.go uses for
// its own paStream interface.
type paStream interface {
	Start() error
	Stop() error
	Close() error
	Write() error
}

// Output is a destination.Driver backed by a PortAudio output-only stream.
// The zero value is not usable; construct with NewOutput.
type Output struct {
	deviceID int // -1 selects the default output device

	mu     sync.Mutex
	stream paStream
	buf    []float32
	wg     sync.WaitGroup
	stopCh chan struct{}

	render func() []float32
}

// NewOutput returns an Output driver targeting deviceID, or the system
// default output device when deviceID is negative.
func NewOutput(deviceID int) *Output {
	return &Output{deviceID: deviceID}
}

// Start implements destination.Driver. It opens the stream at the given
// channel and frame count and begins the writer goroutine.
func (o *Output) Start(channels, frames int, render func() []float32) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	outDev, err := o.resolveDevice()
	if err != nil {
		return fmt.Errorf("realtime: resolve output device: %w", err)
	}

	buf := make([]float32, frames*channels)
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   outDev,
			Channels: channels,
			Latency:  outDev.DefaultLowOutputLatency,
		},
		SampleRate:      outDev.DefaultSampleRate,
		FramesPerBuffer: frames,
	}

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return fmt.Errorf("realtime: open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("realtime: start stream: %w", err)
	}

	o.stream = stream
	o.buf = buf
	o.render = render
	o.stopCh = make(chan struct{})

	o.wg.Add(1)
	go o.writeLoop(stream, buf, o.stopCh)
	return nil
}

func (o *Output) writeLoop(stream paStream, buf []float32, stop chan struct{}) {
	defer o.wg.Done()
	for {
		select {
		case <-stop:
			return
		default:
		}
		copy(buf, o.render())
		if err := stream.Write(); err != nil {
			return
		}
	}
}

// Stop implements destination.Driver: stop the stream (unblocks any
// in-flight Write), wait for the writer goroutine to exit, then close.
// This ordering matters — closing before the goroutine exits can free
// the native stream while Write is still touching it.
func (o *Output) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stream == nil {
		return nil
	}
	close(o.stopCh)
	if err := o.stream.Stop(); err != nil {
		return fmt.Errorf("realtime: stop stream: %w", err)
	}
	o.wg.Wait()
	err := o.stream.Close()
	o.stream = nil
	if err != nil {
		return fmt.Errorf("realtime: close stream: %w", err)
	}
	return nil
}

func (o *Output) resolveDevice() (*portaudio.DeviceInfo, error) {
	if o.deviceID < 0 {
		return portaudio.DefaultOutputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if o.deviceID >= len(devices) {
		return nil, fmt.Errorf("realtime: device index %d out of range", o.deviceID)
	}
	return devices[o.deviceID], nil
}

// ListOutputDevices lists available PortAudio output devices, mirroring
// the teacher's client/audio.go ListOutputDevices helper.
func ListOutputDevices() ([]string, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, d := range devices {
		if d.MaxOutputChannels > 0 {
			names = append(names, d.Name)
		}
	}
	return names, nil
}

// Initialize and Terminate wrap portaudio's global library lifecycle. A
// host must call Initialize once before constructing any Output and
// Terminate once at shutdown, matching PortAudio's own API contract.
func Initialize() error { return portaudio.Initialize() }
func Terminate() error  { return portaudio.Terminate() }
