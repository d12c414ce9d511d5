package hal

import (
	"fmt"
	"log/slog"

	"github.com/veandco/go-sdl2/sdl"
)

const (
	toneSampleRate = 44100
	toneFrequency  = 440
	toneAmplitude  = 32

	toneDeviceSamples = 512
)

// tone plays a square wave through a queued SDL audio device.
type tone struct {
	id      sdl.AudioDeviceID
	wave    []uint8
	playing bool
}

func newTone() (*tone, error) {
	spec := &sdl.AudioSpec{
		Freq:     toneSampleRate,
		Format:   sdl.AUDIO_U8,
		Channels: 1,
		Samples:  toneDeviceSamples,
	}

	var actualSpec sdl.AudioSpec
	id, err := sdl.OpenAudioDevice("", false, spec, &actualSpec, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open sdl audio device: %w", err)
	}
	slog.Debug("hal: open audio", "freq", actualSpec.Freq, "silence", actualSpec.Silence)

	// a tenth of a second per refill
	n := int(actualSpec.Freq) / 10
	t := &tone{
		id:   id,
		wave: squareWave(int(actualSpec.Freq), toneFrequency, actualSpec.Silence, n),
	}

	sdl.PauseAudioDevice(id, false)
	return t, nil
}

func squareWave(sampleRate, frequency int, silence uint8, n int) []uint8 {
	period := sampleRate / frequency
	wave := make([]uint8, n)
	for i := range wave {
		if i%period < period/2 {
			wave[i] = silence + toneAmplitude
		} else {
			wave[i] = silence - toneAmplitude
		}
	}
	return wave
}

func (t *tone) start() error {
	t.playing = true
	sdl.ClearQueuedAudio(t.id)
	return sdl.QueueAudio(t.id, t.wave)
}

func (t *tone) stop() {
	t.playing = false
	sdl.ClearQueuedAudio(t.id)
}

// refill keeps the queue from running dry while the tone is on.
func (t *tone) refill() error {
	if !t.playing || sdl.GetQueuedAudioSize(t.id) >= uint32(len(t.wave)) {
		return nil
	}
	return sdl.QueueAudio(t.id, t.wave)
}

func (t *tone) close() {
	t.stop()
	sdl.CloseAudioDevice(t.id)
}
