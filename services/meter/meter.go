// Package meter turns 16-bit stereo PCM into a loudness reading in dBFS.
package meter

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync/atomic"
	"time"
)

const (
	// Floor is reported before the first sample and for silent input.
	Floor = -60.0

	fullScale = 32767.0
	// readBytes matches one microphone DMA buffer: 256 stereo frames.
	readBytes = 1024
	// frameBytes is one s16 stereo frame.
	frameBytes = 4
)

// DBFS computes 20*log10(rms/32767) over the left channel of interleaved
// stereo samples. RMS is floored at 1 so silence yields about -90.3 dBFS.
func DBFS(interleaved []int16) (float64, bool) {
	frames := len(interleaved) / 2
	if frames == 0 {
		return 0, false
	}
	var sum float64
	for i := 0; i < frames; i++ {
		v := float64(interleaved[i*2])
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(frames))
	if rms < 1 {
		rms = 1
	}
	return 20 * math.Log10(rms/fullScale), true
}

// Meter samples a PCM source and keeps the latest level.
type Meter struct {
	src   io.Reader
	log   *slog.Logger
	buf   [readBytes]byte
	pcm   [readBytes / 2]int16
	carry int // bytes of a partial frame kept at the front of buf
	level atomic.Uint64
}

// New reads little-endian s16 stereo from src. A nil src leaves the level
// at Floor.
func New(src io.Reader, log *slog.Logger) *Meter {
	if log == nil {
		log = slog.Default()
	}
	m := &Meter{src: src, log: log.With("svc", "meter")}
	m.level.Store(math.Float64bits(Floor))
	return m
}

func (m *Meter) DBFS() float64 { return math.Float64frombits(m.level.Load()) }

// Sample reads one buffer and updates the level. A partial frame left by a
// short read is kept and completed by the next one.
func (m *Meter) Sample() error {
	if m.src == nil {
		return nil
	}
	n, err := m.src.Read(m.buf[m.carry:])
	total := m.carry + n
	whole := total - total%frameBytes
	if whole > 0 {
		for i := 0; i < whole/2; i++ {
			m.pcm[i] = int16(binary.LittleEndian.Uint16(m.buf[i*2:]))
		}
		if db, ok := DBFS(m.pcm[:whole/2]); ok {
			m.level.Store(math.Float64bits(db))
		}
	}
	m.carry = copy(m.buf[:], m.buf[whole:total])
	return err
}

// Run samples every interval until ctx ends or the source is exhausted.
func (m *Meter) Run(ctx context.Context, every time.Duration) {
	if m.src == nil {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := m.Sample(); err != nil {
				if errors.Is(err, io.EOF) {
					m.log.Info("pcm source ended", "last_dbfs", m.DBFS())
				} else {
					m.log.Warn("pcm read failed", "err", err)
				}
				return
			}
		}
	}
}
