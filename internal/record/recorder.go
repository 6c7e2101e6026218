// SPDX-License-Identifier: MIT

// Package record writes an input stream to a WAV file.
package record

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"daq/internal/daq"
	applog "daq/internal/log"
)

const wavFormatPCM = 1

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

// Attacher subscribes queues to input stream messages.
type Attacher interface {
	AddInQueue(q *daq.InQueue)
}

// Recorder records one stream generation: from the first Started message
// it sees until the stream stops, the maximum duration is reached or Stop
// is called.
//
// Integer streams keep their bit depth (8 bit samples are stored
// unsigned, as WAV requires). Float streams are stored as 32 bit PCM.
// Blocks missing from the stream are written as silence so the file keeps
// its timing.
type Recorder struct {
	dir         string
	maxDuration time.Duration

	mu    sync.Mutex
	queue *daq.InQueue
	stop  chan struct{}
	done  chan struct{}

	// recording goroutine only, read after done is closed
	meta      *daq.StreamMetadata
	file      *os.File
	enc       *wav.Encoder
	buf       *audio.IntBuffer
	ctr       daq.CtrTracker
	frames    int
	lost      int
	maxFrames int
	path      string
	err       error
}

type Option func(*Recorder)

// WithMaxDuration ends the recording after d of audio. Zero means no limit.
func WithMaxDuration(d time.Duration) Option {
	return func(r *Recorder) { r.maxDuration = d }
}

// NewRecorder returns a recorder writing files into dir.
func NewRecorder(dir string, opts ...Option) *Recorder {
	r := &Recorder{dir: dir}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start attaches a queue to att and records the next stream generation.
func (r *Recorder) Start(att Attacher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queue != nil {
		return ErrAlreadyRecording
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("creating recording directory: %w", err)
	}

	r.meta, r.file, r.enc, r.buf = nil, nil, nil, nil
	r.frames, r.lost, r.maxFrames, r.path, r.err = 0, 0, 0, "", nil
	r.ctr.Reset()
	r.queue = daq.NewInQueue(daq.DefaultQueueCapacity)
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	att.AddInQueue(r.queue)
	go r.run(r.queue, r.stop, r.done)
	return nil
}

// Done is closed when the recording has ended on its own or after Stop.
// It is nil before Start.
func (r *Recorder) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Stop ends the recording, finalizes the file and returns its path. The
// path is empty if no stream started while recording.
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queue == nil {
		return "", ErrNotRecording
	}
	close(r.stop)
	<-r.done
	r.queue.Close()
	r.queue = nil
	return r.path, r.err
}

func (r *Recorder) run(q *daq.InQueue, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer q.Close()
	defer r.finish()
	for {
		select {
		case <-stop:
			return
		case msg := <-q.Messages():
			if !r.handle(msg) {
				return
			}
		}
	}
}

// handle processes one message and reports whether recording continues.
func (r *Recorder) handle(msg daq.InStreamMsg) bool {
	switch m := msg.(type) {
	case daq.StreamStarted:
		if r.meta != nil {
			// A new generation ends the current file.
			return false
		}
		if err := r.open(m.Meta); err != nil {
			r.err = err
			return false
		}
	case daq.StreamData:
		if r.meta == nil || m.Meta != r.meta {
			return true
		}
		if missed := r.ctr.Observe(m.Ctr); missed > 0 {
			applog.Warnf("Recorder: %d block(s) missing before block %d, writing silence", missed, m.Ctr)
			if err := r.writeSilence(int(missed) * r.meta.FramesPerBlock); err != nil {
				r.err = err
				return false
			}
			if r.maxFrames > 0 && r.frames >= r.maxFrames {
				return false
			}
		}
		if err := r.write(m.Block); err != nil {
			r.err = err
			return false
		}
		return r.maxFrames == 0 || r.frames < r.maxFrames
	case daq.StreamStopped:
		return r.meta == nil
	case daq.StreamError:
		applog.Warnf("Recorder: stream error %v while recording", m.Kind)
	}
	return true
}

func bitDepth(dt daq.DataType) int {
	switch dt {
	case daq.I8:
		return 8
	case daq.I16:
		return 16
	default:
		return 32
	}
}

func (r *Recorder) open(meta *daq.StreamMetadata) error {
	name := fmt.Sprintf("rec_%s_%s.wav", time.Now().Format("20060102-150405"), meta.ID.String()[:8])
	path := filepath.Join(r.dir, name)
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating recording file: %w", err)
	}

	fs := int(math.Round(meta.SampleRate))
	nch := meta.NChannels()
	r.meta = meta
	r.file = file
	r.path = path
	r.enc = wav.NewEncoder(file, fs, bitDepth(meta.DataType), nch, wavFormatPCM)
	r.buf = &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: nch, SampleRate: fs},
		Data:           make([]int, meta.FramesPerBlock*nch),
		SourceBitDepth: bitDepth(meta.DataType),
	}
	if r.maxDuration > 0 {
		r.maxFrames = int(r.maxDuration.Seconds() * meta.SampleRate)
	}
	applog.Infof("Recorder: recording %d channels at %d Hz to %s", nch, fs, path)
	return nil
}

func (r *Recorder) write(blk daq.SampleBlock) error {
	nch := r.meta.NChannels()
	frames := blk.NFrames()
	if r.maxFrames > 0 {
		frames = min(frames, r.maxFrames-r.frames)
	}
	n := frames * nch
	if cap(r.buf.Data) < n {
		r.buf.Data = make([]int, n)
	}
	r.buf.Data = r.buf.Data[:n]
	toPCM(r.buf.Data, blk)

	if err := r.enc.Write(r.buf); err != nil {
		return fmt.Errorf("writing WAV data: %w", err)
	}
	r.frames += frames
	return nil
}

// writeSilence fills frames missing from the stream with the PCM zero
// level, in blocks of the stream's size.
func (r *Recorder) writeSilence(frames int) error {
	nch := r.meta.NChannels()
	zero := 0
	if r.meta.DataType == daq.I8 {
		zero = 128
	}
	for frames > 0 {
		n := min(frames, r.meta.FramesPerBlock)
		if r.maxFrames > 0 {
			n = min(n, r.maxFrames-r.frames)
		}
		if n <= 0 {
			return nil
		}
		r.buf.Data = r.buf.Data[:n*nch]
		for i := range r.buf.Data {
			r.buf.Data[i] = zero
		}
		if err := r.enc.Write(r.buf); err != nil {
			return fmt.Errorf("writing WAV data: %w", err)
		}
		r.frames += n
		r.lost += n
		frames -= n
	}
	return nil
}

// toPCM converts the first len(dst) interleaved samples of blk to the
// integer values the WAV encoder writes.
func toPCM(dst []int, blk daq.SampleBlock) {
	switch b := blk.(type) {
	case *daq.Block[int8]:
		for i := range dst {
			dst[i] = int(b.Data()[i]) + 128
		}
	case *daq.Block[int16]:
		for i := range dst {
			dst[i] = int(b.Data()[i])
		}
	case *daq.Block[int32]:
		for i := range dst {
			dst[i] = int(b.Data()[i])
		}
	case *daq.Block[float32]:
		for i := range dst {
			dst[i] = floatToPCM32(float64(b.Data()[i]))
		}
	case *daq.Block[float64]:
		for i := range dst {
			dst[i] = floatToPCM32(b.Data()[i])
		}
	}
}

func floatToPCM32(v float64) int {
	v = max(-1, min(1, v))
	return int(math.Round(v * math.MaxInt32))
}

// finish finalizes the WAV header and closes the file.
func (r *Recorder) finish() {
	if r.enc == nil {
		return
	}
	if r.frames == 0 {
		// The header is only written with the first buffer.
		r.buf.Data = r.buf.Data[:0]
		if err := r.enc.Write(r.buf); err != nil && r.err == nil {
			r.err = fmt.Errorf("writing WAV header: %w", err)
		}
	}
	if err := r.enc.Close(); err != nil && r.err == nil {
		r.err = fmt.Errorf("finalizing WAV file: %w", err)
	}
	if err := r.file.Close(); err != nil && r.err == nil {
		r.err = fmt.Errorf("closing WAV file: %w", err)
	}
	if r.lost > 0 {
		applog.Warnf("Recorder: %d of %d frames in %s are silence for missing blocks", r.lost, r.frames, r.path)
	}
	applog.Infof("Recorder: wrote %d frames to %s", r.frames, r.path)
	r.enc = nil
	r.file = nil
}
