package playout

// PadSource provides synthetic black video and silence. Its buffers are
// built once per session and handed out by reference on every use, so pad
// ticks allocate nothing.
type PadSource struct {
	frame   []byte
	silence []byte
	format  AudioFormat
}

// maxPadSamplesPerTick bounds the pre-built silence buffer. 48kHz at 23.976
// fps needs just over 2002 samples per tick; one second covers any sane
// rate with a wide margin.
const maxPadSilenceMs = 1000

// NewPadSource builds the pad buffers for the given raster and audio
// format. The video frame is YUV 4:2:0: luma at 0x10, chroma at 0x80
// (studio-range black).
func NewPadSource(width, height int, format AudioFormat) *PadSource {
	lumaSize := width * height
	chromaSize := (width / 2) * (height / 2)
	frame := make([]byte, lumaSize+2*chromaSize)
	for i := 0; i < lumaSize; i++ {
		frame[i] = 0x10
	}
	for i := lumaSize; i < len(frame); i++ {
		frame[i] = 0x80
	}

	return &PadSource{
		frame:   frame,
		silence: make([]byte, format.BytesForMillis(maxPadSilenceMs)),
		format:  format,
	}
}

// Frame returns the pad video frame. Callers must not mutate it.
func (p *PadSource) Frame() []byte {
	return p.frame
}

// Silence returns a slice holding n samples of silence without copying.
// n beyond one second of audio panics; per-tick requests are far below
// that.
func (p *PadSource) Silence(n int) []byte {
	size := n * p.format.BytesPerSample()
	if size > len(p.silence) {
		panic("playout: pad silence request exceeds pre-built buffer")
	}
	return p.silence[:size]
}
