package sink

import (
	"context"
	"fmt"
	"io"

	"github.com/asticode/go-astits"

	"github.com/jmylchreest/playoutd/internal/playout"
	"github.com/jmylchreest/playoutd/internal/timing"
)

// PES stream IDs: private_stream_1 carries the raw essence.
const (
	streamIDVideo = 0xE0
	streamIDAudio = 0xBD
)

// TSConfig configures the transport stream writer.
type TSConfig struct {
	VideoPID uint16
	AudioPID uint16
	// FPS determines the session PTS timescale (FPS.Num ticks per second)
	// that incoming timestamps are rescaled from.
	FPS timing.Rational
}

// TS packetizes session output into single-program MPEG-TS. The engine's
// rational-exact PTS values are rescaled to the 90kHz transport clock at
// this boundary and nowhere earlier. Frames are written as private-data
// elementary streams; this is an essence carrier for downstream encoders,
// not a broadcast-ready mux.
type TS struct {
	mux       *astits.Muxer
	cfg       TSConfig
	timescale int64
}

// NewTS creates a transport stream sink writing to w.
func NewTS(w io.Writer, cfg TSConfig) (*TS, error) {
	if err := cfg.FPS.Validate(); err != nil {
		return nil, fmt.Errorf("ts sink fps: %w", err)
	}
	if cfg.VideoPID == cfg.AudioPID {
		return nil, fmt.Errorf("ts sink: video and audio PIDs collide at %d", cfg.VideoPID)
	}

	mux := astits.NewMuxer(context.Background(), w)
	for _, pid := range []uint16{cfg.VideoPID, cfg.AudioPID} {
		if err := mux.AddElementaryStream(astits.PMTElementaryStream{
			ElementaryPID: pid,
			StreamType:    astits.StreamTypePrivateData,
		}); err != nil {
			return nil, fmt.Errorf("ts sink: adding elementary stream %d: %w", pid, err)
		}
	}
	mux.SetPCRPID(cfg.VideoPID)

	return &TS{mux: mux, cfg: cfg, timescale: cfg.FPS.Num}, nil
}

// pts90 rescales a session-timescale PTS to the 90kHz transport clock.
// Exact for broadcast rates (90000 is divisible by fps_num/fps_den for all
// of them); truncates otherwise.
func (s *TS) pts90(pts int64) int64 {
	return pts * 90000 / s.timescale
}

func (s *TS) WriteFrame(f playout.OutFrame) error {
	base := s.pts90(f.PTS)
	_, err := s.mux.WriteData(&astits.MuxerData{
		PID: s.cfg.VideoPID,
		AdaptationField: &astits.PacketAdaptationField{
			HasPCR:                true,
			PCR:                   &astits.ClockReference{Base: base},
			RandomAccessIndicator: true,
		},
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				StreamID: streamIDVideo,
				OptionalHeader: &astits.PESOptionalHeader{
					PTSDTSIndicator: astits.PTSDTSIndicatorOnlyPTS,
					PTS:             &astits.ClockReference{Base: base},
				},
			},
			Data: f.Data,
		},
	})
	if err != nil {
		return fmt.Errorf("ts sink: writing frame %d: %w", f.FrameIndex, err)
	}
	return nil
}

func (s *TS) WriteAudio(a playout.OutAudio) error {
	_, err := s.mux.WriteData(&astits.MuxerData{
		PID: s.cfg.AudioPID,
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				StreamID: streamIDAudio,
				OptionalHeader: &astits.PESOptionalHeader{
					PTSDTSIndicator: astits.PTSDTSIndicatorOnlyPTS,
					PTS:             &astits.ClockReference{Base: s.pts90(a.PTS)},
				},
			},
			Data: a.Data,
		},
	})
	if err != nil {
		return fmt.Errorf("ts sink: writing audio: %w", err)
	}
	return nil
}
