package speech

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"modsy/internal/ports"
)

const defaultChunkSize = 4096

// pumpAudioChunks copies microphone PCM into the provider stream until the
// capture ends. Read or send failures are passed to onErr; io.EOF and a
// closed capture are a clean end.
func pumpAudioChunks(
	audio ports.AudioSession,
	stream ports.StreamingSession,
	chunkSize int,
	onErr func(code string, err error),
	done chan struct{},
) {
	defer close(done)

	if chunkSize < 256 {
		chunkSize = defaultChunkSize
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			if sendErr := stream.SendAudio(buf[:n]); sendErr != nil {
				onErr("audio_send", fmt.Errorf("failed to stream audio: %w", sendErr))
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, fs.ErrClosed) {
				onErr("audio_capture", fmt.Errorf("audio capture error: %w", err))
			}
			return
		}
	}
}

func waitForStream(session ports.StreamingSession, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = session.Close()
		return <-done
	}
}
