package sink

import (
	"os"
	"os/exec"
	"strings"
	"sync"

	"codeberg.org/mutker/nvidiamon/internal/alert"
	"codeberg.org/mutker/nvidiamon/internal/logger"
)

// Player plays one audio file. Kept as a function so tests can stub
// the actual audio path.
type Player func(path string) error

// CommandPlayer plays a WAV file through the first available command
// line player, detached from the caller.
func CommandPlayer(path string) error {
	player, err := exec.LookPath("aplay")
	if err != nil {
		if player, err = exec.LookPath("paplay"); err != nil {
			return err
		}
	}

	cmd := exec.Command(player, path)
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()

	return nil
}

// SoundSink plays an audible alert on every raised event. The sound
// file is validated lazily on first use; an invalid file disables the
// sink with a warning instead of failing the pipeline. Configure
// applies reloaded sound options at runtime.
type SoundSink struct {
	player Player

	mu        sync.Mutex
	file      string
	enabled   bool
	validated bool
	disabled  bool
}

func NewSoundSink(file string, enabled bool, player Player) *SoundSink {
	if player == nil {
		player = CommandPlayer
	}

	return &SoundSink{
		file:    file,
		enabled: enabled,
		player:  player,
	}
}

// Configure applies updated sound options. A changed file or a fresh
// enable re-arms validation, so fixing the path in the config file
// recovers a sink that had disabled itself.
func (s *SoundSink) Configure(file string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if file != s.file || (enabled && !s.enabled) {
		s.validated = false
		s.disabled = false
	}
	s.file = file
	s.enabled = enabled
}

func (s *SoundSink) Handle(event alert.Event) {
	if event.Kind != alert.EventRaised {
		return
	}

	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}

	if !s.validated {
		s.validate()
		s.validated = true
	}

	if s.disabled {
		s.mu.Unlock()
		return
	}
	file := s.file
	s.mu.Unlock()

	if err := s.player(file); err != nil {
		logger.Warn().Err(err).Str("file", file).Msg("Sound playback failed")
	}
}

// validate runs with the mutex held
func (s *SoundSink) validate() {
	if s.file == "" {
		logger.Warn().Msg("Sound alerts enabled but no sound file configured, disabling sound")
		s.disabled = true
		return
	}

	if !strings.HasSuffix(strings.ToLower(s.file), ".wav") {
		logger.Warn().Str("file", s.file).Msg("Sound file is not a WAV file, disabling sound")
		s.disabled = true
		return
	}

	if _, err := os.Stat(s.file); err != nil {
		logger.Warn().Err(err).Str("file", s.file).Msg("Sound file not readable, disabling sound")
		s.disabled = true
	}
}
