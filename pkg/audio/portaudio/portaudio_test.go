package portaudio

import (
	"errors"
	"testing"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/huddle/pkg/audio"
)

func TestClassifyOpenError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"alsa eacces", errors.New("Unanticipated host error: Permission denied"), audio.ErrPermissionDenied},
		{"coreaudio", errors.New("Operation not permitted"), audio.ErrPermissionDenied},
		{"wasapi", errors.New("Access is denied."), audio.ErrPermissionDenied},
		{"device busy", portaudio.DeviceUnavailable, audio.ErrDeviceUnavailable},
		{"bad rate", portaudio.InvalidSampleRate, audio.ErrDeviceUnavailable},
		{"unknown", errors.New("Internal PortAudio error"), audio.ErrDeviceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := classifyOpenError(tt.err); got != tt.want {
				t.Errorf("classifyOpenError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
