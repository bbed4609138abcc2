package relay

import (
	"testing"

	"github.com/sony/gobreaker"

	"github.com/synctv-org/synctv-core/internal/streamhub"
)

func TestBreakerStateValue(t *testing.T) {
	cases := []struct {
		state gobreaker.State
		want  float64
	}{
		{gobreaker.StateClosed, 0},
		{gobreaker.StateOpen, 1},
		{gobreaker.StateHalfOpen, 2},
	}
	for _, tc := range cases {
		if got := breakerStateValue(tc.state); got != tc.want {
			t.Errorf("breakerStateValue(%v) = %v, want %v", tc.state, got, tc.want)
		}
	}
}

func TestTypeIDFor(t *testing.T) {
	if typeIDFor(streamhub.FrameVideo) != 9 {
		t.Errorf("expected video type id 9")
	}
	if typeIDFor(streamhub.FrameAudio) != 8 {
		t.Errorf("expected audio type id 8")
	}
}
