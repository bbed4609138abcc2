package chunk

import "testing"

func TestIsKeyframeVideoTag(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
		want    bool
	}{
		{"empty", nil, false},
		{"keyframe avc", []byte{0x17, 0x01}, true},
		{"interframe avc", []byte{0x27, 0x01}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsKeyframeVideoTag(tc.payload); got != tc.want {
				t.Errorf("IsKeyframeVideoTag(%v) = %v, want %v", tc.payload, got, tc.want)
			}
		})
	}
}

func TestIsSequenceHeaderTag(t *testing.T) {
	cases := []struct {
		name    string
		typeID  uint8
		payload []byte
		want    bool
	}{
		{"video too short", TypeVideo, []byte{0x17}, false},
		{"avc sequence header", TypeVideo, []byte{0x17, 0x00, 0x00}, true},
		{"avc nalu", TypeVideo, []byte{0x17, 0x01, 0x00}, false},
		{"non-avc codec", TypeVideo, []byte{0x12, 0x00}, false},
		{"audio too short", TypeAudio, []byte{0xAF}, false},
		{"aac sequence header", TypeAudio, []byte{0xAF, 0x00}, true},
		{"aac raw frame", TypeAudio, []byte{0xAF, 0x01}, false},
		{"non-aac format", TypeAudio, []byte{0x2F, 0x00}, false},
		{"other type id", TypeCommandAMF0, []byte{0x00, 0x00}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsSequenceHeaderTag(tc.typeID, tc.payload); got != tc.want {
				t.Errorf("IsSequenceHeaderTag(%d, %v) = %v, want %v", tc.typeID, tc.payload, got, tc.want)
			}
		})
	}
}
