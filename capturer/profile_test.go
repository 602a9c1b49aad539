package capturer

import (
	"strings"
	"testing"
)

func mustParse(t *testing.T, text string) *Profile {
	t.Helper()
	p, err := ParseProfile(strings.NewReader(text))
	if err != nil {
		t.Fatalf("ParseProfile: %v", err)
	}
	return p
}

func TestParseProfileDefaults(t *testing.T) {
	p := mustParse(t, "")
	if p.FPS != 60 || p.VideoEncoder != "libx264" || p.X264CRF != 23 || p.X264Preset != "veryfast" {
		t.Errorf("unexpected defaults: %+v", p)
	}
	if p.MosampleEnabled || p.AudioEnabled || p.VelocEnabled {
		t.Errorf("features should default off: %+v", p)
	}
}

func TestParseProfileFull(t *testing.T) {
	p := mustParse(t, `
# capture profile
video_fps = 120
video_encoder = dnxhr
video_dnxhr_profile = hqx

motion_blur_enabled = 1
motion_blur_fps_mult = 4
motion_blur_frame_exposure = 0.25

audio_enabled = 1
audio_encoder = aac

velocity_overlay_enabled = 1
velocity_overlay_font_family = LiberationSans
velocity_overlay_font_size = 72
velocity_overlay_color_r = 255
velocity_overlay_color_g = 200
velocity_overlay_color_b = 0
velocity_overlay_align_y = 60
`)
	if p.FPS != 120 || p.VideoEncoder != "dnxhr" || p.DnxhrProfile != "hqx" {
		t.Errorf("video keys: %+v", p)
	}
	if !p.MosampleEnabled || p.MosampleMult != 4 || p.MosampleExposure != 0.25 {
		t.Errorf("mosample keys: %+v", p)
	}
	if !p.VelocEnabled || p.VelocFontSize != 72 || p.VelocColor != [4]uint8{255, 200, 0, 255} {
		t.Errorf("overlay keys: %+v", p)
	}
	if p.GameRate() != 480 {
		t.Errorf("GameRate = %d, want 480", p.GameRate())
	}
}

func TestParseProfileRejects(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{"mult one with blur on", "motion_blur_enabled=1\nmotion_blur_fps_mult=1\n", "motion_blur_fps_mult"},
		{"exposure zero", "motion_blur_enabled=1\nmotion_blur_fps_mult=2\nmotion_blur_frame_exposure=0\n", "frame_exposure"},
		{"exposure above one", "motion_blur_enabled=1\nmotion_blur_fps_mult=2\nmotion_blur_frame_exposure=1.5\n", "frame_exposure"},
		{"crf out of range", "video_x264_crf=52\n", "crf"},
		{"bad preset", "video_x264_preset=warp9\n", "preset"},
		{"unknown encoder", "video_encoder=librav1e\n", "video_encoder"},
		{"x264 with bgr0", "video_encoder=libx264\nvideo_pixel_format=bgr0\n", "bgr0"},
		{"x264rgb without bgr0", "video_encoder=libx264rgb\nvideo_pixel_format=yuv420p\n", "bgr0"},
		{"dnxhr wrong format", "video_encoder=dnxhr\nvideo_pixel_format=yuv444p\n", "yuv422p"},
		{"dnxhr 444 wrong format", "video_encoder=dnxhr\nvideo_dnxhr_profile=444\nvideo_pixel_format=yuv422p\n", "yuv444p"},
		{"bad dnxhr profile", "video_encoder=dnxhr\nvideo_dnxhr_profile=uhq\n", "dnxhr"},
		{"not key value", "video_fps\n", "key=value"},
		{"fps zero", "video_fps=0\n", "video_fps"},
	}

	for _, tc := range cases {
		_, err := ParseProfile(strings.NewReader(tc.text))
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: error %q does not mention %q", tc.name, err, tc.want)
		}
	}
}

func TestGameRateWithoutBlur(t *testing.T) {
	p := mustParse(t, "video_fps=60\nmotion_blur_fps_mult=8\n")
	if p.GameRate() != 60 {
		t.Errorf("GameRate = %d, want 60 (blur disabled ignores mult)", p.GameRate())
	}
}
