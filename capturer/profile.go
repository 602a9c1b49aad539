package capturer

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Profile is the validated knob set one movie runs under. Fields come from a
// flat key=value file; everything the accumulator, overlay and encoder
// consult is resolved and checked once at movie start.
type Profile struct {
	FPS          int
	VideoEncoder string
	X264CRF      int
	X264Preset   string
	X264Intra    bool
	DnxhrProfile string
	// PixelFormat is only checked against VideoEncoder in Validate; it is
	// not passed to the Encoder, which always converts to the codec table's
	// preferred format.
	PixelFormat string

	AudioEnabled bool
	AudioEncoder string

	MosampleEnabled  bool
	MosampleMult     int
	MosampleExposure float64

	VelocEnabled     bool
	VelocFontFamily  string
	VelocFontSize    int
	VelocFontStyle   string
	VelocFontWeight  string
	VelocFontStretch string
	VelocColor       [4]uint8
	VelocBorderColor [4]uint8
	VelocBorderSize  int
	VelocAlignX      int // percent, center-relative
	VelocAlignY      int
	VelocPadding     int
}

var x264Presets = map[string]bool{
	"ultrafast": true, "superfast": true, "veryfast": true, "faster": true,
	"fast": true, "medium": true, "slow": true, "slower": true,
	"veryslow": true, "placebo": true,
}

var dnxhrProfiles = map[string]bool{
	"lb": true, "sq": true, "hq": true, "hqx": true, "444": true,
}

func defaultProfile() Profile {
	return Profile{
		FPS:              60,
		VideoEncoder:     "libx264",
		X264CRF:          23,
		X264Preset:       "veryfast",
		DnxhrProfile:     "hq",
		AudioEncoder:     "aac",
		MosampleMult:     1,
		MosampleExposure: 0.5,
		VelocFontFamily:  "DejaVuSans",
		VelocFontSize:    48,
		VelocFontStyle:   "normal",
		VelocFontWeight:  "normal",
		VelocFontStretch: "normal",
		VelocColor:       [4]uint8{255, 255, 255, 255},
		VelocBorderColor: [4]uint8{0, 0, 0, 255},
		VelocAlignY:      80,
	}
}

// LoadProfile reads path, applies its keys over the defaults and validates.
func LoadProfile(path string) (*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	defer f.Close()
	return ParseProfile(f)
}

// ParseProfile reads the flat key=value format: one pair per line, # starts
// a comment, unknown keys are ignored so profiles stay forward-compatible.
func ParseProfile(r io.Reader) (*Profile, error) {
	p := defaultProfile()

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("profile: line %d: expected key=value", lineNo)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if err := p.set(key, value); err != nil {
			return nil, fmt.Errorf("profile: line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Profile) set(key, value string) error {
	atoi := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("%s: %q is not an integer", key, value)
		}
		return n, nil
	}
	atob := func() (bool, error) {
		switch value {
		case "0":
			return false, nil
		case "1":
			return true, nil
		}
		return false, fmt.Errorf("%s: %q is not 0 or 1", key, value)
	}
	atoc := func(dst *uint8) error {
		n, err := atoi()
		if err != nil {
			return err
		}
		if n < 0 || n > 255 {
			return fmt.Errorf("%s: %d out of range 0..255", key, n)
		}
		*dst = uint8(n)
		return nil
	}

	var err error
	switch key {
	case "video_fps":
		p.FPS, err = atoi()
	case "video_encoder":
		p.VideoEncoder = value
	case "video_x264_crf":
		p.X264CRF, err = atoi()
	case "video_x264_preset":
		p.X264Preset = value
	case "video_x264_intra":
		p.X264Intra, err = atob()
	case "video_dnxhr_profile":
		p.DnxhrProfile = value
	case "video_pixel_format":
		p.PixelFormat = value
	case "audio_enabled":
		p.AudioEnabled, err = atob()
	case "audio_encoder":
		p.AudioEncoder = value
	case "motion_blur_enabled":
		p.MosampleEnabled, err = atob()
	case "motion_blur_fps_mult":
		p.MosampleMult, err = atoi()
	case "motion_blur_frame_exposure":
		p.MosampleExposure, err = strconv.ParseFloat(value, 64)
		if err != nil {
			err = fmt.Errorf("%s: %q is not a number", key, value)
		}
	case "velocity_overlay_enabled":
		p.VelocEnabled, err = atob()
	case "velocity_overlay_font_family":
		p.VelocFontFamily = value
	case "velocity_overlay_font_size":
		p.VelocFontSize, err = atoi()
	case "velocity_overlay_font_style":
		p.VelocFontStyle = value
	case "velocity_overlay_font_weight":
		p.VelocFontWeight = value
	case "velocity_overlay_font_stretch":
		p.VelocFontStretch = value
	case "velocity_overlay_color_r":
		err = atoc(&p.VelocColor[0])
	case "velocity_overlay_color_g":
		err = atoc(&p.VelocColor[1])
	case "velocity_overlay_color_b":
		err = atoc(&p.VelocColor[2])
	case "velocity_overlay_color_a":
		err = atoc(&p.VelocColor[3])
	case "velocity_overlay_border_color_r":
		err = atoc(&p.VelocBorderColor[0])
	case "velocity_overlay_border_color_g":
		err = atoc(&p.VelocBorderColor[1])
	case "velocity_overlay_border_color_b":
		err = atoc(&p.VelocBorderColor[2])
	case "velocity_overlay_border_color_a":
		err = atoc(&p.VelocBorderColor[3])
	case "velocity_overlay_border_size":
		p.VelocBorderSize, err = atoi()
	case "velocity_overlay_align_x":
		p.VelocAlignX, err = atoi()
	case "velocity_overlay_align_y":
		p.VelocAlignY, err = atoi()
	case "velocity_overlay_padding":
		p.VelocPadding, err = atoi()
	}
	return err
}

// Validate enforces the combinations a movie cannot start with.
func (p *Profile) Validate() error {
	if p.FPS < 1 {
		return fmt.Errorf("profile: video_fps must be at least 1, got %d", p.FPS)
	}

	switch p.VideoEncoder {
	case "libx264", "libx264rgb", "dnxhr":
	default:
		return fmt.Errorf("profile: unknown video_encoder %q", p.VideoEncoder)
	}

	if p.X264CRF < 0 || p.X264CRF > 51 {
		return fmt.Errorf("profile: video_x264_crf %d out of range 0..51", p.X264CRF)
	}
	if !x264Presets[p.X264Preset] {
		return fmt.Errorf("profile: unknown video_x264_preset %q", p.X264Preset)
	}
	if p.VideoEncoder == "dnxhr" && !dnxhrProfiles[p.DnxhrProfile] {
		return fmt.Errorf("profile: unknown video_dnxhr_profile %q", p.DnxhrProfile)
	}

	// x264 takes YUV only; x264rgb takes BGR0 only; DNxHR takes yuv422p
	// (yuv444p for the 444 sub-profile).
	if p.PixelFormat != "" {
		switch p.VideoEncoder {
		case "libx264":
			if p.PixelFormat == "bgr0" {
				return fmt.Errorf("profile: %s cannot encode bgr0; use libx264rgb for RGB output", p.VideoEncoder)
			}
		case "libx264rgb":
			if p.PixelFormat != "bgr0" {
				return fmt.Errorf("profile: libx264rgb requires bgr0, got %q", p.PixelFormat)
			}
		case "dnxhr":
			want := "yuv422p"
			if p.DnxhrProfile == "444" {
				want = "yuv444p"
			}
			if p.PixelFormat != want {
				return fmt.Errorf("profile: dnxhr profile %q requires %s, got %q", p.DnxhrProfile, want, p.PixelFormat)
			}
		}
	}

	if p.MosampleEnabled && p.MosampleMult == 1 {
		return fmt.Errorf("profile: motion_blur_fps_mult must be at least 2 when motion blur is enabled")
	}
	if p.MosampleMult < 1 {
		return fmt.Errorf("profile: motion_blur_fps_mult must be at least 1, got %d", p.MosampleMult)
	}
	if p.MosampleEnabled {
		if p.MosampleExposure <= 0 || p.MosampleExposure > 1 || math.IsNaN(p.MosampleExposure) {
			return fmt.Errorf("profile: motion_blur_frame_exposure must be in (0, 1], got %g", p.MosampleExposure)
		}
	}

	if p.VelocEnabled && p.VelocFontSize < 1 {
		return fmt.Errorf("profile: velocity_overlay_font_size must be at least 1, got %d", p.VelocFontSize)
	}

	return nil
}

// GameRate is the engine frame rate the host must run at: output fps times
// the motion-blur multiplier.
func (p *Profile) GameRate() int {
	if p.MosampleEnabled {
		return p.FPS * p.MosampleMult
	}
	return p.FPS
}
