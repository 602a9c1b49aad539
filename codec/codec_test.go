package codec

import "testing"

func TestLookupVideo(t *testing.T) {
	e, err := LookupVideo("libx264", "")
	if err != nil {
		t.Fatal(err)
	}
	if e.CodecName != "libx264" || e.Backend != "avcodec" {
		t.Errorf("libx264 entry: %+v", e)
	}

	e, err = LookupVideo("libx264rgb", "")
	if err != nil {
		t.Fatal(err)
	}
	if e.PreferredPixFmt != PixFmtBGR0 {
		t.Errorf("libx264rgb pix fmt = %v, want bgr0", e.PreferredPixFmt)
	}

	if _, err := LookupVideo("librav1e", ""); err == nil {
		t.Error("unknown encoder should fail")
	}
}

func TestLookupVideoDnxhrSubProfile(t *testing.T) {
	e, err := LookupVideo("dnxhr", "hq")
	if err != nil {
		t.Fatal(err)
	}
	if e.CodecName != "dnxhd" {
		t.Errorf("dnxhr codec = %q, want dnxhd", e.CodecName)
	}
	if e.PreferredPixFmt != PixFmtYUV422P {
		t.Errorf("dnxhr hq pix fmt = %v, want yuv422p", e.PreferredPixFmt)
	}

	// The 444 sub-profile is the one DNxHR variant that takes full-res chroma.
	e, err = LookupVideo("dnxhr", "444")
	if err != nil {
		t.Fatal(err)
	}
	if e.PreferredPixFmt != PixFmtYUV444P {
		t.Errorf("dnxhr 444 pix fmt = %v, want yuv444p", e.PreferredPixFmt)
	}

	// The override must not stick to the shared table.
	e, _ = LookupVideo("dnxhr", "lb")
	if e.PreferredPixFmt != PixFmtYUV422P {
		t.Errorf("dnxhr lb pix fmt = %v after a 444 lookup", e.PreferredPixFmt)
	}
}

func TestLookupAudio(t *testing.T) {
	e, err := LookupAudio("aac")
	if err != nil {
		t.Fatal(err)
	}
	if e.Backend != "avcodec" {
		t.Errorf("aac backend = %q", e.Backend)
	}

	if _, err := LookupAudio("opus"); err == nil {
		t.Error("unknown audio encoder should fail")
	}
}

func TestSetupFnDefaults(t *testing.T) {
	e, _ := LookupVideo("libx264", "")
	p := VideoParams{}
	e.SetupFn(&p)
	if p.Preset != "veryfast" {
		t.Errorf("empty preset should default to veryfast, got %q", p.Preset)
	}

	p = VideoParams{Preset: "slow"}
	e.SetupFn(&p)
	if p.Preset != "slow" {
		t.Errorf("explicit preset overridden to %q", p.Preset)
	}
}

func TestEveryTableEntryHasABackend(t *testing.T) {
	backends := Backends()
	for _, e := range VideoTable {
		if _, ok := backends[e.Backend]; !ok {
			t.Errorf("video entry %q names unknown backend %q", e.ProfileName, e.Backend)
		}
	}
	for _, e := range AudioTable {
		if _, ok := backends[e.Backend]; !ok {
			t.Errorf("audio entry %q names unknown backend %q", e.ProfileName, e.Backend)
		}
	}
}
