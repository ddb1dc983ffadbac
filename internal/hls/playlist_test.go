package hls

import (
	"errors"
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		variants []string
		segments []string
		init     string
		wantErr  error
	}{
		{
			name:     "master with one variant",
			body:     "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-STREAM-INF:BANDWIDTH=800000\nindex.m3u8\n",
			variants: []string{"index.m3u8"},
		},
		{
			name:     "variant with absolute URL",
			body:     "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1\nhttps://cdn.example.com/a/.hls/x/playlist.m3u8\n",
			variants: []string{"https://cdn.example.com/a/.hls/x/playlist.m3u8"},
		},
		{
			name:     "media playlist with ts segments and crlf",
			body:     "#EXTM3U\r\n#EXT-X-TARGETDURATION:8\r\n#EXTINF:8.0,\r\nseg_000.ts\r\n#EXTINF:8.0,\r\nseg_001.ts?token=1\r\n#EXT-X-ENDLIST\r\n",
			segments: []string{"seg_000.ts", "seg_001.ts?token=1"},
		},
		{
			name:     "fmp4 with init map",
			body:     "#EXTM3U\n#EXT-X-MAP:URI=\"init.mp4\"\n#EXTINF:8.0,\nseg_000.m4s\n",
			segments: []string{"seg_000.m4s"},
			init:     "init.mp4",
		},
		{
			name:     "mixed segment formats",
			body:     "#EXTM3U\n#EXTINF:8,\na.ts\n#EXTINF:8,\nb.M4S\n",
			segments: []string{"a.ts", "b.M4S"},
		},
		{
			name:     "leading blank lines and BOM",
			body:     "\ufeff\n\n#EXTM3U\n#EXTINF:8,\na.ts\n",
			segments: []string{"a.ts"},
		},
		{
			name:    "missing header",
			body:    "#EXT-X-VERSION:3\nindex.m3u8\n",
			wantErr: ErrNotPlaylist,
		},
		{
			name:    "empty body",
			body:    "",
			wantErr: ErrNotPlaylist,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse(tt.body)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(p.Variants, tt.variants) {
				t.Errorf("Variants = %v, want %v", p.Variants, tt.variants)
			}
			if !reflect.DeepEqual(p.Segments, tt.segments) {
				t.Errorf("Segments = %v, want %v", p.Segments, tt.segments)
			}
			if p.InitSegment != tt.init {
				t.Errorf("InitSegment = %q, want %q", p.InitSegment, tt.init)
			}
		})
	}
}

func TestAlias_RoundTrip(t *testing.T) {
	url := "https://cdn.example.com/courses/a1/.hls/intro-1a2b3c4d/playlist.m3u8"

	body := BuildAlias(url)
	got, err := AliasTarget(body)
	if err != nil {
		t.Fatalf("AliasTarget: %v", err)
	}
	if got != url {
		t.Errorf("target = %q, want %q", got, url)
	}

	p, err := Parse(body)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(p.Variants) != 1 || p.Variants[0] != url {
		t.Errorf("alias variants = %v", p.Variants)
	}
}

func TestAliasTarget_Errors(t *testing.T) {
	if _, err := AliasTarget("garbage"); !errors.Is(err, ErrNotPlaylist) {
		t.Errorf("err = %v, want ErrNotPlaylist", err)
	}
	if _, err := AliasTarget("#EXTM3U\n#EXT-X-VERSION:3\n"); err == nil {
		t.Error("expected error for alias without target")
	}
}

func TestBuildMaster(t *testing.T) {
	want := "#EXTM3U\n#EXT-X-VERSION:7\n#EXT-X-INDEPENDENT-SEGMENTS\n#EXT-X-STREAM-INF:BANDWIDTH=1500000\nindex.m3u8\n"
	if got := BuildMaster("index.m3u8", 1500000, 7); got != want {
		t.Errorf("BuildMaster =\n%s\nwant\n%s", got, want)
	}

	p, err := Parse(BuildMaster("index.m3u8", 0, 0))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !p.IsMaster() {
		t.Error("expected master playlist")
	}
}
