package apiversion

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{"v1", Version{1, 0}, false},
		{"v1.0", Version{1, 0}, false},
		{"v2.1", Version{2, 1}, false},
		{"1.0", Version{1, 0}, false},
		{"10.25", Version{10, 25}, false},
		{" v1.0 ", Version{1, 0}, false},
		{"", Version{}, true},
		{"v", Version{}, true},
		{"vx.y", Version{}, true},
		{"v1.x", Version{}, true},
		{"v-1", Version{}, true},
		{"v1.-2", Version{}, true},
	}

	for _, tc := range cases {
		got, err := Parse(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): expected error, got %v", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Parse(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestVersion_String(t *testing.T) {
	if s := (Version{2, 1}).String(); s != "2.1" {
		t.Fatalf("String() = %q", s)
	}
}

func TestNewRegistry_DefaultMustBeDeclared(t *testing.T) {
	if _, err := NewRegistry(Version{3, 0}, Version{1, 0}, Version{2, 0}); err == nil {
		t.Fatal("undeclared default should be rejected")
	}
	if _, err := NewRegistry(Version{1, 0}); err == nil {
		t.Fatal("empty declared set should be rejected")
	}
}

func TestRegistry_DeclaredSortedAndDeduped(t *testing.T) {
	reg, err := NewRegistry(Version{1, 0}, Version{2, 0}, Version{1, 0}, Version{1, 1}, Version{2, 0})
	if err != nil {
		t.Fatal(err)
	}
	got := reg.Declared()
	want := []Version{{1, 0}, {1, 1}, {2, 0}}
	if len(got) != len(want) {
		t.Fatalf("Declared() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Declared()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRegistry_Resolve(t *testing.T) {
	reg, err := NewRegistry(Version{1, 0}, Version{1, 0}, Version{2, 0})
	if err != nil {
		t.Fatal(err)
	}

	// no indicator: default, never an error
	if v, err := reg.Resolve(""); err != nil || v != (Version{1, 0}) {
		t.Fatalf("Resolve(\"\") = %v, %v", v, err)
	}

	// declared version resolves exactly
	if v, err := reg.Resolve("2.0"); err != nil || v != (Version{2, 0}) {
		t.Fatalf("Resolve(2.0) = %v, %v", v, err)
	}

	// undeclared version is unsupported, with guidance
	_, err = reg.Resolve("9.9")
	var unsup *UnsupportedError
	if !errors.As(err, &unsup) {
		t.Fatalf("Resolve(9.9) err = %v, want UnsupportedError", err)
	}
	if unsup.Requested != "9.9" {
		t.Errorf("Requested = %q", unsup.Requested)
	}
	if len(unsup.Supported) != 2 {
		t.Errorf("Supported = %v", unsup.Supported)
	}

	// unparseable indicator is unsupported too, not a separate failure mode
	if _, err := reg.Resolve("vX"); !errors.As(err, &unsup) {
		t.Fatalf("Resolve(vX) err = %v, want UnsupportedError", err)
	}
}

func TestFormatList(t *testing.T) {
	got := FormatList([]Version{{1, 0}, {2, 0}})
	if got != "1.0, 2.0" {
		t.Fatalf("FormatList = %q", got)
	}
}
