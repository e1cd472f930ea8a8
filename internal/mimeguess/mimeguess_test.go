package mimeguess

import "testing"

func TestGuess(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "photos/cat.PNG", want: PNG},
		{in: "gif", want: GIF},
		{in: "png", want: PNG},
		{in: "https://example.com/a.b/anim.gif", want: GIF},
		{in: "photo.jpeg", want: JPEG},
		{in: "photo.webp", want: JPEG},
		{in: "noextension", want: JPEG},
		{in: "", want: JPEG},
		{in: "trailing.", want: JPEG},
		{in: "image.png?size=2", want: JPEG},
	}

	for _, tc := range cases {
		if got := Guess(tc.in); got != tc.want {
			t.Fatalf("Guess(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestExtension(t *testing.T) {
	if got := Extension("a/b.c/d.Tiff"); got != "Tiff" {
		t.Fatalf("expected Tiff, got %q", got)
	}
	if got := Extension("gif"); got != "gif" {
		t.Fatalf("expected whole string without dot, got %q", got)
	}
}
