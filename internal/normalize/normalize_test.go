package normalize

import "testing"

func TestStatus(t *testing.T) {
	cases := map[string]string{
		"COMPLETED":                 "completed",
		" Completed With Warnings ": "completed_with_warnings",
		"completed-with-warnings":   "completed_with_warnings",
		"Processing":                "processing",
		"":                          "",
	}
	for in, want := range cases {
		if got := Status(in); got != want {
			t.Fatalf("Status(%q)=%q; want %q", in, got, want)
		}
	}
}

func TestHeader(t *testing.T) {
	cases := map[string]string{
		"Part Number":   "part_number",
		"  YEAR (from)": "year_from",
		"Année":         "année",
		"ＭＡＫＥ":          "make",
		"--":            "",
	}
	for in, want := range cases {
		if got := Header(in); got != want {
			t.Fatalf("Header(%q)=%q; want %q", in, got, want)
		}
	}
}
