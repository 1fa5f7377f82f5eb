package req

import "testing"

func TestSatisfies(t *testing.T) {
	tests := []struct {
		have       string
		constraint string
		ok         bool
	}{
		{"1.0", "", true},
		{"1.0", "==1.0", true},
		{"1.0.0", "==1.0", true},
		{"1.1", "==1.0", false},
		{"2.0", ">=1.0", true},
		{"1.0", ">=1.0", true},
		{"0.9", ">=1.0", false},
		{"0.9", "<1.0", true},
		{"1.0", "<1.0", false},
		{"1.5", ">1.0", true},
		{"1.0", ">1.0", false},
		{"1.0", "<=1.0", true},
		{"1.1", "<=1.0", false},
		{"1.1", "!=1.0", true},
		{"1.0", "!=1.0", false},
		{"1.5", ">= 1.0, < 2.0", true},
		{"0.9", ">= 1.0, < 2.0", false},
		{"2.0", ">= 1.0, < 2.0", false},
		{"2.2.5", "~=2.2.1", true},
		{"2.3.0", "~=2.2.1", false},
		{"2.2.0", "~=2.2.1", false},
		{"2.4", "~=2.2", true},
		{"3.0", "~=2.2", false},
		{"1.4.2", "==1.4.*", true},
		{"1.5.0", "==1.4.*", false},
	}

	for _, tt := range tests {
		t.Run(tt.have+"_"+tt.constraint, func(t *testing.T) {
			got := Satisfies(tt.have, tt.constraint)
			if got != tt.ok {
				t.Errorf("Satisfies(%q, %q) = %v, want %v", tt.have, tt.constraint, got, tt.ok)
			}
		})
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a    string
		b    string
		want int
	}{
		{"1.0", "1.0", 0},
		{"1.0", "2.0", -1},
		{"2.0", "1.0", 1},
		{"1.10", "1.9", 1},
		{"1.2.3", "1.2.4", -1},
		{"v1.0", "1.0", 0},
		{"1", "1.0", 0},
		{"1.0rc1", "1.0", -1},
		{"1.0a1", "1.0b1", -1},
		{"1.0b2", "1.0rc1", -1},
		{"1.0.dev0", "1.0a1", -1},
		{"1.0.post1", "1.0", 1},
		{"1.0.post1", "1.1", -1},
		{"not-a-version", "0.1", -1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			got := CompareVersions(tt.a, tt.b)
			if got != tt.want {
				t.Errorf("CompareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestIsPrerelease(t *testing.T) {
	for _, v := range []string{"1.0a1", "2.0rc2", "1.0.dev3"} {
		if !IsPrerelease(v) {
			t.Errorf("IsPrerelease(%q) = false, want true", v)
		}
	}
	for _, v := range []string{"1.0", "1.0.post2"} {
		if IsPrerelease(v) {
			t.Errorf("IsPrerelease(%q) = true, want false", v)
		}
	}
}
