package kernel

import "testing"

func TestParseTag(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      string
		want    string // String() of the parsed tag
		wantErr bool
	}{
		{name: "empty means sequential", in: "", want: "for"},
		{name: "None means sequential", in: "None", want: "for"},
		{name: "for", in: "for", want: "for"},
		{name: "local axis", in: "l.1", want: "l.1"},
		{name: "auto local", in: "l.auto", want: "l.auto"},
		{name: "group axis", in: "g.0", want: "g.0"},
		{name: "unroll", in: "unr", want: "unr"},
		{name: "bare ilp is unroll flavored", in: "ilp", want: "ilp.unr"},
		{name: "ilp unroll", in: "ilp.unr", want: "ilp.unr"},
		{name: "ilp sequential", in: "ilp.seq", want: "ilp.seq"},
		{name: "negative axis", in: "l.-2", wantErr: true},
		{name: "non-numeric axis", in: "g.x", wantErr: true},
		{name: "unknown word", in: "vectorize", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag, err := ParseTag(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTag(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if tag.String() != tt.want {
				t.Errorf("ParseTag(%q) = %q, want %q", tt.in, tag, tt.want)
			}
		})
	}
}

func TestTagPredicates(t *testing.T) {
	t.Parallel()
	tests := []struct {
		tag          Tag
		wantParallel bool
		wantIlp      bool
	}{
		{tag: Sequential{}, wantParallel: false, wantIlp: false},
		{tag: LocalAxis{Axis: 0}, wantParallel: true, wantIlp: false},
		{tag: AutoLocal{}, wantParallel: true, wantIlp: false},
		{tag: GroupAxis{Axis: 2}, wantParallel: true, wantIlp: false},
		{tag: Unroll{}, wantParallel: false, wantIlp: false},
		{tag: IlpUnroll{}, wantParallel: false, wantIlp: true},
		{tag: IlpSequential{}, wantParallel: false, wantIlp: true},
	}

	for _, tt := range tests {
		t.Run(tt.tag.String(), func(t *testing.T) {
			if got := IsParallel(tt.tag); got != tt.wantParallel {
				t.Errorf("IsParallel(%s) = %v, want %v", tt.tag, got, tt.wantParallel)
			}
			if got := IsIlp(tt.tag); got != tt.wantIlp {
				t.Errorf("IsIlp(%s) = %v, want %v", tt.tag, got, tt.wantIlp)
			}
		})
	}
}
