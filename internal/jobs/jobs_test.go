package jobs

import (
	"testing"
	"time"
)

func TestStatusOrdering(t *testing.T) {
	t.Parallel()

	order := []Status{StatusPending, StatusStarted, StatusCompleted, StatusAborted, StatusFailed}
	for i := 1; i < len(order); i++ {
		if !(order[i-1] < order[i]) {
			t.Fatalf("%v should be < %v", order[i-1], order[i])
		}
	}
	if StatusStarted.Terminal() || !StatusCompleted.Terminal() || !StatusFailed.Terminal() {
		t.Fatalf("terminal classification wrong")
	}
}

func TestAdvances(t *testing.T) {
	t.Parallel()

	cases := []struct {
		cur, next Status
		want      bool
	}{
		{StatusPending, StatusStarted, true},
		{StatusPending, StatusPending, false},
		{StatusStarted, StatusPending, false},
		{StatusStarted, StatusFailed, true},
		{StatusCompleted, StatusFailed, false},
		{StatusAborted, StatusFailed, false},
	}
	for _, tc := range cases {
		if got := Advances(tc.cur, tc.next); got != tc.want {
			t.Fatalf("Advances(%v,%v)=%v want %v", tc.cur, tc.next, got, tc.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"completed", "2", " COMPLETED "} {
		st, err := ParseStatus(in)
		if err != nil || st != StatusCompleted {
			t.Fatalf("ParseStatus(%q)=%v,%v", in, st, err)
		}
	}
	if _, err := ParseStatus("5"); err == nil {
		t.Fatalf("5 is not a defined status")
	}
}

func TestKindRankAndParse(t *testing.T) {
	t.Parallel()

	if !(KindGlobal.Rank() < KindAWSAccount.Rank() && KindAWSAccount.Rank() < KindAWSRegion.Rank() && KindAWSRegion.Rank() < KindAuditor.Rank()) {
		t.Fatalf("kind ranks out of order")
	}
	k, err := ParseKind("aws-region")
	if err != nil || k != KindAWSRegion {
		t.Fatalf("ParseKind alias: %v %v", k, err)
	}
	if _, err := ParseKind("lambda"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestIdentityDeterministicAndDistinct(t *testing.T) {
	t.Parallel()

	d := Descriptor{Name: "ec2", Kind: KindAWSRegion, Interval: 15 * time.Minute, EntryPoint: "collector.ec2"}
	s := Scope{Account: "111111111111", Region: "us-east-1"}

	a := Identity(d, s)
	if a != Identity(d, s) {
		t.Fatalf("identity not deterministic")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %q", a)
	}

	variants := []struct {
		d Descriptor
		s Scope
	}{
		{Descriptor{Name: "ec2", Kind: KindAWSRegion, Interval: 30 * time.Minute, EntryPoint: "collector.ec2"}, s},
		{d, Scope{Account: "111111111111", Region: "us-west-2"}},
		{d, Scope{Account: "222222222222", Region: "us-east-1"}},
		{Descriptor{Name: "ec2", Kind: KindAWSAccount, Interval: 15 * time.Minute, EntryPoint: "collector.ec2"}, s},
	}
	for i, v := range variants {
		if Identity(v.d, v.s) == a {
			t.Fatalf("variant %d collides with base identity", i)
		}
	}
}

func TestIdentityEscapesSeparators(t *testing.T) {
	t.Parallel()

	d := Descriptor{Name: "x", Kind: KindGlobal, Interval: time.Minute, EntryPoint: "ep"}
	a := Identity(d, Scope{Account: "a|b", Region: ""})
	b := Identity(d, Scope{Account: "a", Region: "b"})
	if a == b {
		t.Fatalf("separator inside a field must not collide with field boundary")
	}
}

func TestStatusDedupKey(t *testing.T) {
	t.Parallel()

	if StatusDedupKey("j1", StatusStarted) == StatusDedupKey("j1", StatusCompleted) {
		t.Fatalf("different statuses must produce different keys")
	}
	if StatusDedupKey("j1", StatusStarted) != StatusDedupKey("j1", StatusStarted) {
		t.Fatalf("dedup key not deterministic")
	}
}

func TestScopeString(t *testing.T) {
	t.Parallel()

	cases := map[Scope]string{
		{}:                             "global",
		{Account: "1"}:                 "1",
		{Region: "eu-west-1"}:          "eu-west-1",
		{Account: "1", Region: "eu-1"}: "1/eu-1",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Fatalf("%#v.String()=%q want %q", s, got, want)
		}
	}
}
