package scope

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	logx "inquisitor/pkg/logx"
)

func TestStaticNormalizesAndSwaps(t *testing.T) {
	t.Parallel()

	s := NewStatic([]string{"2", " 1 ", "2", ""}, []string{"us-west-2", "us-east-1"})
	accts, _ := s.ListEnabledAccounts(context.Background())
	if !reflect.DeepEqual(accts, []string{"1", "2"}) {
		t.Fatalf("accounts=%v", accts)
	}
	s.Set([]string{"3"}, nil)
	accts, _ = s.ListEnabledAccounts(context.Background())
	regions, _ := s.ListRegions(context.Background())
	if !reflect.DeepEqual(accts, []string{"3"}) || len(regions) != 0 {
		t.Fatalf("after Set: accounts=%v regions=%v", accts, regions)
	}
}

type failingProvider struct{ Static }

func (*failingProvider) ListRegions(context.Context) ([]string, error) {
	return nil, errors.New("directory down")
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	a, r, err := Snapshot(context.Background(), NewStatic([]string{"b", "a"}, []string{"eu-west-1"}))
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !reflect.DeepEqual(a, []string{"a", "b"}) || !reflect.DeepEqual(r, []string{"eu-west-1"}) {
		t.Fatalf("a=%v r=%v", a, r)
	}

	if _, _, err := Snapshot(context.Background(), &failingProvider{}); err == nil {
		t.Fatalf("expected error from failing provider")
	}
}

type fakeEC2 struct {
	calls int
	err   error
}

func (f *fakeEC2) DescribeRegions(ctx context.Context, in *ec2.DescribeRegionsInput, _ ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ec2.DescribeRegionsOutput{Regions: []ec2types.Region{
		{RegionName: aws.String("us-west-2"), OptInStatus: aws.String("opt-in-not-required")},
		{RegionName: aws.String("ap-east-1"), OptInStatus: aws.String("not-opted-in")},
		{RegionName: aws.String("us-east-1")},
	}}, nil
}

func TestEC2RegionsCachesAndFilters(t *testing.T) {
	t.Parallel()

	fake := &fakeEC2{}
	p := NewEC2Regions(NewStatic([]string{"1"}, nil), fake, time.Minute, logx.Nop())
	now := time.Unix(1_700_000_000, 0)
	p.now = func() time.Time { return now }

	got, err := p.ListRegions(context.Background())
	if err != nil {
		t.Fatalf("ListRegions: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"us-east-1", "us-west-2"}) {
		t.Fatalf("regions=%v", got)
	}
	_, _ = p.ListRegions(context.Background())
	if fake.calls != 1 {
		t.Fatalf("expected cached result, calls=%d", fake.calls)
	}

	// Expired cache + failing API serves the stale list.
	now = now.Add(2 * time.Minute)
	fake.err = errors.New("throttled")
	got, err = p.ListRegions(context.Background())
	if err != nil || len(got) != 2 {
		t.Fatalf("stale fallback: %v %v", got, err)
	}
	if fake.calls != 2 {
		t.Fatalf("expected refresh attempt, calls=%d", fake.calls)
	}

	accts, _ := p.ListEnabledAccounts(context.Background())
	if !reflect.DeepEqual(accts, []string{"1"}) {
		t.Fatalf("accounts=%v", accts)
	}
}

func TestEC2RegionsColdFailure(t *testing.T) {
	t.Parallel()

	p := NewEC2Regions(NewStatic(nil, nil), &fakeEC2{err: errors.New("denied")}, 0, logx.Nop())
	if _, err := p.ListRegions(context.Background()); err == nil {
		t.Fatalf("expected error without cache")
	}
}
