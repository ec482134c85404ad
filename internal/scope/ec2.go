package scope

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"

	logx "inquisitor/pkg/logx"
)

// EC2API is the subset of the EC2 client used for region discovery.
type EC2API interface {
	DescribeRegions(ctx context.Context, in *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error)
}

// EC2Regions discovers enabled regions through DescribeRegions and caches them for TTL.
// Accounts come from the wrapped base provider.
type EC2Regions struct {
	base   Provider
	client EC2API
	ttl    time.Duration
	log    logx.Logger
	now    func() time.Time

	mu        sync.Mutex
	cached    []string
	fetchedAt time.Time
}

func NewEC2Regions(base Provider, client EC2API, ttl time.Duration, log logx.Logger) *EC2Regions {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &EC2Regions{base: base, client: client, ttl: ttl, log: log, now: time.Now}
}

func (p *EC2Regions) ListEnabledAccounts(ctx context.Context) ([]string, error) {
	return p.base.ListEnabledAccounts(ctx)
}

func (p *EC2Regions) ListRegions(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.cached != nil && now.Sub(p.fetchedAt) < p.ttl {
		return append([]string(nil), p.cached...), nil
	}

	out, err := p.client.DescribeRegions(ctx, &ec2.DescribeRegionsInput{AllRegions: aws.Bool(false)})
	if err != nil {
		if p.cached != nil {
			// Stale list on a transient error keeps regional timers alive.
			p.log.Warn("describe regions failed; serving cached list", logx.Err(err), logx.Int("regions", len(p.cached)))
			return append([]string(nil), p.cached...), nil
		}
		return nil, fmt.Errorf("scope: describe regions: %w", err)
	}

	regions := make([]string, 0, len(out.Regions))
	for _, r := range out.Regions {
		if r.OptInStatus != nil && aws.ToString(r.OptInStatus) == "not-opted-in" {
			continue
		}
		if name := aws.ToString(r.RegionName); name != "" {
			regions = append(regions, name)
		}
	}
	regions = normalize(regions)
	p.cached = regions
	p.fetchedAt = now
	p.log.Debug("regions refreshed", logx.Int("regions", len(regions)))
	return append([]string(nil), regions...), nil
}
