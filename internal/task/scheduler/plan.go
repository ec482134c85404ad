package scheduler

import (
	"time"

	"inquisitor/internal/jobs"
)

// Plan expands the registry against the scope lists in scheduling order:
// GLOBAL, AWS_ACCOUNT (descriptor outer, account inner), AWS_REGION (descriptor,
// then region, then account), AUDITOR.
func Plan(reg Registry, accounts, regions []string) []Target {
	var out []Target
	add := func(d jobs.Descriptor, s jobs.Scope) {
		out = append(out, Target{Name: jobs.Identity(d, s), Descriptor: d, Scope: s})
	}

	for _, d := range reg.ListWorkDescriptors(jobs.KindGlobal) {
		add(d, jobs.Scope{})
	}
	for _, d := range reg.ListWorkDescriptors(jobs.KindAWSAccount) {
		for _, a := range accounts {
			add(d, jobs.Scope{Account: a})
		}
	}
	for _, d := range reg.ListWorkDescriptors(jobs.KindAWSRegion) {
		for _, r := range regions {
			for _, a := range accounts {
				add(d, jobs.Scope{Account: a, Region: r})
			}
		}
	}
	for _, d := range reg.ListAuditors() {
		add(d, jobs.Scope{})
	}
	return out
}

// Missing returns the targets without a live timer, preserving order.
// Duplicate names within targets are kept once.
func Missing(targets []Target, live func(name string) bool) []Target {
	out := make([]Target, 0, len(targets))
	seen := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		if _, dup := seen[t.Name]; dup {
			continue
		}
		seen[t.Name] = struct{}{}
		if live != nil && live(t.Name) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Stagger assigns first fire times to targets in order.
func Stagger(targets []Target, now time.Time, cfg StaggerConfig) []Placement {
	out := make([]Placement, 0, len(targets))
	start := now.Add(cfg.StartDelay)
	for _, t := range targets {
		if t.Descriptor.Kind == jobs.KindAuditor {
			continue
		}
		out = append(out, Placement{Target: t, First: start})
		start = start.Add(cfg.JobDelay)
	}
	audit := start.Add(cfg.AuditorDelay)
	for _, t := range targets {
		if t.Descriptor.Kind != jobs.KindAuditor {
			continue
		}
		out = append(out, Placement{Target: t, First: audit})
		audit = audit.Add(cfg.JobDelay)
	}
	return out
}
