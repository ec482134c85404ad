package jobs

import (
	"fmt"
	"strings"
)

// Kind groups work descriptors by the scope dimension they are multiplied over.
type Kind string

const (
	KindGlobal     Kind = "GLOBAL"
	KindAWSAccount Kind = "AWS_ACCOUNT"
	KindAWSRegion  Kind = "AWS_REGION"
	KindAuditor    Kind = "AUDITOR"
)

// Kinds lists every kind in scheduling order.
var Kinds = []Kind{KindGlobal, KindAWSAccount, KindAWSRegion, KindAuditor}

// Rank orders kinds for scheduling: collectors first, auditors last.
// Unknown kinds rank after everything else.
func (k Kind) Rank() int {
	for i, v := range Kinds {
		if v == k {
			return i
		}
	}
	return len(Kinds)
}

func (k Kind) Valid() bool { return k.Rank() < len(Kinds) }

// ParseKind accepts the canonical names plus a few lower-case aliases used in config files.
func ParseKind(s string) (Kind, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, "-", "_")
	switch v {
	case "GLOBAL":
		return KindGlobal, nil
	case "AWS_ACCOUNT", "ACCOUNT":
		return KindAWSAccount, nil
	case "AWS_REGION", "REGION":
		return KindAWSRegion, nil
	case "AUDITOR":
		return KindAuditor, nil
	}
	return "", fmt.Errorf("jobs: unknown kind %q", s)
}
