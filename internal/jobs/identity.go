package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Identity returns the stable job name for (d, s): the hex SHA-256 of a canonical,
// escaped encoding of every field that distinguishes one recurring timer from another.
// Interval is included so an interval change replaces the timer.
func Identity(d Descriptor, s Scope) string {
	var b strings.Builder
	writeField(&b, string(d.Kind))
	writeField(&b, d.Name)
	writeField(&b, strconv.FormatInt(int64(d.Interval), 10))
	writeField(&b, d.EntryPoint)
	writeField(&b, s.Account)
	writeField(&b, s.Region)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// StatusDedupKey is the status channel dedup key for one (job, status) report.
func StatusDedupKey(jobID string, st Status) string {
	var b strings.Builder
	writeField(&b, jobID)
	writeField(&b, strconv.Itoa(int(st)))
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

var fieldEscaper = strings.NewReplacer(`\`, `\\`, `|`, `\|`)

func writeField(b *strings.Builder, v string) {
	_, _ = fieldEscaper.WriteString(b, v)
	b.WriteByte('|')
}
