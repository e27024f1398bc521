package orders

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	orderNumberPrefix   = "ORD"
	orderNumberSeqWidth = 5
	counterTTL          = 48 * time.Hour
)

// counterStore is the slice of the redis client used for daily sequences.
type counterStore interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	CounterKey(name string) string
}

// NumberAllocator mints human-readable order numbers of the form
// ORD-YYYYMMDD-00042. Sequences come from a shared counter; when the counter
// store is unreachable the allocator falls back to the database high-water
// mark, and finally to a random suffix.
type NumberAllocator struct {
	counters counterStore
	repo     Repository
	now      func() time.Time
}

func NewNumberAllocator(counters counterStore, repo Repository) *NumberAllocator {
	return &NumberAllocator{counters: counters, repo: repo, now: time.Now}
}

func (a *NumberAllocator) Next(ctx context.Context) (string, error) {
	day := a.now().UTC().Format("20060102")
	prefix := fmt.Sprintf("%s-%s-", orderNumberPrefix, day)

	if a.counters != nil {
		key := a.counters.CounterKey("orders:" + day)
		seq, err := a.counters.IncrWithTTL(ctx, key, counterTTL)
		if err == nil {
			return prefix + pad(seq), nil
		}
	}

	if a.repo != nil {
		highest, err := a.repo.MaxOrderNumberForPrefix(ctx, prefix)
		if err == nil && highest != "" {
			if seq, ok := parseSequence(highest); ok {
				return prefix + pad(seq+1), nil
			}
		}
		if err == nil && highest == "" {
			return prefix + pad(1), nil
		}
	}

	return prefix + randomSuffix(), nil
}

func pad(seq int64) string {
	return fmt.Sprintf("%0*d", orderNumberSeqWidth, seq)
}

func parseSequence(number string) (int64, bool) {
	idx := strings.LastIndex(number, "-")
	if idx < 0 || idx == len(number)-1 {
		return 0, false
	}
	seq, err := strconv.ParseInt(number[idx+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

func randomSuffix() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return pad(time.Now().UnixNano() % 100000)
	}
	n := binary.BigEndian.Uint64(buf[:]) % 10000000
	return fmt.Sprintf("R%07d", n)
}
