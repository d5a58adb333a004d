package service

import (
	"sort"
	"strings"

	"github.com/casedesk/case-service/internal/domain"
)

// normalizePhone keeps only ASCII digits.
func normalizePhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// GroupDuplicates partitions cases by normalized (customer phone, channel phone).
// Only keys with two or more cases are returned, ordered by key. Within a group
// the highest id survives and the others become candidates, oldest first.
func GroupDuplicates(cases []domain.Case) []domain.DuplicateGroup {
	type bucket struct {
		customer string
		channel  string
		members  []domain.Case
	}
	buckets := map[string]*bucket{}
	for _, c := range cases {
		customer := normalizePhone(c.CustomerPhone)
		if customer == "" {
			continue
		}
		channel := normalizePhone(c.ChannelPhone)
		key := customer + "::" + channel
		b, ok := buckets[key]
		if !ok {
			b = &bucket{customer: customer, channel: channel}
			buckets[key] = b
		}
		b.members = append(b.members, c)
	}

	keys := make([]string, 0, len(buckets))
	for key, b := range buckets {
		if len(b.members) >= 2 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	groups := make([]domain.DuplicateGroup, 0, len(keys))
	for _, key := range keys {
		b := buckets[key]
		sort.Slice(b.members, func(i, j int) bool { return b.members[i].ID < b.members[j].ID })
		last := len(b.members) - 1
		groups = append(groups, domain.DuplicateGroup{
			CustomerPhone: b.customer,
			ChannelPhone:  b.channel,
			Survivor:      b.members[last],
			Candidates:    append([]domain.Case(nil), b.members[:last]...),
		})
	}
	return groups
}
