package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_Decide(t *testing.T) {
	p := Policy{MaxAttempts: 3, Backoff: 30 * time.Second}

	cases := []struct {
		name    string
		attempt int
		kind    ErrorKind
		want    Decision
	}{
		{"first transient failure retries", 1, KindTransient, Decision{Retry: true, Delay: 30 * time.Second}},
		{"second transient failure retries", 2, KindTransient, Decision{Retry: true, Delay: 30 * time.Second}},
		{"final attempt escalates", 3, KindTransient, Decision{}},
		{"beyond max escalates", 4, KindTransient, Decision{}},
		{"permanent escalates immediately", 1, KindPermanent, Decision{}},
		{"permanent on last attempt escalates", 3, KindPermanent, Decision{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, p.Decide(tc.attempt, tc.kind))
		})
	}
}

func TestPolicy_DecideIsPure(t *testing.T) {
	p := Policy{MaxAttempts: 3, Backoff: 30 * time.Second}
	first := p.Decide(2, KindTransient)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, p.Decide(2, KindTransient))
	}
}
