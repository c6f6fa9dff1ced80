package fingerprint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerate_SameMinuteSameFingerprint(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 30, 5, 0, time.UTC)

	a := Generate(Event{Type: "ITEM", Code: "LOGIN_REQUIRED", ExternalItemID: "ext-1", ArrivedAt: base})
	b := Generate(Event{Type: "ITEM", Code: "LOGIN_REQUIRED", ExternalItemID: "ext-1", ArrivedAt: base.Add(40 * time.Second)})

	assert.Equal(t, a, b)
}

func TestGenerate_DifferentMinuteDifferentFingerprint(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 30, 59, 0, time.UTC)

	a := Generate(Event{Type: "ITEM", Code: "LOGIN_REQUIRED", ExternalItemID: "ext-1", ArrivedAt: base})
	b := Generate(Event{Type: "ITEM", Code: "LOGIN_REQUIRED", ExternalItemID: "ext-1", ArrivedAt: base.Add(2 * time.Second)})

	assert.NotEqual(t, a, b)
}

func TestGenerate_FieldsChangeFingerprint(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	ref := Generate(Event{Type: "ITEM", Code: "ERROR", ExternalItemID: "ext-1", ArrivedAt: base})

	variants := []Event{
		{Type: "TRANSACTIONS", Code: "ERROR", ExternalItemID: "ext-1", ArrivedAt: base},
		{Type: "ITEM", Code: "LOGIN_REPAIRED", ExternalItemID: "ext-1", ArrivedAt: base},
		{Type: "ITEM", Code: "ERROR", ExternalItemID: "ext-2", ArrivedAt: base},
		{Type: "ITEM", Code: "ERROR", ExternalItemID: "ext-1", SessionID: "s1", ArrivedAt: base},
		{Type: "ITEM", Code: "ERROR", ExternalItemID: "ext-1", ExternalAccountID: "acc-1", ArrivedAt: base},
	}
	for _, v := range variants {
		assert.NotEqual(t, ref, Generate(v))
	}
}

func TestGenerate_TimezoneNormalized(t *testing.T) {
	utc := time.Date(2025, 6, 1, 12, 30, 10, 0, time.UTC)
	est := utc.In(time.FixedZone("EST", -5*3600))

	a := Generate(Event{Type: "ITEM", Code: "ERROR", ExternalItemID: "ext-1", ArrivedAt: utc})
	b := Generate(Event{Type: "ITEM", Code: "ERROR", ExternalItemID: "ext-1", ArrivedAt: est})

	assert.Equal(t, a, b)
}
