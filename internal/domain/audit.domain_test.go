package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sampleEvent() *AuditEvent {
	e := &AuditEvent{
		ID:              "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		EventType:       EventCredit,
		UserID:          "alice",
		Currency:        "USD",
		Amount:          42.5,
		BeforeAvailable: 0,
		AfterAvailable:  42.5,
		TxType:          "deposit",
		RefID:           "ref-1",
		Metadata:        map[string]interface{}{"source": "gateway"},
		CreatedAt:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	e.Checksum = e.ComputeChecksum()
	return e
}

func TestChecksumRoundTrip(t *testing.T) {
	e := sampleEvent()
	assert.True(t, e.VerifyChecksum())
}

func TestChecksumDetectsEditedAmount(t *testing.T) {
	e := sampleEvent()
	e.Amount = 100
	assert.False(t, e.VerifyChecksum())
}

func TestChecksumCoversCounterparty(t *testing.T) {
	e := sampleEvent()
	bob := "bob"
	e.Counterparty = &bob
	assert.False(t, e.VerifyChecksum(), "adding a counterparty must change the checksum")
}

func TestChecksumCoversMetadata(t *testing.T) {
	e := sampleEvent()
	e.Metadata["source"] = "backfill-script"
	assert.False(t, e.VerifyChecksum(), "editing metadata must change the checksum")

	e = sampleEvent()
	e.Metadata = nil
	assert.False(t, e.VerifyChecksum(), "dropping metadata must change the checksum")
}

func TestChecksumCoversCreatedAt(t *testing.T) {
	e := sampleEvent()
	e.CreatedAt = e.CreatedAt.Add(time.Hour)
	assert.False(t, e.VerifyChecksum(), "backdating an event must change the checksum")
}

func TestChecksumStableAcrossTimezones(t *testing.T) {
	e := sampleEvent()
	e.CreatedAt = e.CreatedAt.In(time.FixedZone("EAT", 3*3600))
	assert.True(t, e.VerifyChecksum(), "the same instant must hash identically in any zone")
}

func TestTotalEffectSigns(t *testing.T) {
	credit := &AuditEvent{EventType: EventCredit, UserID: "alice", Amount: 10}
	assert.Equal(t, 10.0, credit.TotalEffect("alice"))
	assert.Equal(t, 0.0, credit.TotalEffect("bob"))

	debit := &AuditEvent{EventType: EventDebit, UserID: "alice", Amount: -10}
	assert.Equal(t, -10.0, debit.TotalEffect("alice"))

	lock := &AuditEvent{EventType: EventLock, UserID: "alice", Amount: 0}
	assert.Equal(t, 0.0, lock.TotalEffect("alice"))

	bob := "bob"
	release := &AuditEvent{EventType: EventRelease, UserID: "alice", Counterparty: &bob, Amount: -10}
	assert.Equal(t, -10.0, release.TotalEffect("alice"))
	assert.Equal(t, 10.0, release.TotalEffect("bob"))
	assert.Equal(t, 0.0, release.TotalEffect("carol"))
}

func TestBalanceViews(t *testing.T) {
	b := &Balance{UserID: "alice", Currency: "USD", Balance: 100, Available: 60, Locked: 40, Version: 7}

	wv := b.WalletView()
	assert.Equal(t, 60.0, wv.Available)
	assert.Equal(t, "main", wv.Type)

	av := b.AccountingView()
	assert.Equal(t, 40.0, av.PendingDebit)
	assert.Equal(t, int64(7), av.Version)
}
