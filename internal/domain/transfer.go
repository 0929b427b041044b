package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ConsensusTimestamp is a mirror node consensus timestamp in
// "seconds.nanoseconds" form. It doubles as the backward-paging cursor
// for transaction history.
type ConsensusTimestamp string

// Seconds returns the whole-second part of the timestamp.
func (t ConsensusTimestamp) Seconds() int64 {
	s := string(t)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return sec
}

// Time returns the timestamp truncated to whole seconds, in UTC.
func (t ConsensusTimestamp) Time() time.Time {
	return time.Unix(t.Seconds(), 0).UTC()
}

// IsZero reports whether the timestamp is unset.
func (t ConsensusTimestamp) IsZero() bool {
	return t == ""
}

// TransferRecord is one paired (sender, receiver) token transfer leg.
// Records are append-only; (TransactionID, Receiver) must be unique
// within a ledger.
type TransferRecord struct {
	Timestamp      time.Time
	TransactionID  string
	Sender         string
	SenderAmount   decimal.Decimal
	Receiver       string
	ReceiverAmount decimal.Decimal
	TokenSymbol    string
	Memo           string
	Fee            decimal.Decimal
}

// DedupeKey returns the ledger uniqueness key for the record.
func (r TransferRecord) DedupeKey() string {
	return fmt.Sprintf("%s|%s", r.TransactionID, r.Receiver)
}

// LatestWatermark returns the maximum timestamp across records,
// or the zero time if there are none.
func LatestWatermark(records []TransferRecord) time.Time {
	var watermark time.Time
	for _, r := range records {
		if r.Timestamp.After(watermark) {
			watermark = r.Timestamp
		}
	}
	return watermark
}
