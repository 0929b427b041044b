// Package ledger persists per-token analysis artifacts: the holder
// snapshot (overwritten each run) and the append-only transaction ledger.
package ledger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/tokentrace/internal/domain"
)

var (
	holdersHeader = []string{"Account", "Balance"}

	transactionsHeader = []string{
		"Timestamp",
		"Transaction ID",
		"Sender Account",
		"Total Sent Amount",
		"Receiver Account",
		"Receiver Amount",
		"Token Symbol",
		"Memo",
		"Fee (HBAR)",
	}
)

// Store owns the persisted artifacts of every analyzed token under a
// base directory. Writes happen only on the orchestrator's goroutine,
// so no locking is required.
type Store struct {
	baseDir string
}

// NewStore creates a store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// TokenDir returns the artifact directory for a token.
func (s *Store) TokenDir(tokenID string) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("%s_token_data", tokenID))
}

func (s *Store) holdersPath(tokenID string) string {
	return filepath.Join(s.TokenDir(tokenID), fmt.Sprintf("%s_holders.csv", tokenID))
}

func (s *Store) transactionsPath(tokenID string) string {
	return filepath.Join(s.TokenDir(tokenID), fmt.Sprintf("%s_transactions.csv", tokenID))
}

// LoadSnapshot reads the persisted holder snapshot. Returns (nil, nil)
// when no snapshot has been saved yet.
func (s *Store) LoadSnapshot(tokenID string) (*domain.HolderSnapshot, error) {
	f, err := os.Open(s.holdersPath(tokenID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "open holders file")
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "read holders file")
	}

	snapshot := domain.NewHolderSnapshot()
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		if len(row) < 2 {
			return nil, fmt.Errorf("holders file row %d has %d columns", i, len(row))
		}
		balance, err := decimal.NewFromString(row[1])
		if err != nil {
			return nil, errors.Wrapf(err, "parse balance of %s", row[0])
		}
		snapshot.Add(domain.Holder{Account: row[0], Balance: balance})
	}
	return snapshot, nil
}

// SaveSnapshot overwrites the persisted holder snapshot.
func (s *Store) SaveSnapshot(tokenID string, snapshot *domain.HolderSnapshot) error {
	if err := os.MkdirAll(s.TokenDir(tokenID), 0o755); err != nil {
		return errors.Wrap(err, "create token dir")
	}

	f, err := os.Create(s.holdersPath(tokenID))
	if err != nil {
		return errors.Wrap(err, "create holders file")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(holdersHeader); err != nil {
		return errors.Wrap(err, "write holders header")
	}
	for _, h := range snapshot.Holders() {
		if err := w.Write([]string{h.Account, h.Balance.String()}); err != nil {
			return errors.Wrap(err, "write holder row")
		}
	}
	w.Flush()
	return errors.Wrap(w.Error(), "flush holders file")
}

// LoadLedger reads all persisted transfer records. Returns an empty
// slice when no ledger file exists.
func (s *Store) LoadLedger(tokenID string) ([]domain.TransferRecord, error) {
	f, err := os.Open(s.transactionsPath(tokenID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "open transactions file")
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "read transactions file")
	}

	records := make([]domain.TransferRecord, 0, len(rows))
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		record, err := parseRecord(row)
		if err != nil {
			return nil, errors.Wrapf(err, "transactions file row %d", i)
		}
		records = append(records, record)
	}
	return records, nil
}

// AppendRecords appends records not already persisted, deduplicated on the
// (transaction id, receiver) pair, and returns the count actually added.
// Calling it again with an overlapping batch adds nothing new.
func (s *Store) AppendRecords(tokenID string, records []domain.TransferRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	existing, err := s.LoadLedger(tokenID)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		seen[r.DedupeKey()] = struct{}{}
	}

	fresh := make([]domain.TransferRecord, 0, len(records))
	for _, r := range records {
		key := r.DedupeKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		fresh = append(fresh, r)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	if err := os.MkdirAll(s.TokenDir(tokenID), 0o755); err != nil {
		return 0, errors.Wrap(err, "create token dir")
	}

	path := s.transactionsPath(tokenID)
	_, statErr := os.Stat(path)
	writeHeader := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, errors.Wrap(err, "open transactions file")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(transactionsHeader); err != nil {
			return 0, errors.Wrap(err, "write transactions header")
		}
	}
	for _, r := range fresh {
		if err := w.Write(formatRecord(r)); err != nil {
			return 0, errors.Wrap(err, "write transaction row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, errors.Wrap(err, "flush transactions file")
	}
	return len(fresh), nil
}

// ReadArtifacts returns the raw CSV payloads consumed by the
// visualization layer.
func (s *Store) ReadArtifacts(tokenID string) (holders string, transactions string, err error) {
	h, err := os.ReadFile(s.holdersPath(tokenID))
	if err != nil {
		return "", "", errors.Wrap(err, "read holders file")
	}
	tx, err := os.ReadFile(s.transactionsPath(tokenID))
	if err != nil {
		return "", "", errors.Wrap(err, "read transactions file")
	}
	return string(h), string(tx), nil
}

func formatRecord(r domain.TransferRecord) []string {
	return []string{
		r.Timestamp.UTC().Format(time.RFC3339),
		r.TransactionID,
		r.Sender,
		r.SenderAmount.String(),
		r.Receiver,
		r.ReceiverAmount.String(),
		r.TokenSymbol,
		r.Memo,
		r.Fee.String(),
	}
}

func parseRecord(row []string) (domain.TransferRecord, error) {
	if len(row) < len(transactionsHeader) {
		return domain.TransferRecord{}, fmt.Errorf("expected %d columns, got %d", len(transactionsHeader), len(row))
	}

	ts, err := time.Parse(time.RFC3339, row[0])
	if err != nil {
		return domain.TransferRecord{}, errors.Wrap(err, "parse timestamp")
	}
	senderAmount, err := decimal.NewFromString(row[3])
	if err != nil {
		return domain.TransferRecord{}, errors.Wrap(err, "parse sender amount")
	}
	receiverAmount, err := decimal.NewFromString(row[5])
	if err != nil {
		return domain.TransferRecord{}, errors.Wrap(err, "parse receiver amount")
	}
	fee, err := decimal.NewFromString(row[8])
	if err != nil {
		return domain.TransferRecord{}, errors.Wrap(err, "parse fee")
	}

	return domain.TransferRecord{
		Timestamp:      ts.UTC(),
		TransactionID:  row[1],
		Sender:         row[2],
		SenderAmount:   senderAmount,
		Receiver:       row[4],
		ReceiverAmount: receiverAmount,
		TokenSymbol:    row[6],
		Memo:           row[7],
		Fee:            fee,
	}, nil
}
