package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "namazbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.deliveries.jsonl          (append-only JSON Lines)
//   - <prefix>.subscribers.snapshot.json (periodic snapshot)
//   - <prefix>.subscribers.journal.jsonl (append-only journal)
//
// The journal is compacted into the snapshot every compactEvery writes and on
// open.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	deliveryFile *os.File

	snapshotPath string
	journalFile  *os.File
	subs         map[int64]Subscriber

	writes int
}

const compactEvery = 500

type journalOp string

const (
	opAdd    journalOp = "add"
	opRemove journalOp = "remove"
)

type journalRecord struct {
	Op  journalOp  `json:"op"`
	Sub Subscriber `json:"sub"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	deliveryPath := prefix + ".deliveries.jsonl"
	snapPath := prefix + ".subscribers.snapshot.json"
	journalPath := prefix + ".subscribers.journal.jsonl"

	df, err := os.OpenFile(deliveryPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	subs := map[int64]Subscriber{}
	if err := loadSnapshot(snapPath, subs); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = df.Close()
		return nil, err
	}
	if err := replayJournal(journalPath, subs, log); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = df.Close()
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = df.Close()
		return nil, err
	}

	s := &fileStore{
		log:          log,
		deliveryFile: df,
		snapshotPath: snapPath,
		journalFile:  jf,
		subs:         subs,
	}
	s.mu.Lock()
	if err := s.compactLocked(); err != nil {
		log.Warn("subscriber compact failed", logx.Err(err))
	}
	s.mu.Unlock()
	log.Info("file storage opened", logx.String("prefix", prefix), logx.Int("subscribers", len(subs)))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.deliveryFile != nil {
		err1 = s.deliveryFile.Close()
		s.deliveryFile = nil
	}
	if s.journalFile != nil {
		err2 = s.journalFile.Close()
		s.journalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AddSubscriber(_ context.Context, sub Subscriber) (bool, error) {
	if sub.ChatID == 0 {
		return false, ErrBadChatID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return false, ErrClosed
	}
	old, exists := s.subs[sub.ChatID]
	sub = mergeSubscriber(old, sub, exists)
	if exists && old == sub {
		return false, nil
	}
	if err := s.appendLocked(journalRecord{Op: opAdd, Sub: sub}); err != nil {
		return false, err
	}
	s.subs[sub.ChatID] = sub
	return !exists, nil
}

func (s *fileStore) RemoveSubscriber(_ context.Context, chatID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return false, ErrClosed
	}
	if _, ok := s.subs[chatID]; !ok {
		return false, nil
	}
	if err := s.appendLocked(journalRecord{Op: opRemove, Sub: Subscriber{ChatID: chatID}}); err != nil {
		return false, err
	}
	delete(s.subs, chatID)
	return true, nil
}

func (s *fileStore) ListSubscribers(context.Context) ([]Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil, ErrClosed
	}
	return sortedSubscribers(s.subs), nil
}

func (s *fileStore) AppendDelivery(_ context.Context, d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveryFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.deliveryFile).Encode(d)
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if err := json.NewEncoder(s.journalFile).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("subscriber compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(sortedSubscribers(s.subs)); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[int64]Subscriber) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var list []Subscriber
	if err := json.NewDecoder(f).Decode(&list); err != nil {
		return err
	}
	for _, sub := range list {
		out[sub.ChatID] = sub
	}
	return nil
}

func replayJournal(path string, out map[int64]Subscriber, log logx.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// A torn final write after a crash; skip it.
			log.Warn("skipping bad journal line", logx.Int("line", line), logx.Err(err))
			continue
		}
		switch r.Op {
		case opAdd:
			out[r.Sub.ChatID] = r.Sub
		case opRemove:
			delete(out, r.Sub.ChatID)
		}
	}
	return sc.Err()
}
