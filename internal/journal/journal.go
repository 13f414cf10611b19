package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatline/internal/store"
	"go.uber.org/zap"
)

// write is one store mutation reduced to row operations.
type write struct {
	conv    *conversationRow
	upsert  []messageRow
	remove  []messageKey
	flushed chan struct{}
}

type messageKey struct {
	conversationID string
	id             string
}

// Writer mirrors store mutations into the journal. Mutations are queued
// by the store subscriber and written in batches by a background goroutine.
type Writer struct {
	db     *DB
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	queue   []write
	running bool
	wake    chan struct{}

	unsubscribe func()
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewWriter creates a writer for db.
func NewWriter(db *DB, logger *zap.Logger) *Writer {
	return &Writer{
		db:     db,
		logger: logger,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
	}
}

// Attach subscribes the writer to st. Restores are not written back.
func (w *Writer) Attach(st *store.Store) {
	w.unsubscribe = st.Subscribe(w.observe)
}

// Start begins writing queued mutations.
func (w *Writer) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.mu.Lock()
	w.running = true
	w.mu.Unlock()
	go w.loop(ctx)
}

// Stop detaches from the store, stops the loop and writes what is left.
func (w *Writer) Stop() {
	if w.unsubscribe != nil {
		w.unsubscribe()
	}
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
	w.drain()
}

// Flush blocks until every mutation queued before the call is written.
// Without a running loop it writes the queue itself.
func (w *Writer) Flush(ctx context.Context) error {
	ch := make(chan struct{})
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		w.drain()
		return nil
	}
	w.queue = append(w.queue, write{flushed: ch})
	w.mu.Unlock()
	w.signal()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) observe(snap store.Snapshot) {
	ch := snap.Change
	switch ch.Kind {
	case store.Restored, store.PresenceChanged, "":
		return
	}
	c, ok := snap.Conversation(ch.ConversationID)
	if !ok {
		return
	}
	row := toConversationRow(c, w.now())
	wr := write{conv: &row}

	find := func(id string) (store.Message, bool) {
		for _, m := range c.Messages {
			if m.ID == id {
				return m, true
			}
		}
		return store.Message{}, false
	}
	switch ch.Kind {
	case store.MessageAdded, store.MessageUpdated, store.MessageRenamed:
		if m, ok := find(ch.MessageID); ok {
			wr.upsert = append(wr.upsert, toMessageRow(m))
		}
		if ch.PrevID != "" && ch.PrevID != ch.MessageID {
			wr.remove = append(wr.remove, messageKey{ch.ConversationID, ch.PrevID})
		}
	case store.MessageRemoved:
		wr.remove = append(wr.remove, messageKey{ch.ConversationID, ch.MessageID})
	}
	w.enqueue(wr)
}

func (w *Writer) enqueue(wr write) {
	w.mu.Lock()
	w.queue = append(w.queue, wr)
	w.mu.Unlock()
	w.signal()
}

func (w *Writer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Writer) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-w.wake:
			w.drain()
		case <-ctx.Done():
			return
		}
	}
}

func (w *Writer) drain() {
	w.mu.Lock()
	batch := w.queue
	w.queue = nil
	w.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	if err := w.apply(batch); err != nil {
		w.logger.Error("journal write failed", zap.Int("mutations", len(batch)), zap.Error(err))
	}
	for _, wr := range batch {
		if wr.flushed != nil {
			close(wr.flushed)
		}
	}
}

func (w *Writer) apply(batch []write) error {
	tx, err := w.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, wr := range batch {
		if wr.conv != nil {
			if _, err := tx.NamedExec(upsertConversation, wr.conv); err != nil {
				return fmt.Errorf("upsert conversation %s: %w", wr.conv.ID, err)
			}
		}
		for _, k := range wr.remove {
			if _, err := tx.Exec(deleteMessage, k.conversationID, k.id); err != nil {
				return fmt.Errorf("delete message %s: %w", k.id, err)
			}
		}
		for i := range wr.upsert {
			if _, err := tx.NamedExec(upsertMessage, &wr.upsert[i]); err != nil {
				return fmt.Errorf("upsert message %s: %w", wr.upsert[i].ID, err)
			}
		}
	}
	return tx.Commit()
}

// Load reads every persisted conversation with its messages.
func Load(ctx context.Context, db *DB) ([]store.Conversation, error) {
	var convRows []conversationRow
	if err := db.SelectContext(ctx, &convRows, `SELECT * FROM conversations ORDER BY id`); err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	var msgRows []messageRow
	if err := db.SelectContext(ctx, &msgRows,
		`SELECT * FROM messages ORDER BY conversation_id, sequence, created_at, id`); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	convs := make([]store.Conversation, 0, len(convRows))
	index := make(map[string]int, len(convRows))
	for _, r := range convRows {
		index[r.ID] = len(convs)
		convs = append(convs, r.conversation())
	}
	for _, r := range msgRows {
		i, ok := index[r.ConversationID]
		if !ok {
			continue
		}
		convs[i].Messages = append(convs[i].Messages, r.message())
	}
	return convs, nil
}
