package client

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tansel/livewatch/proto"
)

// Options tune the engine. Zero values pick the defaults.
type Options struct {
	Tick         time.Duration // processing tick interval, default 25ms
	ExpectWindow time.Duration // expectation window length, default 3s
	ReadTimeout  time.Duration // reader deadline per blocking read, default 100ms
}

const (
	defaultTick        = 25 * time.Millisecond
	defaultReadTimeout = 100 * time.Millisecond
	stopGrace          = 500 * time.Millisecond
)

// Engine is the client-side protocol engine: it frames lines off the link in
// a reader goroutine, drains them on a processing tick, reconciles device
// traffic into the state cache and emits events for view collaborators.
type Engine struct {
	link Link
	opts Options

	framer   *LineFramer
	queue    *lineQueue
	cache    *StateCache
	subs     *subscriptionSet
	expect   *expectTable
	throttle *throttler

	strict    atomic.Bool
	connected atomic.Bool

	onEvent EventFunc

	writeMu    sync.Mutex
	stopOnce   sync.Once
	stop       chan struct{}
	readerDone chan struct{}
	procDone   chan struct{}

	now func() time.Time
}

// New builds an engine over an opened link. Strict filtering of unsolicited
// updates starts enabled.
func New(link Link, opts Options) *Engine {
	if opts.Tick <= 0 {
		opts.Tick = defaultTick
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	e := &Engine{
		link:       link,
		opts:       opts,
		framer:     NewLineFramer(),
		queue:      newLineQueue(),
		cache:      NewStateCache(),
		subs:       newSubscriptionSet(),
		expect:     newExpectTable(opts.ExpectWindow),
		throttle:   newThrottler(),
		stop:       make(chan struct{}),
		readerDone: make(chan struct{}),
		procDone:   make(chan struct{}),
		now:        time.Now,
	}
	e.strict.Store(true)
	return e
}

// OnEvent registers the event callback. Set it before Start; handlers run on
// engine goroutines and must not block.
func (e *Engine) OnEvent(fn EventFunc) {
	e.onEvent = fn
}

func (e *Engine) emit(ev Event) {
	if e.onEvent != nil {
		e.onEvent(ev)
	}
}

// Start launches the reader and processing goroutines.
func (e *Engine) Start() {
	e.connected.Store(true)
	go e.readLoop()
	go e.processLoop()
}

// Stop cooperatively shuts the engine down: the reader observes the stop
// flag before its next blocking read, teardown waits a bounded grace period,
// then the link is released.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
	e.connected.Store(false)

	select {
	case <-e.readerDone:
	case <-time.After(stopGrace):
		slog.Warn("Reader did not exit within grace period")
	}
	select {
	case <-e.procDone:
	case <-time.After(stopGrace):
	}
	if err := e.link.Close(); err != nil {
		slog.Debug("Link close", "err", err)
	}
}

// readLoop performs blocking reads with a deadline, pushing framed lines
// into the queue. Timeouts are normal; an unrecoverable failure terminates
// this goroutine only and surfaces a disconnect event.
func (e *Engine) readLoop() {
	defer close(e.readerDone)

	buf := make([]byte, 512)
	for {
		select {
		case <-e.stop:
			return
		default:
		}

		if err := e.link.SetReadDeadline(time.Now().Add(e.opts.ReadTimeout)); err != nil {
			slog.Debug("Set read deadline", "err", err)
		}
		n, err := e.link.Read(buf)
		if n > 0 {
			for _, line := range e.framer.Push(buf[:n]) {
				e.queue.Push(line)
			}
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			slog.Error("Read failed, terminating reader", "err", err)
			e.connected.Store(false)
			e.emit(Event{Kind: EventDisconnected, Reason: err.Error()})
			return
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// processLoop drains the queue on a fixed tick and applies each line
// synchronously. All cache, subscription and expectation mutation from
// inbound traffic happens here.
func (e *Engine) processLoop() {
	defer close(e.procDone)

	ticker := time.NewTicker(e.opts.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			for _, line := range e.queue.DrainAll() {
				e.handleLine(line)
			}
		}
	}
}

// handleLine parses and dispatches one inbound line. Every failure here is
// local: the next line is processed regardless, and a rejected or malformed
// message leaves cache and history untouched.
func (e *Engine) handleLine(line string) {
	slog.Debug("RX", "line", line)

	msg, err := proto.ParseLine(line)
	if err != nil {
		slog.Warn("Dropped unparseable line", "err", err)
		return
	}

	switch msg.Type {
	case proto.TypeDiscoverResponse:
		e.handleDiscoverResponse(msg)
	case proto.TypeSubscribeResponse:
		e.handleSubscribeResponse(msg)
	case proto.TypeUnsubscribeResponse:
		e.handleUnsubscribeResponse(msg)
	case proto.TypeState:
		e.handleState(msg)
	case proto.TypeUpdate:
		e.handleUpdate(msg)
	case proto.TypeDiscover, proto.TypeGet, proto.TypeSubscribe,
		proto.TypeUnsubscribe, proto.TypeSet, proto.TypeDelete:
		// outbound-only kinds observed inbound
		slog.Debug("Ignoring inbound command kind", "type", msg.Type)
	default:
		// unrecognized kinds are forward compatibility, not errors
		slog.Debug("Ignoring unknown message kind", "type", msg.Type)
	}
}

func (e *Engine) handleDiscoverResponse(msg proto.Message) {
	if !msg.Found || msg.Schema == nil {
		slog.Info("Discover found nothing", "id", msg.ID)
		return
	}
	if err := msg.Schema.Validate(); err != nil {
		slog.Warn("Dropped discover.response with malformed schema", "id", msg.ID, "err", err)
		return
	}
	// the schema's declared name is authoritative, not the request path
	name := msg.Schema.Name
	e.cache.SetSchema(name, msg.Schema)
	e.emit(Event{Kind: EventSchemaKnown, Path: name, Schema: msg.Schema})
	if e.subs.Contains(name) {
		e.emit(Event{Kind: EventTypeKnown, Path: name, DisplayKind: DisplayObject})
	}
}

func (e *Engine) handleSubscribeResponse(msg proto.Message) {
	if msg.Path == "" {
		slog.Warn("Dropped subscribe.response without path", "id", msg.ID)
		return
	}
	if msg.Error != "" {
		slog.Warn("Device rejected subscribe", "path", msg.Path, "error", msg.Error)
		return
	}
	// membership was set optimistically at send time; only derive a display
	// kind from what the cache already knows
	e.emit(Event{Kind: EventSubscribed, Path: msg.Path})
	if kind := e.displayKindFor(msg.Path); kind != DisplayNone {
		e.emit(Event{Kind: EventTypeKnown, Path: msg.Path, DisplayKind: kind})
	}
}

func (e *Engine) handleUnsubscribeResponse(msg proto.Message) {
	if msg.Path == "" {
		slog.Warn("Dropped unsubscribe.response without path", "id", msg.ID)
		return
	}
	e.subs.Remove(msg.Path)
	e.expect.Clear(msg.Path)
	e.emit(Event{Kind: EventUnsubscribed, Path: msg.Path})
	e.emit(Event{Kind: EventTypeKnown, Path: msg.Path, DisplayKind: DisplayUnsubscribed})
}

func (e *Engine) handleState(msg proto.Message) {
	if msg.Path == "" {
		slog.Warn("Dropped state without path", "id", msg.ID)
		return
	}
	switch {
	case msg.HasValue():
		value, err := msg.DecodeValue()
		if err != nil {
			slog.Warn("Dropped state with malformed value", "path", msg.Path, "err", err)
			return
		}
		changed := e.cache.Replace(msg.Path, value)
		e.emit(Event{Kind: EventStateReplaced, Path: msg.Path, Value: value, ChangedFields: changed})
		// display kind is gated on subscription; the cache keeps the value
		// either way, only the shown type is suppressed
		if e.subs.Contains(msg.Path) {
			e.emit(Event{Kind: EventTypeKnown, Path: msg.Path, DisplayKind: e.displayKindFor(msg.Path)})
		} else {
			e.emit(Event{Kind: EventTypeKnown, Path: msg.Path, DisplayKind: DisplayNone})
		}
	case msg.HasChanges():
		changes, err := msg.DecodeChanges()
		if err != nil {
			slog.Warn("Dropped state with malformed changes", "path", msg.Path, "err", err)
			return
		}
		changed := e.cache.MergeDelta(msg.Path, changes)
		e.emit(Event{Kind: EventStateMerged, Path: msg.Path, ChangedFields: changed})
	default:
		slog.Warn("Dropped state with neither value nor changes", "path", msg.Path)
	}
}

func (e *Engine) handleUpdate(msg proto.Message) {
	if msg.Path == "" {
		slog.Warn("Dropped update without path", "id", msg.ID)
		return
	}
	now := e.now()
	if e.strict.Load() && !e.subs.Contains(msg.Path) && !e.expect.IsLive(msg.Path, now) {
		slog.Info("Ignored unsolicited update", "path", msg.Path)
		e.emit(Event{Kind: EventUnsolicited, Path: msg.Path})
		return
	}
	if !msg.HasChanges() {
		slog.Warn("Dropped update without changes", "path", msg.Path)
		return
	}
	changes, err := msg.DecodeChanges()
	if err != nil {
		slog.Warn("Dropped update with malformed changes", "path", msg.Path, "err", err)
		return
	}
	// an admitted update consumes its expectation entry
	e.expect.Clear(msg.Path)
	changed := e.cache.MergeDelta(msg.Path, changes)
	e.emit(Event{Kind: EventStateMerged, Path: msg.Path, ChangedFields: changed})
}

// displayKindFor derives the shown type from current cache knowledge:
// schema known means "object", state known without a schema means "state".
func (e *Engine) displayKindFor(path string) string {
	if _, ok := e.cache.Schema(path); ok {
		return DisplayObject
	}
	if _, ok := e.cache.Object(path); ok {
		return DisplayState
	}
	return DisplayNone
}

// send serializes a command to the wire and notes the expectation window for
// request kinds whose replies may arrive as unsolicited-looking updates.
func (e *Engine) send(msg proto.Message) error {
	if !e.connected.Load() {
		e.emit(Event{Kind: EventSendFailed, Path: msg.Path, Reason: "not connected"})
		return ErrNotConnected
	}
	data, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}

	e.writeMu.Lock()
	_, werr := e.link.Write(data)
	e.writeMu.Unlock()
	if werr != nil {
		e.emit(Event{Kind: EventSendFailed, Path: msg.Path, Reason: werr.Error()})
		return fmt.Errorf("write %s: %w", msg.Type, werr)
	}

	switch msg.Type {
	case proto.TypeDiscover, proto.TypeGet, proto.TypeSubscribe:
		if msg.Path != "" {
			e.expect.Note(msg.Path, e.now())
		}
	}
	slog.Debug("TX", "type", msg.Type, "path", msg.Path, "id", msg.ID)
	return nil
}

// Discover requests the schema for path.
func (e *Engine) Discover(path string) error {
	return e.send(proto.Message{ID: "discover-" + path, Type: proto.TypeDiscover, Path: path})
}

// Get requests a full state snapshot for path.
func (e *Engine) Get(path string) error {
	return e.send(proto.Message{ID: "get-" + path, Type: proto.TypeGet, Path: path})
}

// GetRange requests a slice of an array-valued field.
func (e *Engine) GetRange(path string, offset, limit int) error {
	return e.send(proto.Message{
		ID:     fmt.Sprintf("get-%s-%d", path, offset),
		Type:   proto.TypeGet,
		Path:   path,
		Offset: offset,
		Limit:  limit,
	})
}

// Subscribe adds path to the subscription set optimistically and asks the
// device for change notifications.
func (e *Engine) Subscribe(path string) error {
	e.subs.Add(path)
	return e.send(proto.Message{ID: "sub-" + path, Type: proto.TypeSubscribe, Path: path})
}

// Unsubscribe removes path from the subscription set at send time and clears
// any expectation window so further updates are ignored immediately.
func (e *Engine) Unsubscribe(path string) error {
	e.subs.Remove(path)
	e.expect.Clear(path)
	return e.send(proto.Message{ID: "unsub-" + path, Type: proto.TypeUnsubscribe, Path: path})
}

// Set writes field changes to the device. Effects come back as update/state
// messages; the local cache is never mutated here.
func (e *Engine) Set(path string, changes map[string]any) error {
	msg := proto.Message{
		ID:   fmt.Sprintf("set-%s-%s", path, uuid.NewString()[:8]),
		Type: proto.TypeSet,
		Path: path,
	}
	if err := msg.EncodeChanges(changes); err != nil {
		return fmt.Errorf("encode changes: %w", err)
	}
	return e.send(msg)
}

// Delete asks the device to delete one field of an object.
func (e *Engine) Delete(path, field string) error {
	return e.send(proto.Message{
		ID:    fmt.Sprintf("del-%s-%s", path, field),
		Type:  proto.TypeDelete,
		Path:  path,
		Field: field,
	})
}

// RestoreSubscriptions replays a persisted subscription list after link
// establishment: subscribe, then discover, then get per path, staggered so
// the burst does not overwhelm the device.
func (e *Engine) RestoreSubscriptions(paths []string) {
	reqs := make([]Request, 0, len(paths)*3)
	for _, p := range paths {
		e.subs.Add(p)
		reqs = append(reqs,
			Request{Kind: proto.TypeSubscribe, Path: p},
			Request{Kind: proto.TypeDiscover, Path: p},
			Request{Kind: proto.TypeGet, Path: p},
		)
	}
	e.throttle.Stagger(reqs, e.fireBurstRequest)
}

// fireBurstRequest runs when a staggered timer fires. It re-checks current
// connection and subscription state, which stands in for hard cancellation.
func (e *Engine) fireBurstRequest(req Request) {
	if !e.connected.Load() {
		return
	}
	if !e.subs.Contains(req.Path) {
		return
	}
	var err error
	switch req.Kind {
	case proto.TypeSubscribe:
		err = e.send(proto.Message{ID: "sub-" + req.Path, Type: proto.TypeSubscribe, Path: req.Path})
	case proto.TypeDiscover:
		err = e.Discover(req.Path)
	case proto.TypeGet:
		err = e.Get(req.Path)
	}
	if err != nil {
		slog.Warn("Burst request failed", "kind", req.Kind, "path", req.Path, "err", err)
	}
}

// SetStrict toggles strict filtering of unsolicited updates at runtime.
func (e *Engine) SetStrict(strict bool) {
	e.strict.Store(strict)
}

func (e *Engine) Strict() bool {
	return e.strict.Load()
}

func (e *Engine) Connected() bool {
	return e.connected.Load()
}

// Read-side accessors for view collaborators.

func (e *Engine) Object(path string) (any, bool) {
	return e.cache.Object(path)
}

func (e *Engine) Objects() []string {
	return e.cache.Paths()
}

func (e *Engine) Schema(path string) (*proto.Schema, bool) {
	return e.cache.Schema(path)
}

func (e *Engine) History(path, field string) []HistoryEntry {
	return e.cache.History(path, field)
}

func (e *Engine) HistoryFields(path string) []string {
	return e.cache.HistoryFields(path)
}

func (e *Engine) IsSubscribed(path string) bool {
	return e.subs.Contains(path)
}

func (e *Engine) Subscriptions() []string {
	return e.subs.List()
}

// DisplayKind reports the type a view should show for path, applying the
// same subscription gating as type-known events.
func (e *Engine) DisplayKind(path string) string {
	if !e.subs.Contains(path) {
		return DisplayNone
	}
	return e.displayKindFor(path)
}

// Evict drops a cached object and its history on behalf of a view
// collaborator removing an expression.
func (e *Engine) Evict(path string) {
	e.cache.Evict(path)
}
