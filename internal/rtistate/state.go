// Package rtistate implements the bounded thread/turn/item projection and
// the pure envelope reducer that folds inbound envelopes into it.
package rtistate

import (
	"encoding/json"
	"sort"
	"unicode/utf8"

	"github.com/dkoosis/agentrt/internal/rtiwire"
)

// TurnStatus is the lifecycle state of one turn.
type TurnStatus int

const (
	TurnInProgress TurnStatus = iota
	TurnCompleted
	TurnFailed
	TurnInterrupted
)

// Caps bounds the projection's retention. A field <= 0 disables the
// corresponding limit.
type Caps struct {
	MaxThreads       int
	MaxTurnsPerThread int
	MaxItemsPerTurn   int
	MaxAccumBytes     int
}

// DefaultCaps mirrors commonly-sized defaults; callers should tune these
// via RuntimeConfig for their workload.
func DefaultCaps() Caps {
	return Caps{MaxThreads: 64, MaxTurnsPerThread: 32, MaxItemsPerTurn: 256, MaxAccumBytes: 64 * 1024}
}

// Accumulator is an append-only, byte-capped text buffer with UTF-8
// boundary-safe truncation.
type Accumulator struct {
	Text      string
	Truncated bool
}

func (a *Accumulator) appendCapped(delta string, capBytes int) {
	if capBytes <= 0 {
		a.Text += delta
		return
	}
	if len(a.Text) >= capBytes {
		a.Truncated = true
		return
	}
	remaining := capBytes - len(a.Text)
	if len(delta) <= remaining {
		a.Text += delta
		return
	}
	truncated := delta[:remaining]
	for len(truncated) > 0 && !utf8.ValidString(truncated) {
		truncated = truncated[:len(truncated)-1]
	}
	a.Text += truncated
	a.Truncated = true
}

// Item is one streamed unit inside a turn.
type Item struct {
	ID          string
	ItemType    string
	LastSeq     uint64
	Started     json.RawMessage
	Completed   json.RawMessage
	TextAccum   Accumulator
	StdoutAccum Accumulator
	StderrAccum Accumulator
}

// Turn is a single prompt/response cycle within a thread.
type Turn struct {
	ID           string
	Status       TurnStatus
	LastSeq      uint64
	Items        map[string]*Item
	ItemOrder    []string
	TerminalErr  json.RawMessage
}

// Thread is a persistent conversation identifier on the agent server.
type Thread struct {
	ID         string
	ActiveTurn string
	Turns      map[string]*Turn
	TurnOrder  []string
	LastDiff   json.RawMessage
	LastPlan   json.RawMessage
	LastSeq    uint64
}

// State is the bounded projection of all live threads.
type State struct {
	Threads     map[string]*Thread
	ThreadOrder []string
}

// New returns an empty projection.
func New() *State {
	return &State{Threads: make(map[string]*Thread)}
}

// Clone returns a shallow copy sufficient for reference-counted-snapshot
// handout: callers only ever read through a Clone, and the reducer always
// mutates a fresh one, so no deep copy of accumulators is required.
func (s *State) Clone() *State {
	out := &State{Threads: make(map[string]*Thread, len(s.Threads)), ThreadOrder: append([]string(nil), s.ThreadOrder...)}
	for k, v := range s.Threads {
		out.Threads[k] = v
	}
	return out
}

type errorParams struct {
	Code    *int    `json:"code"`
	Message *string `json:"message"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Reduce folds one envelope into state in place, then applies retention
// caps scoped to the touched thread. It is the only mutator of State.
func Reduce(s *State, env *rtiwire.Envelope, caps Caps) {
	var params json.RawMessage
	_ = json.Unmarshal(env.Raw, &struct {
		Params *json.RawMessage `json:"params"`
	}{Params: &params})

	switch env.Method {
	case "thread/started":
		th := ensureThread(s, env.ThreadID)
		th.LastSeq = env.Seq

	case "turn/started":
		th := ensureThread(s, env.ThreadID)
		th.ActiveTurn = env.TurnID
		th.LastSeq = env.Seq
		turn := ensureTurn(th, env.TurnID)
		turn.Status = TurnInProgress
		turn.LastSeq = env.Seq

	case "turn/completed", "turn/failed", "turn/interrupted":
		th, ok := s.Threads[env.ThreadID]
		if !ok {
			break
		}
		if th.ActiveTurn == env.TurnID {
			th.ActiveTurn = ""
		}
		th.LastSeq = env.Seq
		turn := ensureTurn(th, env.TurnID)
		turn.LastSeq = env.Seq
		switch env.Method {
		case "turn/completed":
			turn.Status = TurnCompleted
		case "turn/failed":
			turn.Status = TurnFailed
			turn.TerminalErr = params
		case "turn/interrupted":
			turn.Status = TurnInterrupted
		}

	case "turn/diff/updated":
		th, ok := s.Threads[env.ThreadID]
		if !ok {
			break
		}
		var p struct {
			Diff json.RawMessage `json:"diff"`
		}
		_ = json.Unmarshal(params, &p)
		th.LastDiff = p.Diff
		th.LastSeq = env.Seq

	case "turn/plan/updated":
		th, ok := s.Threads[env.ThreadID]
		if !ok {
			break
		}
		th.LastPlan = params
		th.LastSeq = env.Seq

	case "item/started":
		th, ok := s.Threads[env.ThreadID]
		if !ok {
			break
		}
		turn := ensureTurn(th, env.TurnID)
		item := ensureItem(turn, env.ItemID)
		var p struct {
			ItemType string `json:"itemType"`
		}
		_ = json.Unmarshal(params, &p)
		item.ItemType = p.ItemType
		item.Started = params
		item.LastSeq = env.Seq
		turn.LastSeq = env.Seq
		th.LastSeq = env.Seq

	case "item/agentMessage/delta":
		th, ok := s.Threads[env.ThreadID]
		if !ok {
			break
		}
		turn := ensureTurn(th, env.TurnID)
		item := ensureItem(turn, env.ItemID)
		var p struct {
			Delta string `json:"delta"`
		}
		_ = json.Unmarshal(params, &p)
		item.TextAccum.appendCapped(p.Delta, caps.MaxAccumBytes)
		item.LastSeq = env.Seq
		turn.LastSeq = env.Seq
		th.LastSeq = env.Seq

	case "item/commandExecution/outputDelta":
		th, ok := s.Threads[env.ThreadID]
		if !ok {
			break
		}
		turn := ensureTurn(th, env.TurnID)
		item := ensureItem(turn, env.ItemID)
		var p struct {
			Stdout string `json:"stdout"`
			Stderr string `json:"stderr"`
		}
		_ = json.Unmarshal(params, &p)
		if p.Stdout != "" {
			item.StdoutAccum.appendCapped(p.Stdout, caps.MaxAccumBytes)
		}
		if p.Stderr != "" {
			item.StderrAccum.appendCapped(p.Stderr, caps.MaxAccumBytes)
		}
		item.LastSeq = env.Seq
		turn.LastSeq = env.Seq
		th.LastSeq = env.Seq

	case "item/completed":
		th, ok := s.Threads[env.ThreadID]
		if !ok {
			break
		}
		turn := ensureTurn(th, env.TurnID)
		item := ensureItem(turn, env.ItemID)
		item.Completed = params
		item.LastSeq = env.Seq
		turn.LastSeq = env.Seq
		th.LastSeq = env.Seq
	}

	if th, ok := s.Threads[env.ThreadID]; ok {
		prune(s, th, caps)
	}
	pruneThreads(s, caps)
}

func ensureThread(s *State, id string) *Thread {
	if th, ok := s.Threads[id]; ok {
		return th
	}
	th := &Thread{ID: id, Turns: make(map[string]*Turn)}
	s.Threads[id] = th
	s.ThreadOrder = append(s.ThreadOrder, id)
	return th
}

func ensureTurn(th *Thread, id string) *Turn {
	if turn, ok := th.Turns[id]; ok {
		return turn
	}
	turn := &Turn{ID: id, Items: make(map[string]*Item)}
	th.Turns[id] = turn
	th.TurnOrder = append(th.TurnOrder, id)
	return turn
}

func ensureItem(turn *Turn, id string) *Item {
	if item, ok := turn.Items[id]; ok {
		return item
	}
	item := &Item{ID: id}
	turn.Items[id] = item
	turn.ItemOrder = append(turn.ItemOrder, id)
	return item
}

// pruneThreads evicts the threads with the smallest LastSeq until the
// thread count is within cap.
func pruneThreads(s *State, caps Caps) {
	if caps.MaxThreads <= 0 || len(s.Threads) <= caps.MaxThreads {
		return
	}
	type entry struct {
		id  string
		seq uint64
	}
	entries := make([]entry, 0, len(s.Threads))
	for id, th := range s.Threads {
		entries = append(entries, entry{id, th.LastSeq})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	evict := len(entries) - caps.MaxThreads
	evicted := make(map[string]bool, evict)
	for i := 0; i < evict; i++ {
		evicted[entries[i].id] = true
		delete(s.Threads, entries[i].id)
	}
	kept := s.ThreadOrder[:0]
	for _, id := range s.ThreadOrder {
		if !evicted[id] {
			kept = append(kept, id)
		}
	}
	s.ThreadOrder = kept
}

// prune evicts turns (protecting the active turn) and, per touched turn,
// evicts items, both by smallest LastSeq.
func prune(s *State, th *Thread, caps Caps) {
	if caps.MaxTurnsPerThread > 0 && len(th.Turns) > caps.MaxTurnsPerThread {
		type entry struct {
			id  string
			seq uint64
		}
		entries := make([]entry, 0, len(th.Turns))
		for id, turn := range th.Turns {
			if id == th.ActiveTurn {
				continue
			}
			entries = append(entries, entry{id, turn.LastSeq})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

		overflow := len(th.Turns) - caps.MaxTurnsPerThread
		evicted := make(map[string]bool)
		for i := 0; i < overflow && i < len(entries); i++ {
			evicted[entries[i].id] = true
			delete(th.Turns, entries[i].id)
		}
		kept := th.TurnOrder[:0]
		for _, id := range th.TurnOrder {
			if !evicted[id] {
				kept = append(kept, id)
			}
		}
		th.TurnOrder = kept
	}

	for _, turn := range th.Turns {
		if caps.MaxItemsPerTurn <= 0 || len(turn.Items) <= caps.MaxItemsPerTurn {
			continue
		}
		type entry struct {
			id  string
			seq uint64
		}
		entries := make([]entry, 0, len(turn.Items))
		for id, item := range turn.Items {
			entries = append(entries, entry{id, item.LastSeq})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

		overflow := len(turn.Items) - caps.MaxItemsPerTurn
		evicted := make(map[string]bool)
		for i := 0; i < overflow; i++ {
			evicted[entries[i].id] = true
			delete(turn.Items, entries[i].id)
		}
		kept := turn.ItemOrder[:0]
		for _, id := range turn.ItemOrder {
			if !evicted[id] {
				kept = append(kept, id)
			}
		}
		turn.ItemOrder = kept
	}
}

// ExtractErrorSignal tolerates both params.error.{code,message} and
// params.{code,message} shapes when recovering a terminal-error signal.
func ExtractErrorSignal(raw json.RawMessage) (code int, message string, ok bool) {
	var p errorParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return 0, "", false
	}
	if p.Error != nil {
		return p.Error.Code, p.Error.Message, true
	}
	if p.Code != nil && p.Message != nil {
		return *p.Code, *p.Message, true
	}
	return 0, "", false
}
