// Package raft runs a Raft consensus group under the glitch simulator. The
// state machine is pure: it consumes ticks and messages and returns state
// updates, outbound messages, and newly committed entries. Clients submit
// commands as ordinary protocol messages, so the whole group can be driven
// through the simulated network, crashed, partitioned, and replayed from a
// seed.
package raft

import (
	"fmt"

	"github.com/codekitchen/glitch"
)

type Term uint64

const NoNode = -1

// PersistentState is what a node writes down before answering an RPC and
// what survives a crash.
type PersistentState struct {
	CurrentTerm Term
	Log         []Entry
	VotedFor    int
}

type Entry struct {
	Term   Term
	Cmd    []byte
	Client glitch.Endpoint
	Seq    uint64
}

type EntryInfo struct {
	Term  Term
	Index int
}

var NoEntry = EntryInfo{Term: 0, Index: -1}

func (e EntryInfo) GTE(other EntryInfo) bool {
	return e.Term > other.Term || (e.Term == other.Term && e.Index >= other.Index)
}

type Role string

const (
	Follower  Role = "follower"
	Candidate Role = "candidate"
	Leader    Role = "leader"
)

// Member tracks what this node knows about one cluster member, itself
// included.
type Member struct {
	id         int
	nextIndex  int
	matchIndex int
	votedFor   int
}

// Raft is a single consensus participant, implemented as a pure state
// machine: not safe for concurrent use, and it never blocks.
type Raft struct {
	id int
	// persistent state
	currentTerm Term
	log         []Entry
	// volatile state
	committedLength int
	appliedLength   int
	members         []*Member
	selfMember      *Member
	role            Role
	leaderID        int
	// ticks since the last heard-from-leader or sent-heartbeat reset
	heartBeatTick       uint
	electionTimeoutTick uint
	ticks               uint
}

type Config struct {
	ID          int
	ClusterSize int
	// HeartBeatTick and ElectionTimeoutTick are in units of simulator
	// ticks. Election timeouts must differ between nodes or elections
	// never converge; Node staggers them by id.
	HeartBeatTick       uint
	ElectionTimeoutTick uint
	Restore             *PersistentState
}

func New(config Config) *Raft {
	r := &Raft{
		id:          config.ID,
		currentTerm: 1,
		members:     make([]*Member, config.ClusterSize),
		role:        Follower,
		leaderID:    NoNode,

		heartBeatTick:       1,
		electionTimeoutTick: 10,
	}
	if config.HeartBeatTick > 0 {
		r.heartBeatTick = config.HeartBeatTick
	}
	if config.ElectionTimeoutTick > 0 {
		r.electionTimeoutTick = config.ElectionTimeoutTick
	}
	for i := range r.members {
		r.members[i] = &Member{
			id:         i,
			nextIndex:  0,
			matchIndex: -1,
			votedFor:   NoNode,
		}
	}
	r.selfMember = r.members[config.ID]

	if config.Restore != nil {
		r.currentTerm = config.Restore.CurrentTerm
		r.log = config.Restore.Log
		r.selfMember.votedFor = config.Restore.VotedFor
	}

	return r
}

func (r *Raft) IsLeader() bool { return r.role == Leader }
func (r *Raft) LeaderID() int  { return r.leaderID }
func (r *Raft) Term() Term     { return r.currentTerm }

// Message is the wire format between cluster members and clients.
type Message struct {
	From, To glitch.Endpoint
	Term     Term
	Contents RPC
}

func (m Message) Source() glitch.Endpoint      { return m.From }
func (m Message) Destination() glitch.Endpoint { return m.To }

// Verbose union: precludes invalid RPCs the same way the event union does.
type RPC interface {
	isRaftRPC()
}

type RequestVote struct {
	LastLogEntry EntryInfo
}

type RequestVoteResponse struct {
	VoteGranted bool
}

type AppendEntries struct {
	PrevLogEntry          EntryInfo
	Entries               []Entry
	LeaderCommittedLength int
}

type AppendEntriesResponse struct {
	Success          bool
	LastIndexApplied int
	// The leader doesn't track whether a request carried entries or was a
	// bare heartbeat, so the follower relays that back.
	SentEntries bool
}

// Command submits a client operation. A non-leader forwards it to the
// leader it knows about, or drops it and lets the client retry.
type Command struct {
	Cmd []byte
	Seq uint64
}

// Reply acknowledges a committed command back to the submitting client.
type Reply struct {
	Seq uint64
}

func (*RequestVote) isRaftRPC()           {}
func (*RequestVoteResponse) isRaftRPC()   {}
func (*AppendEntries) isRaftRPC()         {}
func (*AppendEntriesResponse) isRaftRPC() {}
func (*Command) isRaftRPC()               {}
func (*Reply) isRaftRPC()                 {}

// Updates is everything a single event produced: state to persist before
// any message leaves the node, entries newly ready to apply, and outbound
// messages.
type Updates struct {
	Persist  *PersistentState
	Apply    []Entry
	Outgoing []Message
}

// HandleTick advances timers: leaders heartbeat, everyone else eventually
// starts an election.
func (r *Raft) HandleTick() Updates {
	var updates Updates
	r.ticks++
	if r.role == Leader && r.ticks >= r.heartBeatTick {
		updates.Outgoing = r.sendHeartbeat()
	} else if r.ticks >= r.electionTimeoutTick {
		updates.Outgoing = r.startElection()
	}
	r.collectApplies(&updates)
	return updates
}

// HandleMessage processes one delivered message.
func (r *Raft) HandleMessage(msg Message) Updates {
	var updates Updates
	var out []Message

	if cmd, ok := msg.Contents.(*Command); ok {
		// Client commands carry no meaningful term and are never stale.
		updates.Outgoing = r.handleCommand(msg, cmd)
		updates.Persist = &PersistentState{
			CurrentTerm: r.currentTerm,
			Log:         r.log,
			VotedFor:    r.selfMember.votedFor,
		}
		r.collectApplies(&updates)
		return updates
	}

	// A request with a stale term number is rejected outright.
	if msg.Term < r.currentTerm {
		return updates
	}
	// State must be persisted before any response leaves the node.
	updates.Persist = &PersistentState{
		CurrentTerm: r.currentTerm,
		Log:         r.log,
		VotedFor:    r.selfMember.votedFor,
	}
	if msg.Term > r.currentTerm {
		r.updateTerm(msg.Term)
		r.role = Follower
	}

	switch rpc := msg.Contents.(type) {
	case *RequestVote:
		out = r.handleRequestVote(msg, rpc)
	case *RequestVoteResponse:
		out = r.handleRequestVoteResponse(msg, rpc)
	case *AppendEntries:
		out = r.handleAppendEntries(msg, rpc)
	case *AppendEntriesResponse:
		out = r.handleAppendEntriesResponse(msg, rpc)
	default:
		panic(fmt.Sprintf("invalid RPC passed to HandleMessage %#v", msg.Contents))
	}

	updates.Outgoing = out
	r.collectApplies(&updates)
	return updates
}

func (r *Raft) collectApplies(updates *Updates) {
	if r.appliedLength < r.committedLength {
		updates.Apply = r.log[r.appliedLength:r.committedLength]
		r.appliedLength = r.committedLength
	}
}

func (r *Raft) handleCommand(msg Message, cmd *Command) []Message {
	if r.role == Leader {
		r.log = append(r.log, Entry{
			Term:   r.currentTerm,
			Cmd:    cmd.Cmd,
			Client: msg.From,
			Seq:    cmd.Seq,
		})
		return r.sendHeartbeat()
	}
	if r.leaderID == NoNode {
		// Nobody to forward to; the client's retry will find a leader.
		return nil
	}
	return []Message{{
		From:     glitch.Node(r.id),
		To:       glitch.Node(r.leaderID),
		Term:     r.currentTerm,
		Contents: &Command{Cmd: cmd.Cmd, Seq: cmd.Seq},
	}}
}

func (r *Raft) startElection() []Message {
	r.role = Candidate
	r.updateTerm(r.currentTerm + 1)
	ms := r.gotVote(r.id) // our own vote
	ms = append(ms, r.sendToAllButSelf(&RequestVote{
		LastLogEntry: r.logStatus(),
	})...)
	return ms
}

func (r *Raft) sendToAllButSelf(rpc RPC) []Message {
	var ms []Message
	for _, m := range r.members {
		if m == r.selfMember {
			continue
		}
		ms = append(ms, Message{
			From:     glitch.Node(r.id),
			To:       glitch.Node(m.id),
			Term:     r.currentTerm,
			Contents: rpc,
		})
	}
	return ms
}

func (r *Raft) handleRequestVote(msg Message, req *RequestVote) []Message {
	res := &RequestVoteResponse{}
	ms := []Message{{
		From:     glitch.Node(r.id),
		To:       msg.From,
		Term:     r.currentTerm,
		Contents: res,
	}}
	// Grant the vote if we haven't voted for someone else this term and
	// the candidate's log is at least as up to date as ours.
	if r.selfMember.votedFor == NoNode || r.selfMember.votedFor == msg.From.Index() {
		if req.LastLogEntry.GTE(r.logStatus()) {
			res.VoteGranted = true
			r.ticks = 0
			r.selfMember.votedFor = msg.From.Index()
		}
	}
	return ms
}

func (r *Raft) handleRequestVoteResponse(msg Message, req *RequestVoteResponse) []Message {
	if r.role != Candidate {
		return nil
	}
	if req.VoteGranted {
		return r.gotVote(msg.From.Index())
	}
	return nil
}

func (r *Raft) gotVote(from int) []Message {
	r.members[from].votedFor = r.id
	if r.voteCount(r.id) >= r.quorumSize() {
		r.winElection()
		return r.sendHeartbeat()
	}
	return nil
}

func (r *Raft) voteCount(forNode int) int {
	count := 0
	for _, m := range r.members {
		if m.votedFor == forNode {
			count++
		}
	}
	return count
}

func (r *Raft) handleAppendEntries(msg Message, req *AppendEntries) []Message {
	res := &AppendEntriesResponse{}
	ms := []Message{{
		From:     glitch.Node(r.id),
		To:       msg.From,
		Term:     r.currentTerm,
		Contents: res,
	}}

	if r.role == Candidate {
		// AppendEntries from the new leader: stand down.
		r.role = Follower
	}
	r.ticks = 0
	r.leaderID = msg.From.Index()

	if !r.hasMatchingLogEntry(req.PrevLogEntry) {
		return ms
	}

	// An existing entry conflicting with a new one (same index, different
	// terms) invalidates it and everything after it.
	for i, e := range req.Entries {
		existingIdx := req.PrevLogEntry.Index + 1 + i
		if existingIdx >= len(r.log) {
			break
		}
		if r.log[existingIdx].Term != e.Term {
			r.log = r.log[0:existingIdx]
			break
		}
	}

	r.log = appendNewEntries(r.log, req.PrevLogEntry.Index+1, req.Entries)
	r.selfMember.matchIndex = len(r.log) - 1

	if req.LeaderCommittedLength > r.committedLength {
		r.committedLength = min(req.LeaderCommittedLength, len(r.log))
	}

	if len(req.Entries) > 0 {
		res.SentEntries = true
		res.LastIndexApplied = len(r.log) - 1
	}
	res.Success = true
	return ms
}

func appendNewEntries[T any](log []T, firstNewIdx int, newEntries []T) []T {
	alreadyHave := len(log) - firstNewIdx
	if alreadyHave < len(newEntries) {
		log = append(log, newEntries[alreadyHave:]...)
	}
	return log
}

func (r *Raft) hasMatchingLogEntry(entry EntryInfo) bool {
	if entry == NoEntry {
		return true
	}
	if entry.Index >= len(r.log) {
		return false
	}
	return r.log[entry.Index].Term == entry.Term
}

func (r *Raft) handleAppendEntriesResponse(msg Message, req *AppendEntriesResponse) []Message {
	m := r.members[msg.From.Index()]
	if req.Success {
		if req.SentEntries {
			m.matchIndex = req.LastIndexApplied
			m.nextIndex = req.LastIndexApplied + 1
		}
	} else {
		m.nextIndex = max(0, m.nextIndex-1)
	}
	r.checkForCommits()
	return nil
}

func (r *Raft) checkForCommits() {
	// Find the highest N past the current commit point where a majority
	// matches and the entry is from this term.
	for n := len(r.log) - 1; n > r.committedLength-1; n-- {
		if r.log[n].Term != r.currentTerm {
			break
		}
		count := 0
		for _, m := range r.members {
			if m.matchIndex >= n {
				count++
			}
		}
		if count >= r.quorumSize() {
			r.committedLength = n + 1
			break
		}
	}
}

func (r *Raft) logStatus() EntryInfo {
	if len(r.log) == 0 {
		return NoEntry
	}
	return EntryInfo{
		Term:  r.log[len(r.log)-1].Term,
		Index: len(r.log) - 1,
	}
}

func (r *Raft) winElection() {
	r.role = Leader
	r.leaderID = r.id
	for _, m := range r.members {
		m.nextIndex = len(r.log)
		m.matchIndex = -1
	}
}

func (r *Raft) quorumSize() int {
	return quorumSize(len(r.members))
}

func quorumSize(n int) int {
	return n/2 + 1
}

func (r *Raft) updateTerm(term Term) {
	r.currentTerm = term
	r.ticks = 0
	for _, m := range r.members {
		m.votedFor = NoNode
	}
}

// CommittedLog returns the committed (not necessarily applied) prefix.
func (r *Raft) CommittedLog() []Entry {
	return r.log[0:r.committedLength]
}

// Log returns the full log, committed or not.
func (r *Raft) Log() []Entry { return r.log }

// sendHeartbeat always replicates outstanding entries as well, so the
// leader keeps retrying replication when a follower doesn't respond.
func (r *Raft) sendHeartbeat() []Message {
	r.ticks = 0

	var ms []Message
	for _, m := range r.members {
		if m.id == r.id {
			continue
		}
		rpc := &AppendEntries{
			LeaderCommittedLength: r.committedLength,
			PrevLogEntry:          NoEntry,
		}
		rpc.Entries = r.log[m.nextIndex:]
		prevIndex := m.nextIndex - 1
		if prevIndex >= 0 {
			rpc.PrevLogEntry = EntryInfo{
				Index: prevIndex,
				Term:  r.log[prevIndex].Term,
			}
		}
		ms = append(ms, Message{
			From:     glitch.Node(r.id),
			To:       glitch.Node(m.id),
			Term:     r.currentTerm,
			Contents: rpc,
		})
	}
	return ms
}
